package market

import (
	"math"

	"github.com/efreitasn/gridmarket/internal/domain"
)

// OpenOffers returns the open offers sorted by ascending rate, ties in
// posting order.
func (m *Market) OpenOffers() []*domain.Offer {
	offers := make([]*domain.Offer, 0, m.offerBook.len())
	m.offerBook.ascend(func(e bookEntry) bool {
		offers = append(offers, m.offers[e.ID])
		return true
	})
	return offers
}

// OpenBids returns the open bids sorted by descending rate, ties in posting
// order.
func (m *Market) OpenBids() []*domain.Bid {
	bids := make([]*domain.Bid, 0, m.bidBook.len())
	m.bidBook.ascend(func(e bookEntry) bool {
		bids = append(bids, m.bids[e.ID])
		return true
	})
	return bids
}

// LookupOffer returns the open offer with the given id, if any.
func (m *Market) LookupOffer(id string) (*domain.Offer, bool) {
	o, ok := m.offers[id]
	return o, ok
}

// LookupBid returns the open bid with the given id, if any.
func (m *Market) LookupBid(id string) (*domain.Bid, bool) {
	b, ok := m.bids[id]
	return b, ok
}

// MostAffordableOffers returns all open offers tied at the lowest rate.
func (m *Market) MostAffordableOffers() []*domain.Offer {
	var cheapest []*domain.Offer
	var bestRate float64
	m.offerBook.ascend(func(e bookEntry) bool {
		o := m.offers[e.ID]
		if len(cheapest) == 0 {
			bestRate = o.EnergyRate()
		} else if !domain.Close(o.EnergyRate(), bestRate) {
			return false
		}
		cheapest = append(cheapest, o)
		return true
	})
	return cheapest
}

// Trades returns the trade log in execution order.
func (m *Market) Trades() []*domain.Trade {
	return m.trades
}

// OfferHistory returns every offer ever posted to the market, including
// traded and deleted ones. Residuals from splits are included; the accepted
// halves are not, since they reuse the original entry's id.
func (m *Market) OfferHistory() []*domain.Offer {
	return m.offerHistory
}

// BidHistory returns every bid ever posted to the market.
func (m *Market) BidHistory() []*domain.Bid {
	return m.bidHistory
}

// TradedEnergy returns the signed traded energy of a trader in this market,
// positive when net selling.
func (m *Market) TradedEnergy(name string) float64 {
	return m.tradedEnergy[name]
}

// SoldEnergy returns the total energy a trader sold in this market.
func (m *Market) SoldEnergy(name string) float64 {
	var total float64
	for _, t := range m.trades {
		if t.Seller.Name == name {
			total += t.TradedEnergy
		}
	}
	return total
}

// BoughtEnergy returns the total energy a trader bought in this market.
func (m *Market) BoughtEnergy(name string) float64 {
	var total float64
	for _, t := range m.trades {
		if t.Buyer.Name == name {
			total += t.TradedEnergy
		}
	}
	return total
}

// TotalSpent returns the total amount a trader paid in this market, in cents.
func (m *Market) TotalSpent(name string) float64 {
	var total float64
	for _, t := range m.trades {
		if t.Buyer.Name == name {
			total += t.TradePrice
		}
	}
	return total
}

// TotalEarned returns the total amount a trader earned in this market, in
// cents.
func (m *Market) TotalEarned(name string) float64 {
	var total float64
	for _, t := range m.trades {
		if t.Seller.Name == name {
			total += t.TradePrice
		}
	}
	return total
}

// AvgOfferPrice returns the energy-weighted average rate of the open offers,
// rounded to four decimals. Zero when the book is empty.
func (m *Market) AvgOfferPrice() float64 {
	var price, energy float64
	for _, o := range m.offers {
		price += o.Price
		energy += o.Energy
	}
	if energy == 0 {
		return 0
	}
	return round4(price / energy)
}

// MinOfferPrice returns the lowest open offer rate, rounded to four
// decimals. Zero when the book is empty.
func (m *Market) MinOfferPrice() float64 {
	e, ok := m.offerBook.best()
	if !ok {
		return 0
	}
	return round4(m.offers[e.ID].EnergyRate())
}

// MaxOfferPrice returns the highest open offer rate, rounded to four
// decimals. Zero when the book is empty.
func (m *Market) MaxOfferPrice() float64 {
	e, ok := m.offerBook.worst()
	if !ok {
		return 0
	}
	return round4(m.offers[e.ID].EnergyRate())
}

// AvgTradePrice returns the energy-weighted average executed rate, rounded
// to four decimals. Zero before the first trade.
func (m *Market) AvgTradePrice() float64 {
	if m.accumulatedTradeEnergy == 0 {
		return 0
	}
	return round4(m.accumulatedTradePrice / m.accumulatedTradeEnergy)
}

// MinTradePrice returns the lowest executed trade rate. Zero before the
// first trade.
func (m *Market) MinTradePrice() float64 {
	if math.IsInf(m.minTradePrice, 1) {
		return 0
	}
	return m.minTradePrice
}

// MaxTradePrice returns the highest executed trade rate.
func (m *Market) MaxTradePrice() float64 {
	return m.maxTradePrice
}

// AccumulatedTradeEnergy returns the total energy executed in this market.
func (m *Market) AccumulatedTradeEnergy() float64 {
	return m.accumulatedTradeEnergy
}

// AccumulatedTradePrice returns the total value executed in this market, in
// cents.
func (m *Market) AccumulatedTradePrice() float64 {
	return m.accumulatedTradePrice
}

// MarketFee returns the total grid fee collected by this market, in cents.
func (m *Market) MarketFee() float64 {
	return m.marketFee
}

// Info is a read-only snapshot of market state and statistics.
type Info struct {
	ID            string             `json:"id"`
	Kind          string             `json:"kind"`
	TimeSlot      string             `json:"time_slot"`
	AreaName      string             `json:"area_name"`
	ReadOnly      bool               `json:"read_only"`
	OpenOffers    int                `json:"open_offers"`
	OpenBids      int                `json:"open_bids"`
	TradeCount    int                `json:"trade_count"`
	TradedEnergy  float64            `json:"traded_energy"`
	TradedValue   float64            `json:"traded_value"`
	MarketFee     float64            `json:"market_fee"`
	AvgTradePrice float64            `json:"avg_trade_price"`
	MinTradePrice float64            `json:"min_trade_price"`
	MaxTradePrice float64            `json:"max_trade_price"`
	AvgOfferPrice float64            `json:"avg_offer_price"`
	MinOfferPrice float64            `json:"min_offer_price"`
	MaxOfferPrice float64            `json:"max_offer_price"`
	EnergyByTrade map[string]float64 `json:"traded_energy_by_trader"`
}

// Info snapshots the market's aggregate state for the observation surface.
func (m *Market) Info() Info {
	byTrader := make(map[string]float64, len(m.tradedEnergy))
	for name, e := range m.tradedEnergy {
		byTrader[name] = e
	}
	return Info{
		ID:            m.ID,
		Kind:          m.Kind.String(),
		TimeSlot:      m.TimeSlot.Format("2006-01-02T15:04"),
		AreaName:      m.AreaName,
		ReadOnly:      m.readonly,
		OpenOffers:    len(m.offers),
		OpenBids:      len(m.bids),
		TradeCount:    len(m.trades),
		TradedEnergy:  m.accumulatedTradeEnergy,
		TradedValue:   m.accumulatedTradePrice,
		MarketFee:     m.marketFee,
		AvgTradePrice: m.AvgTradePrice(),
		MinTradePrice: m.MinTradePrice(),
		MaxTradePrice: m.MaxTradePrice(),
		AvgOfferPrice: m.AvgOfferPrice(),
		MinOfferPrice: m.MinOfferPrice(),
		MaxOfferPrice: m.MaxOfferPrice(),
		EnergyByTrade: byTrader,
	}
}

// Purge drops order books, histories and the trade log. Called when a
// historical market ages out of retention so the memory is reclaimed even if
// a reference to the market outlives the rotation.
func (m *Market) Purge() {
	m.offers = make(map[string]*domain.Offer)
	m.bids = make(map[string]*domain.Bid)
	m.offerBook.clear()
	m.bidBook.clear()
	m.offerHistory = nil
	m.bidHistory = nil
	m.trades = nil
	m.tradedEnergy = make(map[string]float64)
	m.listeners = nil
}
