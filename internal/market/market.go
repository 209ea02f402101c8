// Package market implements the per-slot order book and acceptance API of the
// energy market: posting and deleting offers/bids, full and partial
// acceptance with residual splitting, grid-fee adjustment, aggregate price
// statistics, and event dispatch to listeners.
//
// The core is single-threaded and tick-driven: Market methods are never
// called concurrently. Callers that expose markets to concurrent readers
// (the HTTP observation surface) serialize access at the simulation level.
package market

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/gridmarket/internal/domain"
	"github.com/efreitasn/gridmarket/internal/matching"
)

// Kind is the closed set of market behaviors.
type Kind int

const (
	// OneSided markets accept only sell-side offers; buyers accept directly.
	OneSided Kind = iota + 1
	// TwoSidedPayAsBid markets match bids and offers at the offer's rate.
	TwoSidedPayAsBid
	// TwoSidedPayAsClear markets clear periodically at one uniform rate.
	TwoSidedPayAsClear
)

func (k Kind) String() string {
	switch k {
	case OneSided:
		return "one_sided"
	case TwoSidedPayAsBid:
		return "two_sided_pay_as_bid"
	case TwoSidedPayAsClear:
		return "two_sided_pay_as_clear"
	}
	return "unknown"
}

// TwoSided reports whether the market accepts bids.
func (k Kind) TwoSided() bool {
	return k == TwoSidedPayAsBid || k == TwoSidedPayAsClear
}

// Market owns the order books for one delivery time slot. A market's identity
// is scoped to exactly one slot and never changes after construction. After
// rotation to history every mutating call fails with ErrMarketReadOnly.
type Market struct {
	ID       string
	Kind     Kind
	TimeSlot time.Time
	AreaName string

	fee      GridFee
	readonly bool

	currentTick int

	offers    map[string]*domain.Offer
	bids      map[string]*domain.Bid
	offerBook *book
	bidBook   *book

	offerHistory []*domain.Offer
	bidHistory   []*domain.Bid
	trades       []*domain.Trade

	tradedEnergy map[string]float64 // trader name → signed kWh (sold positive)

	accumulatedTradePrice  float64
	accumulatedTradeEnergy float64
	marketFee              float64
	minTradePrice          float64
	maxTradePrice          float64

	listeners []Listener
	rng       *rand.Rand
}

// New creates an open market for the given slot. seed feeds the listener
// dispatch shuffle; tests inject a fixed seed for reproducible dispatch.
func New(kind Kind, timeSlot time.Time, areaName string, fee GridFee, seed int64) *Market {
	return &Market{
		ID:            uuid.New().String(),
		Kind:          kind,
		TimeSlot:      timeSlot,
		AreaName:      areaName,
		fee:           fee,
		offers:        make(map[string]*domain.Offer),
		bids:          make(map[string]*domain.Bid),
		offerBook:     newBook(offerLess),
		bidBook:       newBook(bidLess),
		tradedEnergy:  make(map[string]float64),
		minTradePrice: math.Inf(1),
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// AddListener subscribes a listener to this market's events.
func (m *Market) AddListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

// notify delivers an event to all listeners in random order. The shuffle is a
// load-bearing fairness guarantee: no listener may depend on registration
// order.
func (m *Market) notify(ev Event) {
	ev.MarketID = m.ID
	shuffled := make([]Listener, len(m.listeners))
	copy(shuffled, m.listeners)
	m.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	for _, l := range shuffled {
		l(ev)
	}
}

// UpdateClock advances the market's view of the simulation tick.
func (m *Market) UpdateClock(tick int) {
	m.currentTick = tick
}

// CurrentTick returns the last tick propagated via UpdateClock.
func (m *Market) CurrentTick() int {
	return m.currentTick
}

// ReadOnly reports whether the market has been rotated to history.
func (m *Market) ReadOnly() bool {
	return m.readonly
}

// MarkReadOnly transitions the market to its historical, immutable state.
// The transition is one-directional and triggered only by market rotation.
func (m *Market) MarkReadOnly() {
	m.readonly = true
}

// Fee returns the market's grid fee policy.
func (m *Market) Fee() GridFee {
	return m.fee
}

// OfferSpec carries the full set of posting parameters. The plain Offer and
// Bid methods cover the caller-facing defaults; splits and inter-area
// forwarding use PostOffer/PostBid directly to control fee adjustment,
// history recording and event dispatch.
type OfferSpec struct {
	ID     string // empty → new uuid
	Price  float64
	Energy float64
	Seller domain.Trader
	// OriginalPrice distinguishes a forwarded order (fee-laden Price, original
	// price carried separately) from a fresh one; nil means Price is original.
	// A pointer, so a forwarded free order keeps its zero original price.
	OriginalPrice *float64
	SkipFee       bool
	SkipHistory   bool
	SkipDispatch  bool
}

// BidSpec mirrors OfferSpec for the buy side.
type BidSpec struct {
	ID            string
	Price         float64
	Energy        float64
	Buyer         domain.Trader
	OriginalPrice *float64
	SkipFee       bool
	SkipHistory   bool
	SkipDispatch  bool
}

// Offer posts a sell order with the market's grid fee applied to the price.
func (m *Market) Offer(price, energy float64, seller domain.Trader) (*domain.Offer, error) {
	return m.PostOffer(OfferSpec{Price: price, Energy: energy, Seller: seller})
}

// PostOffer posts a sell order according to spec.
func (m *Market) PostOffer(spec OfferSpec) (*domain.Offer, error) {
	if m.readonly {
		return nil, domain.ErrMarketReadOnly
	}
	if spec.Energy <= domain.FloatingPointTolerance {
		return nil, fmt.Errorf("%w: offer energy must be positive, got %v",
			domain.ErrNegativeEnergyOrder, spec.Energy)
	}
	originalPrice := spec.Price
	if spec.OriginalPrice != nil {
		originalPrice = *spec.OriginalPrice
	}
	price := spec.Price
	if !spec.SkipFee {
		price = m.fee.ApplyToOfferRate(price/spec.Energy, originalPrice/spec.Energy) * spec.Energy
	}
	if price < 0 {
		return nil, fmt.Errorf("%w: negative offer price after fees", domain.ErrNegativePriceOrder)
	}
	id := spec.ID
	if id == "" {
		id = uuid.New().String()
	}
	offer := &domain.Offer{
		ID:            id,
		TimeSlot:      m.TimeSlot,
		Price:         price,
		Energy:        spec.Energy,
		Seller:        spec.Seller,
		OriginalPrice: originalPrice,
	}
	m.offers[id] = offer
	m.offerBook.insert(id, offer.EnergyRate())
	if !spec.SkipHistory {
		m.offerHistory = append(m.offerHistory, offer)
	}
	if !spec.SkipDispatch {
		m.DispatchOfferEvent(offer)
	}
	return offer, nil
}

// DispatchOfferEvent notifies listeners of a new offer. Exposed separately so
// inter-area engines can record their forwarding state before the event fires.
func (m *Market) DispatchOfferEvent(offer *domain.Offer) {
	m.notify(Event{Kind: EventOffer, Offer: offer})
}

// DispatchBidEvent notifies listeners of a new bid. The bid-side counterpart
// of DispatchOfferEvent.
func (m *Market) DispatchBidEvent(bid *domain.Bid) {
	m.notify(Event{Kind: EventBid, Bid: bid})
}

// Bid posts a buy order with the market's grid fee applied to the price.
// Only two-sided markets accept bids.
func (m *Market) Bid(price, energy float64, buyer domain.Trader) (*domain.Bid, error) {
	return m.PostBid(BidSpec{Price: price, Energy: energy, Buyer: buyer})
}

// PostBid posts a buy order according to spec.
func (m *Market) PostBid(spec BidSpec) (*domain.Bid, error) {
	if !m.Kind.TwoSided() {
		return nil, fmt.Errorf("%w: %s markets do not accept bids", domain.ErrWrongMarketKind, m.Kind)
	}
	if m.readonly {
		return nil, domain.ErrMarketReadOnly
	}
	if spec.Energy <= domain.FloatingPointTolerance {
		return nil, fmt.Errorf("%w: bid energy must be positive, got %v",
			domain.ErrNegativeEnergyOrder, spec.Energy)
	}
	originalPrice := spec.Price
	if spec.OriginalPrice != nil {
		originalPrice = *spec.OriginalPrice
	}
	price := spec.Price
	if !spec.SkipFee {
		price = m.fee.ApplyToBidRate(price/spec.Energy, originalPrice/spec.Energy) * spec.Energy
	}
	if price < 0 {
		return nil, fmt.Errorf("%w: negative bid price after fees", domain.ErrNegativePriceOrder)
	}
	id := spec.ID
	if id == "" {
		id = uuid.New().String()
	}
	bid := &domain.Bid{
		ID:            id,
		TimeSlot:      m.TimeSlot,
		Price:         price,
		Energy:        spec.Energy,
		Buyer:         spec.Buyer,
		OriginalPrice: originalPrice,
	}
	m.bids[id] = bid
	m.bidBook.insert(id, bid.EnergyRate())
	if !spec.SkipHistory {
		m.bidHistory = append(m.bidHistory, bid)
	}
	if !spec.SkipDispatch {
		m.notify(Event{Kind: EventBid, Bid: bid})
	}
	return bid, nil
}

// DeleteOffer removes an open offer and notifies listeners.
func (m *Market) DeleteOffer(offerID string) error {
	if m.readonly {
		return domain.ErrMarketReadOnly
	}
	offer, ok := m.offers[offerID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrOfferNotFound, offerID)
	}
	delete(m.offers, offerID)
	m.offerBook.remove(offerID)
	m.notify(Event{Kind: EventOfferDeleted, Offer: offer})
	return nil
}

// DeleteBid removes an open bid and notifies listeners.
func (m *Market) DeleteBid(bidID string) error {
	if m.readonly {
		return domain.ErrMarketReadOnly
	}
	bid, ok := m.bids[bidID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrBidNotFound, bidID)
	}
	delete(m.bids, bidID)
	m.bidBook.remove(bidID)
	m.notify(Event{Kind: EventBidDeleted, Bid: bid})
	return nil
}

// splitOffer replaces an offer with an accepted portion (same id) and a
// residual (new id), with prices split proportionally from the original
// price so the residual keeps the original economic rate. The caller has
// already removed the original from the open book.
func (m *Market) splitOffer(original *domain.Offer, energy float64) (accepted, residual *domain.Offer, err error) {
	portion := energy / original.Energy
	acceptedOriginal := original.OriginalPrice * portion
	residualOriginal := original.OriginalPrice * (1 - portion)
	accepted, err = m.PostOffer(OfferSpec{
		ID:            original.ID,
		Price:         original.Price * portion,
		Energy:        energy,
		Seller:        original.Seller,
		OriginalPrice: &acceptedOriginal,
		SkipFee:       true,
		SkipHistory:   true,
		SkipDispatch:  true,
	})
	if err != nil {
		return nil, nil, err
	}
	residual, err = m.PostOffer(OfferSpec{
		Price:         original.Price * (1 - portion),
		Energy:        original.Energy - energy,
		Seller:        original.Seller,
		OriginalPrice: &residualOriginal,
		SkipFee:       true,
		SkipDispatch:  true,
	})
	if err != nil {
		delete(m.offers, accepted.ID)
		m.offerBook.remove(accepted.ID)
		return nil, nil, err
	}
	m.notify(Event{
		Kind:          EventOfferSplit,
		OriginalOffer: original,
		AcceptedOffer: accepted,
		ResidualOffer: residual,
	})
	return accepted, residual, nil
}

// SplitOffer replaces an open offer with an accepted portion (same id) and a
// residual (new id). Exposed because the inter-area engines mirror splits of
// forwarded offers back into the market they came from.
func (m *Market) SplitOffer(offerID string, energy float64) (accepted, residual *domain.Offer, err error) {
	original, ok := m.offers[offerID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrOfferNotFound, offerID)
	}
	if energy <= domain.FloatingPointTolerance || energy >= original.Energy-domain.FloatingPointTolerance {
		return nil, nil, fmt.Errorf("%w: split energy %v outside offer energy %v",
			domain.ErrInvalidTrade, energy, original.Energy)
	}
	delete(m.offers, offerID)
	m.offerBook.remove(offerID)
	accepted, residual, err = m.splitOffer(original, energy)
	if err != nil {
		m.offers[original.ID] = original
		m.offerBook.insert(original.ID, original.EnergyRate())
		return nil, nil, err
	}
	return accepted, residual, nil
}

// SplitBid replaces an open bid with an accepted portion (same id) and a
// residual (new id). Exposed because the two-sided inter-area engine mirrors
// target-market bid splits into the source market.
func (m *Market) SplitBid(bidID string, energy float64) (accepted, residual *domain.Bid, err error) {
	original, ok := m.bids[bidID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrBidNotFound, bidID)
	}
	if energy <= domain.FloatingPointTolerance || energy >= original.Energy-domain.FloatingPointTolerance {
		return nil, nil, fmt.Errorf("%w: split energy %v outside bid energy %v",
			domain.ErrInvalidTrade, energy, original.Energy)
	}
	delete(m.bids, bidID)
	m.bidBook.remove(bidID)

	portion := energy / original.Energy
	acceptedOriginal := original.OriginalPrice * portion
	residualOriginal := original.OriginalPrice * (1 - portion)
	accepted, err = m.PostBid(BidSpec{
		ID:            original.ID,
		Price:         original.Price * portion,
		Energy:        energy,
		Buyer:         original.Buyer,
		OriginalPrice: &acceptedOriginal,
		SkipFee:       true,
		SkipHistory:   true,
		SkipDispatch:  true,
	})
	if err != nil {
		return nil, nil, err
	}
	residual, err = m.PostBid(BidSpec{
		Price:         original.Price * (1 - portion),
		Energy:        original.Energy - energy,
		Buyer:         original.Buyer,
		OriginalPrice: &residualOriginal,
		SkipFee:       true,
		SkipDispatch:  true,
	})
	if err != nil {
		delete(m.bids, accepted.ID)
		m.bidBook.remove(accepted.ID)
		return nil, nil, err
	}
	m.notify(Event{
		Kind:        EventBidSplit,
		OriginalBid: original,
		AcceptedBid: accepted,
		ResidualBid: residual,
	})
	return accepted, residual, nil
}

// AcceptOffer trades against an open offer. energy <= 0 means the full offer
// energy; tradeRate <= 0 means the offer's own rate. Partial fills split the
// offer, producing a residual that stays open.
func (m *Market) AcceptOffer(offerID string, buyer domain.Trader, energy, tradeRate float64) (*domain.Trade, error) {
	return m.acceptOffer(offerID, buyer, energy, tradeRate, false)
}

func (m *Market) acceptOffer(offerID string, buyer domain.Trader, energy, tradeRate float64, alreadyTracked bool) (*domain.Trade, error) {
	if m.readonly {
		return nil, domain.ErrMarketReadOnly
	}
	offer, ok := m.offers[offerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOfferNotFound, offerID)
	}
	if energy <= 0 || domain.Close(energy, offer.Energy) {
		energy = offer.Energy
	}
	if energy > offer.Energy+domain.FloatingPointTolerance {
		return nil, fmt.Errorf("%w: requested energy %v exceeds offered energy %v",
			domain.ErrInvalidTrade, energy, offer.Energy)
	}
	if tradeRate <= 0 {
		tradeRate = offer.EnergyRate()
	}

	original := offer
	delete(m.offers, offerID)
	m.offerBook.remove(offerID)

	var residual *domain.Offer
	if energy < original.Energy-domain.FloatingPointTolerance {
		accepted, res, err := m.splitOffer(original, energy)
		if err != nil {
			// Restore the original offer: an accept either fully completes
			// or leaves the book untouched.
			m.offers[original.ID] = original
			m.offerBook.insert(original.ID, original.EnergyRate())
			return nil, err
		}
		residual = res
		offer = accepted
		delete(m.offers, accepted.ID)
		m.offerBook.remove(accepted.ID)
	}

	feePrice := m.fee.TradeFee(energy, energy/original.Energy, original.OriginalPrice)
	offer.UpdatePrice(energy * tradeRate)

	trade := &domain.Trade{
		ID:            uuid.New().String(),
		TimeSlot:      m.TimeSlot,
		Seller:        offer.Seller,
		Buyer:         buyer,
		Offer:         offer,
		TradedEnergy:  energy,
		TradePrice:    offer.Price,
		ResidualOffer: residual,
		FeePrice:      feePrice,
	}
	if !alreadyTracked {
		m.recordTrade(trade)
	}
	m.notify(Event{Kind: EventOfferTraded, Trade: trade})
	return trade, nil
}

// AcceptBid trades against an open bid with an implicit seller. Used by the
// matching algorithms and the two-sided inter-area engine rather than exposed
// as a raw buyer action. alreadyTracked suppresses the statistics update when
// the paired offer trade already accounted for the energy.
func (m *Market) AcceptBid(bidID string, seller domain.Trader, energy, tradeRate float64, alreadyTracked bool) (*domain.Trade, error) {
	if !m.Kind.TwoSided() {
		return nil, fmt.Errorf("%w: %s markets have no bids", domain.ErrWrongMarketKind, m.Kind)
	}
	if m.readonly {
		return nil, domain.ErrMarketReadOnly
	}
	bid, ok := m.bids[bidID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBidNotFound, bidID)
	}
	if energy <= 0 || domain.Close(energy, bid.Energy) {
		energy = bid.Energy
	}
	if energy > bid.Energy+domain.FloatingPointTolerance {
		return nil, fmt.Errorf("%w: traded energy %v exceeds bid energy %v",
			domain.ErrInvalidTrade, energy, bid.Energy)
	}
	if tradeRate <= 0 {
		tradeRate = bid.EnergyRate()
	}

	original := bid
	var residual *domain.Bid
	if energy < original.Energy-domain.FloatingPointTolerance {
		accepted, res, err := m.SplitBid(original.ID, energy)
		if err != nil {
			return nil, err
		}
		residual = res
		bid = accepted
	}
	delete(m.bids, bid.ID)
	m.bidBook.remove(bid.ID)

	feePrice := m.fee.TradeFee(energy, energy/original.Energy, original.OriginalPrice)
	bid.UpdatePrice(energy * tradeRate)

	trade := &domain.Trade{
		ID:           uuid.New().String(),
		TimeSlot:     m.TimeSlot,
		Seller:       seller,
		Buyer:        bid.Buyer,
		Bid:          bid,
		TradedEnergy: energy,
		TradePrice:   bid.Price,
		ResidualBid:  residual,
		FeePrice:     feePrice,
	}
	if !alreadyTracked {
		m.recordTrade(trade)
	}
	m.notify(Event{Kind: EventBidTraded, Trade: trade})
	return trade, nil
}

// AcceptBidOfferPair executes one matched pair: the offer side first, then
// the bid side with statistics suppressed so the energy is counted once.
// A pair whose buyer and seller are the same trader is counted on neither
// side.
func (m *Market) AcceptBidOfferPair(bidID, offerID string, energy, tradeRate float64) (bidTrade, offerTrade *domain.Trade, err error) {
	bid, ok := m.bids[bidID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrBidNotFound, bidID)
	}
	offer, ok := m.offers[offerID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrOfferNotFound, offerID)
	}
	if offer.EnergyRate() > tradeRate+domain.FloatingPointTolerance {
		return nil, nil, fmt.Errorf("%w: offer rate %v above trade rate %v",
			domain.ErrInvalidTrade, offer.EnergyRate(), tradeRate)
	}
	if bid.EnergyRate()+domain.FloatingPointTolerance < tradeRate {
		return nil, nil, fmt.Errorf("%w: bid rate %v below trade rate %v",
			domain.ErrInvalidTrade, bid.EnergyRate(), tradeRate)
	}
	selfDeal := bid.Buyer.Name == offer.Seller.Name
	offerTrade, err = m.acceptOffer(offerID, bid.Buyer, energy, tradeRate, selfDeal)
	if err != nil {
		return nil, nil, err
	}
	bidTrade, err = m.AcceptBid(bidID, offer.Seller, energy, tradeRate, true)
	if err != nil {
		return nil, nil, err
	}
	return bidTrade, offerTrade, nil
}

// MatchRecommendations executes match recommendations strictly in list
// order, substituting residual order ids into the remaining recommendations
// after each partial fill. Recommendations referencing orders no longer open
// are skipped.
func (m *Market) MatchRecommendations(recs []matching.Recommendation) error {
	if !m.Kind.TwoSided() {
		return fmt.Errorf("%w: %s markets cannot match recommendations",
			domain.ErrWrongMarketKind, m.Kind)
	}
	for i := 0; i < len(recs); i++ {
		rec := recs[i]
		bid, bidOpen := m.bids[rec.BidID]
		offer, offerOpen := m.offers[rec.OfferID]
		if !bidOpen || !offerOpen {
			continue
		}
		selected := rec.SelectedEnergy
		if offer.Energy < selected {
			selected = offer.Energy
		}
		if bid.Energy < selected {
			selected = bid.Energy
		}
		bidTrade, offerTrade, err := m.AcceptBidOfferPair(rec.BidID, rec.OfferID, selected, rec.TradeRate)
		if err != nil {
			return err
		}
		for j := i + 1; j < len(recs); j++ {
			if offerTrade.ResidualOffer != nil && recs[j].OfferID == rec.OfferID {
				recs[j].OfferID = offerTrade.ResidualOffer.ID
			}
			if bidTrade.ResidualBid != nil && recs[j].BidID == rec.BidID {
				recs[j].BidID = bidTrade.ResidualBid.ID
			}
		}
	}
	return nil
}

// recordTrade updates the trade log and all aggregate statistics.
func (m *Market) recordTrade(trade *domain.Trade) {
	m.trades = append(m.trades, trade)
	m.marketFee += trade.FeePrice
	m.accumulatedTradePrice += trade.TradePrice
	m.accumulatedTradeEnergy += trade.TradedEnergy
	m.tradedEnergy[trade.Seller.Name] += trade.TradedEnergy
	m.tradedEnergy[trade.Buyer.Name] -= trade.TradedEnergy

	rate := trade.TradeRate()
	if rate < m.minTradePrice {
		m.minTradePrice = round4(rate)
	}
	if rate > m.maxTradePrice {
		m.maxTradePrice = round4(rate)
	}
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
