// Package matching implements the bid/offer pairing algorithms consumed by
// two-sided markets: pay-as-bid (greedy, each trade settles at the offer's
// rate) and pay-as-clear (uniform-price double auction).
package matching

import (
	"sort"

	"github.com/efreitasn/gridmarket/internal/domain"
)

// Recommendation is a single proposed match between one bid and one offer.
// Recommendations are executed by the market strictly in list order; the
// order determines which residual orders survive into the next cycle, so it
// is a correctness property rather than an optimization.
type Recommendation struct {
	BidID          string
	OfferID        string
	SelectedEnergy float64
	TradeRate      float64 // cents/kWh
}

// Algorithm produces match recommendations for the current open books of a
// two-sided market. Empty books or non-crossing prices yield zero
// recommendations; that is a normal auction outcome, not an error.
type Algorithm interface {
	Recommend(bids []*domain.Bid, offers []*domain.Offer) []Recommendation
}

// sortedByRateAsc returns a copy of offers sorted by energy rate ascending.
func sortedByRateAsc(offers []*domain.Offer) []*domain.Offer {
	out := make([]*domain.Offer, len(offers))
	copy(out, offers)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EnergyRate() < out[j].EnergyRate()
	})
	return out
}

// sortedByRateDesc returns a copy of bids sorted by energy rate descending.
func sortedByRateDesc(bids []*domain.Bid) []*domain.Bid {
	out := make([]*domain.Bid, len(bids))
	copy(out, bids)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EnergyRate() > out[j].EnergyRate()
	})
	return out
}
