package matching

import (
	"math"

	"github.com/efreitasn/gridmarket/internal/domain"
)

// PayAsClear finds a single uniform clearing rate and energy volume for the
// whole market via discrete supply/demand curve intersection, then pairs bids
// and offers so that every trade of the cycle settles at that one rate.
//
// Rates are discretized onto an integer cent grid: offer rates are rounded up
// and bid rates down, so the discretization never manufactures artificial
// surplus. This is the discrete-grid aggregation variant; its rounding
// behavior is what the tests pin down.
type PayAsClear struct{}

// clearing is a resolved clearing point.
type clearing struct {
	rate   int
	energy float64
}

// Recommend computes the clearing point and the bid/offer pairings that sum
// to the clearing energy. When either book is empty or the curves never
// cross, it returns no recommendations.
func (p PayAsClear) Recommend(bids []*domain.Bid, offers []*domain.Offer) []Recommendation {
	if len(bids) == 0 || len(offers) == 0 {
		return nil
	}
	sortedBids := sortedByRateDesc(bids)
	sortedOffers := sortedByRateAsc(offers)

	point, ok := p.clearingPoint(sortedBids, sortedOffers)
	if !ok || point.energy <= domain.FloatingPointTolerance {
		return nil
	}
	return p.pairings(point, sortedBids, sortedOffers)
}

// clearingPoint builds the cumulative curves and scans rates upward for the
// lowest rate at which cumulative supply covers cumulative demand.
func (PayAsClear) clearingPoint(sortedBids []*domain.Bid, sortedOffers []*domain.Offer) (clearing, bool) {
	cumulativeOffers := map[int]float64{}
	for _, offer := range sortedOffers {
		cumulativeOffers[int(math.Ceil(offer.EnergyRate()))] += offer.Energy
	}
	cumulativeBids := map[int]float64{}
	for _, bid := range sortedBids {
		cumulativeBids[int(math.Floor(bid.EnergyRate()))] += bid.Energy
	}

	maxRate := int(math.Ceil(sortedOffers[len(sortedOffers)-1].EnergyRate()))
	if r := int(math.Floor(sortedBids[0].EnergyRate())); r > maxRate {
		maxRate = r
	}

	// Supply accumulates upward (energy offered at or below each rate),
	// demand downward (energy requested at or above each rate).
	for rate := 0; rate <= maxRate; rate++ {
		cumulativeOffers[rate] += cumulativeOffers[rate-1]
	}
	for rate := maxRate; rate > 0; rate-- {
		cumulativeBids[rate] += cumulativeBids[rate+1]
	}

	for rate := 1; rate <= maxRate; rate++ {
		if cumulativeOffers[rate] < cumulativeBids[rate] {
			continue
		}
		if cumulativeBids[rate] == 0 {
			// Supply crossed demand at a rate with no real demand left;
			// step back one rate tick and clear the supply available there.
			return clearing{rate: rate - 1, energy: cumulativeOffers[rate-1]}, true
		}
		return clearing{rate: rate, energy: cumulativeBids[rate]}, true
	}
	return clearing{}, false
}

// pairings walks the bid list and pulls from the front of the offer list,
// pushing partially consumed offers back to the front for the next bid. The
// offer list was sorted once up front, so FIFO reuse preserves price-time
// priority. Matching stops as soon as the clearing energy is reached; leftover
// bids and offers stay open for a future clearing cycle.
func (PayAsClear) pairings(point clearing, sortedBids []*domain.Bid, sortedOffers []*domain.Offer) []Recommendation {
	clearingRate := float64(point.rate)
	remainingClearing := point.energy

	offerQueue := make([]*domain.Offer, len(sortedOffers))
	copy(offerQueue, sortedOffers)
	residualOfferEnergy := map[string]float64{}

	var recs []Recommendation
	for _, bid := range sortedBids {
		bidEnergy := bid.Energy
		for bidEnergy > domain.FloatingPointTolerance {
			if len(offerQueue) == 0 {
				return recs
			}
			offer := offerQueue[0]
			offerQueue = offerQueue[1:]

			offerEnergy, seen := residualOfferEnergy[offer.ID]
			if !seen {
				offerEnergy = offer.Energy
			}
			if offerEnergy-bidEnergy > domain.FloatingPointTolerance {
				// Bid fully covered; the offer keeps its leftover energy and
				// returns to the front of the queue for the next bid.
				residualOfferEnergy[offer.ID] = offerEnergy - bidEnergy
				offerQueue = append([]*domain.Offer{offer}, offerQueue...)
				recs = append(recs, Recommendation{
					BidID:          bid.ID,
					OfferID:        offer.ID,
					SelectedEnergy: bidEnergy,
					TradeRate:      clearingRate,
				})
				remainingClearing -= bidEnergy
				bidEnergy = 0
			} else {
				// Offer exhausted; the bid carries on to the next offer.
				recs = append(recs, Recommendation{
					BidID:          bid.ID,
					OfferID:        offer.ID,
					SelectedEnergy: offerEnergy,
					TradeRate:      clearingRate,
				})
				delete(residualOfferEnergy, offer.ID)
				remainingClearing -= offerEnergy
				bidEnergy -= offerEnergy
			}
			if remainingClearing <= domain.FloatingPointTolerance {
				return recs
			}
		}
	}
	return recs
}
