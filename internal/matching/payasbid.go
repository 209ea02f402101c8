package matching

import "github.com/efreitasn/gridmarket/internal/domain"

// PayAsBid matches the most aggressive bids against the cheapest offers,
// settling every pair at the offer's rate. A partially consumed order carries
// its remaining energy forward to the next counterparty instead of being
// re-queued, so a single Recommend pass drains all economically valid pairs.
type PayAsBid struct{}

// Recommend walks bids in descending rate order and, for each bid, pulls from
// the cheapest remaining offers until the bid is filled or no offer's rate
// stays at or below the bid's rate. Pairs where the bid's buyer is the
// offer's seller are skipped (self-dealing guard).
func (PayAsBid) Recommend(bids []*domain.Bid, offers []*domain.Offer) []Recommendation {
	if len(bids) == 0 || len(offers) == 0 {
		return nil
	}
	sortedBids := sortedByRateDesc(bids)
	sortedOffers := sortedByRateAsc(offers)

	offerRemaining := make(map[string]float64, len(sortedOffers))
	for _, offer := range sortedOffers {
		offerRemaining[offer.ID] = offer.Energy
	}

	var recs []Recommendation
	for _, bid := range sortedBids {
		bidRemaining := bid.Energy
		for _, offer := range sortedOffers {
			if bidRemaining <= domain.FloatingPointTolerance {
				break
			}
			if offer.EnergyRate() > bid.EnergyRate()+domain.FloatingPointTolerance {
				// Offers are sorted ascending: nothing further crosses.
				break
			}
			remaining := offerRemaining[offer.ID]
			if remaining <= domain.FloatingPointTolerance {
				continue
			}
			if offer.Seller.Name == bid.Buyer.Name {
				continue
			}
			selected := remaining
			if bidRemaining < selected {
				selected = bidRemaining
			}
			recs = append(recs, Recommendation{
				BidID:          bid.ID,
				OfferID:        offer.ID,
				SelectedEnergy: selected,
				TradeRate:      offer.EnergyRate(),
			})
			offerRemaining[offer.ID] = remaining - selected
			bidRemaining -= selected
		}
	}
	return recs
}
