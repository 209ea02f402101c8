package market

import (
	"fmt"
	"math"
	"testing"

	"pgregory.net/rapid"

	"github.com/efreitasn/gridmarket/internal/domain"
)

// TestProperty_EnergyConservation verifies that for any sequence of offers
// and full or partial acceptances, posted energy always equals traded energy
// plus the energy still open in the book.
func TestProperty_EnergyConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := newTestMarket(OneSided)
		numOffers := rapid.IntRange(1, 10).Draw(t, "numOffers")

		var posted float64
		for i := 0; i < numOffers; i++ {
			energy := rapid.Float64Range(0.1, 20).Draw(t, fmt.Sprintf("energy-%d", i))
			rate := rapid.Float64Range(1, 50).Draw(t, fmt.Sprintf("rate-%d", i))
			if _, err := m.Offer(rate*energy, energy, seller(fmt.Sprintf("pv-%d", i))); err != nil {
				t.Fatalf("offer rejected: %v", err)
			}
			posted += energy
		}

		numAccepts := rapid.IntRange(0, 15).Draw(t, "numAccepts")
		var traded float64
		for i := 0; i < numAccepts; i++ {
			open := m.OpenOffers()
			if len(open) == 0 {
				break
			}
			idx := rapid.IntRange(0, len(open)-1).Draw(t, fmt.Sprintf("pick-%d", i))
			offer := open[idx]
			fraction := rapid.Float64Range(0.1, 1).Draw(t, fmt.Sprintf("fraction-%d", i))
			energy := offer.Energy * fraction
			trade, err := m.AcceptOffer(offer.ID, seller("load"), energy, 0)
			if err != nil {
				t.Fatalf("accept failed: %v", err)
			}
			traded += trade.TradedEnergy
		}

		var open float64
		for _, o := range m.OpenOffers() {
			open = open + o.Energy
		}
		if math.Abs(posted-(traded+open)) > 1e-6*posted+domain.FloatingPointTolerance {
			t.Fatalf("energy not conserved: posted %v, traded %v, open %v", posted, traded, open)
		}
		if math.Abs(m.AccumulatedTradeEnergy()-traded) > domain.FloatingPointTolerance {
			t.Fatalf("market stats disagree: %v vs %v", m.AccumulatedTradeEnergy(), traded)
		}
	})
}

// TestProperty_ResidualKeepsRate verifies that any partial acceptance leaves
// a residual priced at the original offer's rate.
func TestProperty_ResidualKeepsRate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := newTestMarket(OneSided)
		energy := rapid.Float64Range(0.5, 20).Draw(t, "energy")
		rate := rapid.Float64Range(1, 50).Draw(t, "rate")
		offer, err := m.Offer(rate*energy, energy, seller("pv"))
		if err != nil {
			t.Fatalf("offer rejected: %v", err)
		}

		fraction := rapid.Float64Range(0.05, 0.95).Draw(t, "fraction")
		trade, err := m.AcceptOffer(offer.ID, seller("load"), energy*fraction, 0)
		if err != nil {
			t.Fatalf("accept failed: %v", err)
		}
		if trade.ResidualOffer == nil {
			// The tolerance snapped a near-full fraction to a full fill.
			return
		}
		if math.Abs(trade.ResidualOffer.EnergyRate()-rate) > 1e-6*rate {
			t.Fatalf("residual rate %v differs from original %v",
				trade.ResidualOffer.EnergyRate(), rate)
		}
		if math.Abs(trade.TradeRate()-rate) > 1e-6*rate {
			t.Fatalf("trade rate %v differs from offer rate %v", trade.TradeRate(), rate)
		}
	})
}

// TestProperty_NoDoubleSpend verifies an accepted offer cannot be accepted
// again.
func TestProperty_NoDoubleSpend(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := newTestMarket(OneSided)
		energy := rapid.Float64Range(0.1, 20).Draw(t, "energy")
		rate := rapid.Float64Range(1, 50).Draw(t, "rate")
		offer, _ := m.Offer(rate*energy, energy, seller("pv"))

		if _, err := m.AcceptOffer(offer.ID, seller("load"), 0, 0); err != nil {
			t.Fatalf("first accept failed: %v", err)
		}
		if _, err := m.AcceptOffer(offer.ID, seller("load2"), 0, 0); err == nil {
			t.Fatal("second accept of the same offer must fail")
		}
	})
}

// TestProperty_LedgerBalances verifies the per-trader energy ledger sums to
// zero over any set of trades: every kWh bought was sold by someone.
func TestProperty_LedgerBalances(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := newTestMarket(TwoSidedPayAsBid)
		numPairs := rapid.IntRange(1, 8).Draw(t, "numPairs")

		names := []string{"pv", "load", "battery", "ev"}
		for i := 0; i < numPairs; i++ {
			energy := rapid.Float64Range(0.1, 10).Draw(t, fmt.Sprintf("energy-%d", i))
			rate := rapid.Float64Range(5, 20).Draw(t, fmt.Sprintf("rate-%d", i))
			sellerName := rapid.SampledFrom(names).Draw(t, fmt.Sprintf("seller-%d", i))
			buyerName := rapid.SampledFrom(names).Draw(t, fmt.Sprintf("buyer-%d", i))
			if sellerName == buyerName {
				continue
			}
			offer, err := m.Offer(rate*energy, energy, seller(sellerName))
			if err != nil {
				t.Fatalf("offer rejected: %v", err)
			}
			bid, err := m.Bid((rate+1)*energy, energy, seller(buyerName))
			if err != nil {
				t.Fatalf("bid rejected: %v", err)
			}
			if _, _, err := m.AcceptBidOfferPair(bid.ID, offer.ID, energy, rate); err != nil {
				t.Fatalf("pair failed: %v", err)
			}
		}

		var sum float64
		for _, name := range names {
			sum += m.TradedEnergy(name)
		}
		if math.Abs(sum) > domain.FloatingPointTolerance*float64(numPairs) {
			t.Fatalf("ledger does not balance: sum %v", sum)
		}
	})
}
