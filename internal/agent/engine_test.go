package agent

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/efreitasn/gridmarket/internal/domain"
	"github.com/efreitasn/gridmarket/internal/market"
)

var testSlot = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func trader(name string) domain.Trader {
	return domain.Trader{Name: name, Origin: name}
}

// newBoundary builds a lower/higher market pair with an agent on the
// boundary.
func newBoundary(t *testing.T, kind market.Kind, fee market.GridFee, minOfferAge, minBidAge int) (lower, higher *market.Market, a *AreaAgent) {
	t.Helper()
	lower = market.New(kind, testSlot, "House 1", market.NoFee, 1)
	higher = market.New(kind, testSlot, "Grid", fee, 2)
	a = New("IAA House 1", lower, higher, minOfferAge, minBidAge, testLogger())
	return lower, higher, a
}

func TestEngine_ForwardsOfferAfterMinAge(t *testing.T) {
	lower, higher, a := newBoundary(t, market.OneSided, market.NoFee, 2, 0)

	// The simulation posts strategy orders before ticking the agents, so an
	// offer posted "at tick 5" lands between Tick(4) and Tick(5). Its first
	// sweep is Tick(5), making it age 2 at Tick(7), not Tick(6).
	a.Tick(4)
	offer, err := lower.Offer(10, 1, trader("pv"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(higher.OpenOffers()); got != 0 {
		t.Fatalf("offer must not be forwarded on posting, got %d", got)
	}

	a.Tick(5) // first seen, age 0
	if got := len(higher.OpenOffers()); got != 0 {
		t.Fatalf("offer must not be forwarded at age 0, got %d", got)
	}

	a.Tick(6) // age 1 < 2
	if got := len(higher.OpenOffers()); got != 0 {
		t.Fatalf("offer must not be forwarded at age 1, got %d", got)
	}

	a.Tick(7) // age 2 >= 2
	fwd := higher.OpenOffers()
	if len(fwd) != 1 {
		t.Fatalf("expected forwarded offer at age 2, got %d", len(fwd))
	}
	if fwd[0].Seller.Name != "IAA House 1" {
		t.Fatalf("forwarded seller must be the agent, got %s", fwd[0].Seller.Name)
	}
	if fwd[0].Seller.Origin != "pv" {
		t.Fatalf("origin must be preserved, got %s", fwd[0].Seller.Origin)
	}
	if fwd[0].ID == offer.ID {
		t.Fatal("forwarded offer must get its own id")
	}
	if !domain.Close(fwd[0].EnergyRate(), offer.EnergyRate()) {
		t.Fatalf("rates differ: %v vs %v", fwd[0].EnergyRate(), offer.EnergyRate())
	}
}

func TestEngine_ForwardsImmediatelyWithZeroMinAge(t *testing.T) {
	lower, higher, _ := newBoundary(t, market.OneSided, market.NoFee, 0, 0)

	if _, err := lower.Offer(10, 1, trader("pv")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(higher.OpenOffers()); got != 1 {
		t.Fatalf("expected immediate forwarding, got %d offers", got)
	}
}

func TestEngine_AppliesTargetFeeOnForward(t *testing.T) {
	lower, higher, _ := newBoundary(t, market.OneSided, market.GridFee{Type: market.FeeConstant, Rate: 2}, 0, 0)

	lower.Offer(10, 1, trader("pv")) // rate 10
	fwd := higher.OpenOffers()
	if len(fwd) != 1 {
		t.Fatalf("expected forwarded offer, got %d", len(fwd))
	}
	if !domain.Close(fwd[0].EnergyRate(), 12) {
		t.Fatalf("expected forwarded rate 12 after fee, got %v", fwd[0].EnergyRate())
	}
	if !domain.Close(fwd[0].OriginalPrice, 10) {
		t.Fatalf("original price must survive forwarding, got %v", fwd[0].OriginalPrice)
	}
}

func TestEngine_DoesNotBounceOffersBack(t *testing.T) {
	lower, higher, a := newBoundary(t, market.OneSided, market.NoFee, 0, 0)

	lower.Offer(10, 1, trader("pv"))
	// The forwarded copy in the higher market must not be re-forwarded
	// back into the lower market by the other direction's engine.
	a.Tick(1)
	a.Tick(2)
	if got := len(lower.OpenOffers()); got != 1 {
		t.Fatalf("expected only the original offer in the lower market, got %d", got)
	}
	if got := len(higher.OpenOffers()); got != 1 {
		t.Fatalf("expected only one forwarded copy, got %d", got)
	}
}

func TestEngine_PropagatesFullTrade(t *testing.T) {
	lower, higher, _ := newBoundary(t, market.OneSided, market.NoFee, 0, 0)

	lower.Offer(10, 1, trader("pv"))
	fwd := higher.OpenOffers()[0]

	if _, err := higher.AcceptOffer(fwd.ID, trader("load"), 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lowerTrades := lower.Trades()
	if len(lowerTrades) != 1 {
		t.Fatalf("expected propagated trade in lower market, got %d", len(lowerTrades))
	}
	lt := lowerTrades[0]
	if lt.Seller.Name != "pv" || lt.Buyer.Name != "IAA House 1" {
		t.Fatalf("expected pv → agent trade, got %s → %s", lt.Seller.Name, lt.Buyer.Name)
	}
	if !domain.Close(lt.TradedEnergy, 1) {
		t.Fatalf("expected full energy propagated, got %v", lt.TradedEnergy)
	}
	if got := len(lower.OpenOffers()); got != 0 {
		t.Fatalf("source offer must be consumed, got %d open", got)
	}
}

func TestEngine_PropagatesPartialTradeWithResiduals(t *testing.T) {
	lower, higher, _ := newBoundary(t, market.OneSided, market.NoFee, 0, 0)

	lower.Offer(15, 0.5, trader("pv")) // rate 30
	fwd := higher.OpenOffers()[0]

	trade, err := higher.AcceptOffer(fwd.ID, trader("load"), 0.2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade.ResidualOffer == nil {
		t.Fatal("expected residual in higher market")
	}

	// The lower market mirrors the split and settles the traded portion.
	lowerTrades := lower.Trades()
	if len(lowerTrades) != 1 {
		t.Fatalf("expected 1 lower trade, got %d", len(lowerTrades))
	}
	if !domain.Close(lowerTrades[0].TradedEnergy, 0.2) {
		t.Fatalf("expected 0.2 propagated, got %v", lowerTrades[0].TradedEnergy)
	}

	lowerOpen := lower.OpenOffers()
	higherOpen := higher.OpenOffers()
	if len(lowerOpen) != 1 || len(higherOpen) != 1 {
		t.Fatalf("expected linked residuals on both sides, got %d/%d",
			len(lowerOpen), len(higherOpen))
	}
	if !domain.Close(lowerOpen[0].Energy, 0.3) || !domain.Close(higherOpen[0].Energy, 0.3) {
		t.Fatalf("residual energies must match: %v vs %v",
			lowerOpen[0].Energy, higherOpen[0].Energy)
	}

	// The surviving residual pair is still live: trading the forwarded
	// residual settles the source residual too.
	if _, err := higher.AcceptOffer(higherOpen[0].ID, trader("load"), 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(lower.OpenOffers()); got != 0 {
		t.Fatalf("source residual must be consumed, got %d open", got)
	}
	if got := len(lower.Trades()); got != 2 {
		t.Fatalf("expected 2 lower trades, got %d", got)
	}
}

func TestEngine_PropagatesDeletion(t *testing.T) {
	lower, higher, _ := newBoundary(t, market.OneSided, market.NoFee, 0, 0)

	offer, _ := lower.Offer(10, 1, trader("pv"))
	if got := len(higher.OpenOffers()); got != 1 {
		t.Fatalf("expected forwarded offer, got %d", got)
	}

	if err := lower.DeleteOffer(offer.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(higher.OpenOffers()); got != 0 {
		t.Fatalf("forwarded copy must be deleted, got %d", got)
	}
}

func TestEngine_LocalTradeRemovesForwardedCopy(t *testing.T) {
	lower, higher, _ := newBoundary(t, market.OneSided, market.NoFee, 0, 0)

	offer, _ := lower.Offer(10, 1, trader("pv"))
	if got := len(higher.OpenOffers()); got != 1 {
		t.Fatalf("expected forwarded offer, got %d", got)
	}

	// A local buyer takes the offer at the source.
	if _, err := lower.AcceptOffer(offer.ID, trader("neighbor"), 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(higher.OpenOffers()); got != 0 {
		t.Fatalf("stale forwarded copy must be removed, got %d", got)
	}
	if got := len(higher.Trades()); got != 0 {
		t.Fatalf("no trade must settle in the higher market, got %d", got)
	}
}

func TestTwoSidedEngine_ForwardsAndSettlesBid(t *testing.T) {
	lower, higher, _ := newBoundary(t, market.TwoSidedPayAsBid, market.NoFee, 0, 0)

	bid, err := lower.Bid(30, 3, trader("load")) // rate 10
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fwdBids := higher.OpenBids()
	if len(fwdBids) != 1 {
		t.Fatalf("expected forwarded bid, got %d", len(fwdBids))
	}
	if fwdBids[0].Buyer.Name != "IAA House 1" || fwdBids[0].Buyer.Origin != "load" {
		t.Fatalf("forwarded buyer wrong: %+v", fwdBids[0].Buyer)
	}

	// A seller takes the forwarded bid in the higher market.
	if _, err := higher.AcceptBid(fwdBids[0].ID, trader("wind farm"), 0, 0, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lowerTrades := lower.Trades()
	if len(lowerTrades) != 1 {
		t.Fatalf("expected propagated bid trade, got %d", len(lowerTrades))
	}
	lt := lowerTrades[0]
	if lt.Seller.Name != "IAA House 1" || lt.Buyer.Name != "load" {
		t.Fatalf("expected agent → load trade, got %s → %s", lt.Seller.Name, lt.Buyer.Name)
	}
	if lt.Bid == nil || lt.Bid.ID != bid.ID {
		t.Fatal("propagated trade must settle the source bid")
	}
	if got := len(lower.OpenBids()); got != 0 {
		t.Fatalf("source bid must be consumed, got %d", got)
	}
}

func TestTwoSidedEngine_BidFeeAppliedDownward(t *testing.T) {
	lower, higher, _ := newBoundary(t, market.TwoSidedPayAsBid, market.GridFee{Type: market.FeeConstant, Rate: 2}, 0, 0)

	lower.Bid(30, 3, trader("load")) // rate 10
	fwdBids := higher.OpenBids()
	if len(fwdBids) != 1 {
		t.Fatalf("expected forwarded bid, got %d", len(fwdBids))
	}
	if !domain.Close(fwdBids[0].EnergyRate(), 8) {
		t.Fatalf("expected forwarded bid rate 8, got %v", fwdBids[0].EnergyRate())
	}
}

func TestTwoSidedEngine_ForwardsBidAfterMinAge(t *testing.T) {
	lower, higher, a := newBoundary(t, market.TwoSidedPayAsBid, market.NoFee, 0, 2)

	// Same ordering as for offers: a bid posted between two ticks is first
	// seen by the next sweep.
	a.Tick(4)
	if _, err := lower.Bid(30, 3, trader("load")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(higher.OpenBids()); got != 0 {
		t.Fatalf("bid must not be forwarded on posting, got %d", got)
	}

	a.Tick(5) // first seen, age 0
	if got := len(higher.OpenBids()); got != 0 {
		t.Fatalf("bid must not be forwarded at age 0, got %d", got)
	}

	a.Tick(6) // age 1 < 2
	if got := len(higher.OpenBids()); got != 0 {
		t.Fatalf("bid must not be forwarded at age 1, got %d", got)
	}

	a.Tick(7) // age 2 >= 2
	if got := len(higher.OpenBids()); got != 1 {
		t.Fatalf("expected forwarded bid at age 2, got %d", got)
	}
}

// deletingOwner deletes every offer it is asked about, so the sweep's
// snapshot is stale by the time the offer would be forwarded.
type deletingOwner struct {
	m *market.Market
}

func (o *deletingOwner) Name() string { return "IAA House 1" }

func (o *deletingOwner) UsableOffer(offer *domain.Offer) bool {
	o.m.DeleteOffer(offer.ID)
	return true
}

func (o *deletingOwner) UsableBid(*domain.Bid) bool { return true }

func TestEngine_SkipsOfferDeletedMidSweep(t *testing.T) {
	lower := market.New(market.OneSided, testSlot, "House 1", market.NoFee, 1)
	higher := market.New(market.OneSided, testSlot, "Grid", market.NoFee, 2)
	e := NewEngine("low->high", &deletingOwner{m: lower}, lower, higher, 0, testLogger())

	if _, err := lower.Offer(10, 1, trader("pv")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.Tick(1)
	if got := len(higher.OpenOffers()); got != 0 {
		t.Fatalf("vanished offer must not be forwarded, got %d", got)
	}
}

func TestTwoSidedEngine_PropagatesBidDeletion(t *testing.T) {
	lower, higher, _ := newBoundary(t, market.TwoSidedPayAsBid, market.NoFee, 0, 0)

	bid, _ := lower.Bid(30, 3, trader("load"))
	if got := len(higher.OpenBids()); got != 1 {
		t.Fatalf("expected forwarded bid, got %d", got)
	}
	if err := lower.DeleteBid(bid.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(higher.OpenBids()); got != 0 {
		t.Fatalf("forwarded bid must be deleted, got %d", got)
	}
}
