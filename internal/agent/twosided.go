package agent

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/efreitasn/gridmarket/internal/domain"
	"github.com/efreitasn/gridmarket/internal/market"
)

// TwoSidedEngine forwards bids alongside offers. It composes the offer
// engine and adds the mirror-image bid lifecycle: forwarding after a minimum
// age, selling into the source bid when the forwarded bid trades, and
// propagating deletions and splits.
type TwoSidedEngine struct {
	*Engine

	minBidAge int

	bidAge        map[string]int
	forwardedBids *pairTable[*domain.Bid]
	ignoredBids   map[string]struct{}
}

// NewTwoSidedEngine creates a one-directional engine for a pair of
// two-sided markets.
func NewTwoSidedEngine(name string, owner Owner, source, target *market.Market, minOfferAge, minBidAge int, log *slog.Logger) *TwoSidedEngine {
	return &TwoSidedEngine{
		Engine:        NewEngine(name, owner, source, target, minOfferAge, log),
		minBidAge:     minBidAge,
		bidAge:        make(map[string]int),
		forwardedBids: newPairTable[*domain.Bid](),
		ignoredBids:   make(map[string]struct{}),
	}
}

// Tick forwards aged offers and aged bids.
func (e *TwoSidedEngine) Tick(tick int) {
	e.Engine.Tick(tick)
	for _, bid := range e.source.OpenBids() {
		if !e.bidEligible(bid) {
			continue
		}
		age, seen := e.bidAge[bid.ID]
		if !seen {
			e.bidAge[bid.ID] = tick
			age = tick
		}
		if tick-age >= e.minBidAge {
			current, open := e.source.LookupBid(bid.ID)
			if !open {
				continue
			}
			e.forwardBid(current)
		}
	}
}

func (e *TwoSidedEngine) bidEligible(bid *domain.Bid) bool {
	if e.forwardedBids.contains(bid.ID) {
		return false
	}
	if _, ok := e.ignoredBids[bid.ID]; ok {
		return false
	}
	if bid.Buyer.Name == e.owner.Name() {
		return false
	}
	return e.owner.UsableBid(bid)
}

func (e *TwoSidedEngine) forwardBid(bid *domain.Bid) {
	fwd, err := e.target.PostBid(market.BidSpec{
		Price:  bid.Price,
		Energy: bid.Energy,
		Buyer: domain.Trader{
			Name:   e.owner.Name(),
			Origin: bid.Buyer.Origin,
		},
		OriginalPrice: &bid.OriginalPrice,
		SkipDispatch:  true,
	})
	if err != nil {
		// A bid fee large enough to push the rate negative is the normal
		// way a bid becomes unforwardable.
		e.ignoredBids[bid.ID] = struct{}{}
		e.log.Debug("bid not forwardable", "bid_id", bid.ID, "err", err)
		return
	}
	e.forwardedBids.add(bid.ID, fwd.ID, bid, fwd)
	e.target.DispatchBidEvent(fwd)
	e.log.Debug("bid forwarded",
		"bid_id", bid.ID, "forwarded_id", fwd.ID,
		"energy", bid.Energy, "rate", bid.EnergyRate())
}

// HandleEvent routes both offer and bid events.
func (e *TwoSidedEngine) HandleEvent(ev market.Event) {
	if e.mirroring {
		return
	}
	switch ev.Kind {
	case market.EventBid:
		e.onBid(ev)
	case market.EventBidSplit:
		e.onBidSplit(ev)
	case market.EventBidTraded:
		e.onBidTraded(ev)
	case market.EventBidDeleted:
		e.onBidDeleted(ev)
	default:
		e.Engine.HandleEvent(ev)
	}
}

func (e *TwoSidedEngine) onBid(ev market.Event) {
	if ev.MarketID != e.source.ID {
		return
	}
	// First-seen ticks are recorded by the sweep, same as for offers.
	if e.minBidAge == 0 && e.bidEligible(ev.Bid) {
		e.forwardBid(ev.Bid)
	}
}

func (e *TwoSidedEngine) onBidSplit(ev market.Event) {
	p, ok := e.forwardedBids.lookup(ev.OriginalBid.ID)
	if !ok {
		return
	}
	var mirror *market.Market
	switch {
	case ev.MarketID == e.target.ID && p.targetID == ev.OriginalBid.ID:
		mirror = e.source
	case ev.MarketID == e.source.ID && p.sourceID == ev.OriginalBid.ID:
		mirror = e.target
	default:
		return
	}

	mirrorID := p.sourceID
	if mirror == e.target {
		mirrorID = p.targetID
	}
	e.mirroring = true
	accepted, residual, err := mirror.SplitBid(mirrorID, ev.AcceptedBid.Energy)
	e.mirroring = false
	if err != nil {
		e.log.Error("bid split mirror failed",
			"bid_id", ev.OriginalBid.ID, "mirror_id", mirrorID, "err", err)
		return
	}

	e.forwardedBids.remove(p)
	if mirror == e.source {
		e.forwardedBids.add(accepted.ID, ev.AcceptedBid.ID, accepted, ev.AcceptedBid)
		e.forwardedBids.add(residual.ID, ev.ResidualBid.ID, residual, ev.ResidualBid)
		e.bidAge[residual.ID] = e.bidAge[p.sourceID]
	} else {
		e.forwardedBids.add(ev.AcceptedBid.ID, accepted.ID, ev.AcceptedBid, accepted)
		e.forwardedBids.add(ev.ResidualBid.ID, residual.ID, ev.ResidualBid, residual)
		e.bidAge[ev.ResidualBid.ID] = e.bidAge[p.sourceID]
	}
}

func (e *TwoSidedEngine) onBidTraded(ev market.Event) {
	trade := ev.Trade
	p, ok := e.forwardedBids.lookup(trade.Bid.ID)
	if !ok {
		return
	}
	switch trade.Bid.ID {
	case p.targetID:
		e.propagateTargetBidTrade(p, trade)
	case p.sourceID:
		e.mirroring = true
		err := e.target.DeleteBid(p.targetID)
		e.mirroring = false
		if err != nil && !errors.Is(err, domain.ErrBidNotFound) {
			e.log.Error("stale forwarded bid not deleted",
				"bid_id", p.targetID, "err", err)
		}
		e.forwardedBids.remove(p)
		delete(e.bidAge, p.sourceID)
	}
}

// propagateTargetBidTrade sells into the source bid after its forwarded copy
// traded in the target market.
func (e *TwoSidedEngine) propagateTargetBidTrade(p *pair[*domain.Bid], trade *domain.Trade) {
	sourceRate := p.source.EnergyRate()
	// Fees only ever decrease bid rates on the way out, so a forwarded bid
	// can never trade above the rate its source was willing to pay.
	if trade.TradeRate() > sourceRate+domain.FloatingPointTolerance {
		panic(fmt.Sprintf(
			"agent %s: forwarded bid %s traded at %v above source rate %v",
			e.name, p.targetID, trade.TradeRate(), sourceRate))
	}

	e.mirroring = true
	sourceTrade, err := e.source.AcceptBid(
		p.sourceID,
		domain.Trader{Name: e.owner.Name(), Origin: trade.Seller.Origin},
		trade.TradedEnergy,
		sourceRate,
		false,
	)
	e.mirroring = false
	if err != nil {
		if errors.Is(err, domain.ErrBidNotFound) {
			e.forwardedBids.remove(p)
			delete(e.bidAge, p.sourceID)
			e.log.Error("source bid vanished before trade propagation",
				"bid_id", p.sourceID, "err", err)
			return
		}
		panic(fmt.Sprintf("agent %s: bid trade propagation failed: %v", e.name, err))
	}

	e.forwardedBids.remove(p)
	delete(e.bidAge, p.sourceID)
	if sourceTrade.ResidualBid != nil && trade.ResidualBid != nil {
		e.forwardedBids.add(
			sourceTrade.ResidualBid.ID, trade.ResidualBid.ID,
			sourceTrade.ResidualBid, trade.ResidualBid,
		)
		e.bidAge[sourceTrade.ResidualBid.ID] = e.lastTick
	}
}

func (e *TwoSidedEngine) onBidDeleted(ev market.Event) {
	if ev.MarketID != e.source.ID {
		return
	}
	delete(e.bidAge, ev.Bid.ID)
	delete(e.ignoredBids, ev.Bid.ID)
	p, ok := e.forwardedBids.lookup(ev.Bid.ID)
	if !ok || p.sourceID != ev.Bid.ID {
		return
	}
	e.mirroring = true
	err := e.target.DeleteBid(p.targetID)
	e.mirroring = false
	if err != nil && !errors.Is(err, domain.ErrBidNotFound) {
		e.log.Error("forwarded bid not deleted", "bid_id", p.targetID, "err", err)
	}
	e.forwardedBids.remove(p)
}

// ForwardedBid returns the forwarded counterpart of a bid id, if any.
func (e *TwoSidedEngine) ForwardedBid(id string) (*domain.Bid, bool) {
	p, ok := e.forwardedBids.lookup(id)
	if !ok {
		return nil, false
	}
	if p.sourceID == id {
		return p.target, true
	}
	return p.source, true
}
