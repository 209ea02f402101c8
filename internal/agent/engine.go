// Package agent implements inter-area trading: agents that sit on the
// boundary between two markets, forward open orders from one into the other
// after a minimum age, and propagate trades, deletions and splits back so
// both markets stay consistent.
package agent

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/efreitasn/gridmarket/internal/domain"
	"github.com/efreitasn/gridmarket/internal/market"
)

// Owner is the agent an engine forwards on behalf of. UsableOffer and
// UsableBid let the owner veto forwarding, which is how an agent avoids
// re-forwarding orders that one of its own engines planted.
type Owner interface {
	Name() string
	UsableOffer(o *domain.Offer) bool
	UsableBid(b *domain.Bid) bool
}

// Engine forwards offers one way between two markets. An agent owns one
// engine per direction. The engine is driven by the market event stream plus
// a per-tick sweep that forwards offers old enough to have failed to trade
// locally.
type Engine struct {
	name  string
	owner Owner

	source *market.Market
	target *market.Market

	minOfferAge int
	lastTick    int

	offerAge  map[string]int // offer id → tick first seen in source
	forwarded *pairTable[*domain.Offer]
	ignored   map[string]struct{} // offers that can never be forwarded

	// mirroring suppresses event handling for mutations the engine itself
	// performs while propagating, so a mirrored split does not trigger a
	// second mirror of itself.
	mirroring bool

	log *slog.Logger
}

// NewEngine creates a one-directional offer forwarding engine. minOfferAge
// is the number of ticks an offer must stay unmatched in the source market
// before it is forwarded; 0 forwards immediately on posting.
func NewEngine(name string, owner Owner, source, target *market.Market, minOfferAge int, log *slog.Logger) *Engine {
	return &Engine{
		name:        name,
		owner:       owner,
		source:      source,
		target:      target,
		minOfferAge: minOfferAge,
		offerAge:    make(map[string]int),
		forwarded:   newPairTable[*domain.Offer](),
		ignored:     make(map[string]struct{}),
		log: log.With(
			slog.String("engine", name),
			slog.String("source", source.AreaName),
			slog.String("target", target.AreaName),
		),
	}
}

// Tick forwards every source offer that has aged past minOfferAge.
func (e *Engine) Tick(tick int) {
	e.lastTick = tick
	for _, offer := range e.source.OpenOffers() {
		if !e.eligible(offer) {
			continue
		}
		age, seen := e.offerAge[offer.ID]
		if !seen {
			e.offerAge[offer.ID] = tick
			age = tick
		}
		if tick-age >= e.minOfferAge {
			// The snapshot may be stale: re-fetch and skip offers that
			// vanished while the sweep was running.
			current, open := e.source.LookupOffer(offer.ID)
			if !open {
				continue
			}
			e.forwardOffer(current)
		}
	}
}

func (e *Engine) eligible(offer *domain.Offer) bool {
	if e.forwarded.contains(offer.ID) {
		return false
	}
	if _, ok := e.ignored[offer.ID]; ok {
		return false
	}
	if offer.Seller.Name == e.owner.Name() {
		// posted by this agent's other engine; forwarding it back would loop
		return false
	}
	return e.owner.UsableOffer(offer)
}

func (e *Engine) forwardOffer(offer *domain.Offer) {
	fwd, err := e.target.PostOffer(market.OfferSpec{
		Price:  offer.Price,
		Energy: offer.Energy,
		Seller: domain.Trader{
			Name:   e.owner.Name(),
			Origin: offer.Seller.Origin,
		},
		OriginalPrice: &offer.OriginalPrice,
		SkipDispatch:  true,
	})
	if err != nil {
		e.ignored[offer.ID] = struct{}{}
		e.log.Debug("offer not forwardable", "offer_id", offer.ID, "err", err)
		return
	}
	// The pair must exist before listeners hear about the forwarded offer,
	// or a chained agent could trade it while this engine has no record.
	e.forwarded.add(offer.ID, fwd.ID, offer, fwd)
	e.target.DispatchOfferEvent(fwd)
	e.log.Debug("offer forwarded",
		"offer_id", offer.ID, "forwarded_id", fwd.ID,
		"energy", offer.Energy, "rate", offer.EnergyRate())
}

// HandleEvent routes a market event from either market.
func (e *Engine) HandleEvent(ev market.Event) {
	if e.mirroring {
		return
	}
	switch ev.Kind {
	case market.EventOffer:
		e.onOffer(ev)
	case market.EventOfferSplit:
		e.onOfferSplit(ev)
	case market.EventOfferTraded:
		e.onOfferTraded(ev)
	case market.EventOfferDeleted:
		e.onOfferDeleted(ev)
	}
}

func (e *Engine) onOffer(ev market.Event) {
	if ev.MarketID != e.source.ID {
		return
	}
	// First-seen ticks are recorded by the sweep, not here: an offer posted
	// between two sweeps ages from the next sweep's tick.
	if e.minOfferAge == 0 && e.eligible(ev.Offer) {
		e.forwardOffer(ev.Offer)
	}
}

// onOfferSplit mirrors a partial fill of one side of a forwarded pair into
// the other market, so the pair's energies stay equal and the surviving
// residuals stay linked.
func (e *Engine) onOfferSplit(ev market.Event) {
	p, ok := e.forwarded.lookup(ev.OriginalOffer.ID)
	if !ok {
		return
	}
	var mirror *market.Market
	switch {
	case ev.MarketID == e.target.ID && p.targetID == ev.OriginalOffer.ID:
		mirror = e.source
	case ev.MarketID == e.source.ID && p.sourceID == ev.OriginalOffer.ID:
		mirror = e.target
	default:
		return
	}

	mirrorID := p.sourceID
	if mirror == e.target {
		mirrorID = p.targetID
	}
	e.mirroring = true
	accepted, residual, err := mirror.SplitOffer(mirrorID, ev.AcceptedOffer.Energy)
	e.mirroring = false
	if err != nil {
		e.log.Error("split mirror failed",
			"offer_id", ev.OriginalOffer.ID, "mirror_id", mirrorID, "err", err)
		return
	}

	e.forwarded.remove(p)
	if mirror == e.source {
		e.forwarded.add(accepted.ID, ev.AcceptedOffer.ID, accepted, ev.AcceptedOffer)
		e.forwarded.add(residual.ID, ev.ResidualOffer.ID, residual, ev.ResidualOffer)
		e.offerAge[residual.ID] = e.offerAge[p.sourceID]
	} else {
		e.forwarded.add(ev.AcceptedOffer.ID, accepted.ID, ev.AcceptedOffer, accepted)
		e.forwarded.add(ev.ResidualOffer.ID, residual.ID, ev.ResidualOffer, residual)
		e.offerAge[ev.ResidualOffer.ID] = e.offerAge[p.sourceID]
	}
	e.log.Debug("split mirrored",
		"offer_id", ev.OriginalOffer.ID,
		"accepted_energy", ev.AcceptedOffer.Energy,
		"residual_energy", ev.ResidualOffer.Energy)
}

func (e *Engine) onOfferTraded(ev market.Event) {
	trade := ev.Trade
	p, ok := e.forwarded.lookup(trade.Offer.ID)
	if !ok {
		return
	}
	switch trade.Offer.ID {
	case p.targetID:
		e.propagateTargetTrade(p, trade)
	case p.sourceID:
		// Traded locally in the source market; the forwarded copy in the
		// target is now backed by nothing and must go. Not finding it there
		// means a chained agent traded it in the same dispatch, which the
		// target-trade path already reconciled.
		e.mirroring = true
		err := e.target.DeleteOffer(p.targetID)
		e.mirroring = false
		if err != nil && !errors.Is(err, domain.ErrOfferNotFound) {
			e.log.Error("stale forwarded offer not deleted",
				"offer_id", p.targetID, "err", err)
		}
		e.forwarded.remove(p)
		delete(e.offerAge, p.sourceID)
	}
}

// propagateTargetTrade buys the source offer after its forwarded copy was
// bought in the target market, completing the chain seller → agent → buyer.
func (e *Engine) propagateTargetTrade(p *pair[*domain.Offer], trade *domain.Trade) {
	sourceRate := p.source.EnergyRate()
	// Fees only ever increase rates on the way out, so a forwarded offer can
	// never trade below the rate its source asked for.
	if trade.TradeRate() < sourceRate-domain.FloatingPointTolerance {
		panic(fmt.Sprintf(
			"agent %s: forwarded offer %s traded at %v below source rate %v",
			e.name, p.targetID, trade.TradeRate(), sourceRate))
	}

	e.mirroring = true
	sourceTrade, err := e.source.AcceptOffer(
		p.sourceID,
		domain.Trader{Name: e.owner.Name(), Origin: trade.Buyer.Origin},
		trade.TradedEnergy,
		sourceRate,
	)
	e.mirroring = false
	if err != nil {
		if errors.Is(err, domain.ErrOfferNotFound) {
			// Deleted under us between target trade and propagation. The
			// seller withdrew; nothing to settle on this side.
			e.forwarded.remove(p)
			delete(e.offerAge, p.sourceID)
			e.log.Error("source offer vanished before trade propagation",
				"offer_id", p.sourceID, "err", err)
			return
		}
		panic(fmt.Sprintf("agent %s: trade propagation failed: %v", e.name, err))
	}

	e.forwarded.remove(p)
	delete(e.offerAge, p.sourceID)
	if sourceTrade.ResidualOffer != nil && trade.ResidualOffer != nil {
		e.forwarded.add(
			sourceTrade.ResidualOffer.ID, trade.ResidualOffer.ID,
			sourceTrade.ResidualOffer, trade.ResidualOffer,
		)
		e.offerAge[sourceTrade.ResidualOffer.ID] = e.lastTick
	}
	e.log.Debug("trade propagated",
		"offer_id", p.sourceID, "energy", trade.TradedEnergy,
		"source_rate", sourceRate, "target_rate", trade.TradeRate())
}

func (e *Engine) onOfferDeleted(ev market.Event) {
	if ev.MarketID != e.source.ID {
		return
	}
	delete(e.offerAge, ev.Offer.ID)
	delete(e.ignored, ev.Offer.ID)
	p, ok := e.forwarded.lookup(ev.Offer.ID)
	if !ok || p.sourceID != ev.Offer.ID {
		return
	}
	e.mirroring = true
	err := e.target.DeleteOffer(p.targetID)
	e.mirroring = false
	if err != nil && !errors.Is(err, domain.ErrOfferNotFound) {
		e.log.Error("forwarded offer not deleted", "offer_id", p.targetID, "err", err)
	}
	e.forwarded.remove(p)
}
