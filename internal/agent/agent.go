package agent

import (
	"log/slog"

	"github.com/efreitasn/gridmarket/internal/domain"
	"github.com/efreitasn/gridmarket/internal/market"
)

// runner is the per-direction engine surface the agent drives.
type runner interface {
	Tick(tick int)
	HandleEvent(ev market.Event)
	offerPlanted(id string) bool
	bidPlanted(id string) bool
}

// offerPlanted reports whether the engine itself posted this offer as the
// target side of a forwarded pair.
func (e *Engine) offerPlanted(id string) bool {
	p, ok := e.forwarded.lookup(id)
	return ok && p.targetID == id
}

func (e *Engine) bidPlanted(string) bool { return false }

func (e *TwoSidedEngine) bidPlanted(id string) bool {
	p, ok := e.forwardedBids.lookup(id)
	return ok && p.targetID == id
}

// AreaAgent trades across the boundary between an area's market and its
// parent area's market. It owns one engine per direction and registers
// itself as a listener on both markets. For the same slot an area has
// exactly one agent per boundary.
type AreaAgent struct {
	name    string
	lower   *market.Market
	higher  *market.Market
	engines []runner
}

// New creates an agent for the boundary between lower (the area's own
// market) and higher (the parent area's market) and subscribes it to both.
// Both markets must be of the same kind.
func New(name string, lower, higher *market.Market, minOfferAge, minBidAge int, log *slog.Logger) *AreaAgent {
	a := &AreaAgent{name: name, lower: lower, higher: higher}
	if lower.Kind.TwoSided() {
		a.engines = []runner{
			NewTwoSidedEngine("high->low", a, higher, lower, minOfferAge, minBidAge, log),
			NewTwoSidedEngine("low->high", a, lower, higher, minOfferAge, minBidAge, log),
		}
	} else {
		a.engines = []runner{
			NewEngine("high->low", a, higher, lower, minOfferAge, log),
			NewEngine("low->high", a, lower, higher, minOfferAge, log),
		}
	}
	lower.AddListener(a.HandleEvent)
	higher.AddListener(a.HandleEvent)
	return a
}

// Name returns the agent's trading identity.
func (a *AreaAgent) Name() string { return a.name }

// UsableOffer vetoes forwarding of offers this agent itself planted, so the
// two directions cannot bounce an offer between the markets forever.
func (a *AreaAgent) UsableOffer(o *domain.Offer) bool {
	for _, e := range a.engines {
		if e.offerPlanted(o.ID) {
			return false
		}
	}
	return true
}

// UsableBid is the bid-side counterpart of UsableOffer.
func (a *AreaAgent) UsableBid(b *domain.Bid) bool {
	for _, e := range a.engines {
		if e.bidPlanted(b.ID) {
			return false
		}
	}
	return true
}

// Tick runs the forwarding sweep of both engines.
func (a *AreaAgent) Tick(tick int) {
	for _, e := range a.engines {
		e.Tick(tick)
	}
}

// HandleEvent fans a market event out to both engines.
func (a *AreaAgent) HandleEvent(ev market.Event) {
	for _, e := range a.engines {
		e.HandleEvent(ev)
	}
}
