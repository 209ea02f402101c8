// Package sim runs the tick-driven simulation: it owns the area hierarchy,
// opens and rotates per-slot markets, drives device strategies and
// inter-area agents, and runs the matching cycle on two-sided markets.
//
// The tick loop is single-threaded. A read-write lock guards the whole
// state so HTTP snapshot readers can observe it between ticks.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/efreitasn/gridmarket/internal/agent"
	"github.com/efreitasn/gridmarket/internal/area"
	"github.com/efreitasn/gridmarket/internal/domain"
	"github.com/efreitasn/gridmarket/internal/market"
	"github.com/efreitasn/gridmarket/internal/matching"
	"github.com/efreitasn/gridmarket/internal/store"
)

// Params configures a simulation run.
type Params struct {
	Kind         market.Kind
	StartTime    time.Time
	SlotLength   time.Duration
	TicksPerSlot int
	SlotCount    int
	TickInterval time.Duration // 0 runs as fast as possible

	MinOfferAge int
	MinBidAge   int

	SpotRetention    time.Duration
	SettlementAge    time.Duration
	EnableSettlement bool

	// ClearingInterval is the number of ticks between pay-as-clear auction
	// rounds; 0 clears once at the end of each slot.
	ClearingInterval int

	Seed int64
}

// Simulation drives one market hierarchy through time.
type Simulation struct {
	mu sync.RWMutex

	root   *Area
	params Params
	trades *store.TradeStore
	log    *slog.Logger

	now  time.Time // current slot start
	tick int

	seedCounter int64

	onTrade func(areaName, marketID string, t *domain.Trade)
}

// New wires a simulation around an area tree. The first slot's markets and
// agents are opened immediately.
func New(root *Area, params Params, log *slog.Logger) (*Simulation, error) {
	if root.Leaf() {
		return nil, fmt.Errorf("root area %q has no children", root.Name)
	}
	if params.TicksPerSlot < 1 {
		return nil, fmt.Errorf("ticks per slot must be at least 1, got %d", params.TicksPerSlot)
	}
	if params.ClearingInterval == 0 {
		params.ClearingInterval = params.TicksPerSlot
	}

	s := &Simulation{
		root:   root,
		params: params,
		trades: store.NewTradeStore(),
		log:    log,
		now:    params.StartTime.Truncate(params.SlotLength),
	}
	root.walk(func(a *Area) {
		if a.Leaf() {
			return
		}
		a.markets = area.NewMarkets(area.Options{
			SlotLength:    params.SlotLength,
			SpotRetention: params.SpotRetention,
			SettlementAge: params.SettlementAge,
		})
		a.agents = make(map[time.Time]*agent.AreaAgent)
	})
	s.openSlot(s.now)
	return s, nil
}

// Root returns the area hierarchy.
func (s *Simulation) Root() *Area {
	return s.root
}

// FindArea returns the named area, if present in the hierarchy.
func (s *Simulation) FindArea(name string) (*Area, bool) {
	return s.root.find(name)
}

// FindMarket searches every area's open and historical markets for an id.
func (s *Simulation) FindMarket(id string) (*market.Market, bool) {
	var found *market.Market
	s.root.walk(func(a *Area) {
		if a.Leaf() || found != nil {
			return
		}
		for _, m := range a.markets.AllMarkets() {
			if m.ID == id {
				found = m
				return
			}
		}
	})
	return found, found != nil
}

// Trades returns the simulation-wide trade log.
func (s *Simulation) Trades() *store.TradeStore {
	return s.trades
}

// View runs fn while holding the snapshot read lock, so fn sees a state
// between ticks, never mid-tick.
func (s *Simulation) View(fn func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn()
}

// CurrentSlot returns the slot currently trading.
func (s *Simulation) CurrentSlot() time.Time {
	return s.now
}

// Tick returns the number of completed ticks.
func (s *Simulation) Tick() int {
	return s.tick
}

func (s *Simulation) nextSeed() int64 {
	s.seedCounter++
	return s.params.Seed + s.seedCounter
}

// openSlot creates the slot's market in every non-leaf area, plus the
// boundary agents between each such area and its parent.
func (s *Simulation) openSlot(slot time.Time) {
	s.root.walk(func(a *Area) {
		if a.Leaf() {
			return
		}
		mkt := market.New(s.params.Kind, slot, a.Name, a.Fee, s.nextSeed())
		s.watchTrades(a.Name, mkt)
		if err := a.markets.AddSpot(mkt); err != nil {
			s.log.Error("spot market not opened", "area", a.Name, "slot", slot, "err", err)
			return
		}
		if s.params.EnableSettlement {
			kind := s.params.Kind
			if !kind.TwoSided() {
				kind = market.TwoSidedPayAsBid
			}
			smkt := market.New(kind, slot, a.Name, a.Fee, s.nextSeed())
			s.watchTrades(a.Name, smkt)
			if err := a.markets.AddSettlement(smkt); err != nil {
				s.log.Error("settlement market not opened", "area", a.Name, "slot", slot, "err", err)
			}
		}
	})

	// Agents second: both sides of every boundary must exist first.
	s.root.walk(func(a *Area) {
		if a.Leaf() || a.parent == nil {
			return
		}
		lower, _ := a.markets.SpotForSlot(slot)
		higher, _ := a.parent.markets.SpotForSlot(slot)
		if lower == nil || higher == nil {
			return
		}
		a.agents[slot] = agent.New(
			"IAA "+a.Name, lower, higher,
			s.params.MinOfferAge, s.params.MinBidAge, s.log,
		)
	})
}

// OnTrade registers fn to be called for every executed trade. Call before
// the first Step; trades from the current slot's markets are included.
func (s *Simulation) OnTrade(fn func(areaName, marketID string, t *domain.Trade)) {
	s.onTrade = fn
}

func (s *Simulation) watchTrades(areaName string, mkt *market.Market) {
	mkt.AddListener(func(ev market.Event) {
		if ev.Kind == market.EventOfferTraded || ev.Kind == market.EventBidTraded {
			s.trades.Append(areaName, ev.Trade)
			if s.onTrade != nil {
				s.onTrade(areaName, ev.MarketID, ev.Trade)
			}
		}
	})
}

// Step advances the simulation by one tick: slot rotation at slot
// boundaries, then clocks, device strategies, agent forwarding and the
// matching cycle.
func (s *Simulation) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()

	slotTick := s.tick % s.params.TicksPerSlot
	if s.tick > 0 && slotTick == 0 {
		s.rotate()
	}

	s.root.walk(func(a *Area) {
		if a.Leaf() {
			return
		}
		for _, m := range a.markets.OpenSpot() {
			m.UpdateClock(s.tick)
		}
		for _, m := range a.markets.OpenSettlement() {
			m.UpdateClock(s.tick)
		}
	})

	s.root.walk(func(a *Area) {
		if a.Strategy == nil || a.parent == nil {
			return
		}
		if m, ok := a.parent.markets.SpotForSlot(s.now); ok {
			a.Strategy.OnTick(m, slotTick)
		}
	})

	s.root.walk(func(a *Area) {
		if ag, ok := a.agents[s.now]; ok {
			ag.Tick(s.tick)
		}
	})

	s.runMatching(slotTick)

	s.tick++
}

// rotate closes the finished slot everywhere and opens the next one.
func (s *Simulation) rotate() {
	s.now = s.now.Add(s.params.SlotLength)
	s.root.walk(func(a *Area) {
		if a.Leaf() {
			return
		}
		a.markets.Rotate(s.now)
		for slot := range a.agents {
			if slot.Before(s.now) {
				delete(a.agents, slot)
			}
		}
	})
	s.openSlot(s.now)
	s.log.Info("slot rotated", "slot", s.now, "tick", s.tick)
}

// runMatching runs the matching algorithm on every open two-sided market.
// Pay-as-bid matches continuously; pay-as-clear only on clearing ticks.
func (s *Simulation) runMatching(slotTick int) {
	s.root.walk(func(a *Area) {
		if a.Leaf() {
			return
		}
		markets := a.markets.OpenSpot()
		markets = append(markets, a.markets.OpenSettlement()...)
		for _, m := range markets {
			var alg matching.Algorithm
			switch m.Kind {
			case market.TwoSidedPayAsBid:
				alg = matching.PayAsBid{}
			case market.TwoSidedPayAsClear:
				if (slotTick+1)%s.params.ClearingInterval != 0 {
					continue
				}
				alg = matching.PayAsClear{}
			default:
				continue
			}
			// Pay-as-bid keeps matching until the books no longer cross;
			// pay-as-clear is a single auction round per clearing tick.
			for {
				recs := alg.Recommend(m.OpenBids(), m.OpenOffers())
				if len(recs) == 0 {
					break
				}
				if err := m.MatchRecommendations(recs); err != nil {
					s.log.Error("matching cycle failed", "market_id", m.ID, "err", err)
					break
				}
				if m.Kind == market.TwoSidedPayAsClear {
					break
				}
			}
		}
	})
}

// Run steps the simulation until every configured slot has completed or the
// context is canceled.
func (s *Simulation) Run(ctx context.Context) error {
	total := s.params.SlotCount * s.params.TicksPerSlot
	var ticker *time.Ticker
	if s.params.TickInterval > 0 {
		ticker = time.NewTicker(s.params.TickInterval)
		defer ticker.Stop()
	}
	for i := 0; i < total; i++ {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		s.Step()
	}
	s.log.Info("simulation finished", "ticks", total, "slots", s.params.SlotCount)
	return nil
}
