// Package service exposes read-only views over a running simulation for the
// observation surface.
package service

import (
	"fmt"
	"time"

	"github.com/efreitasn/gridmarket/internal/domain"
	"github.com/efreitasn/gridmarket/internal/market"
	"github.com/efreitasn/gridmarket/internal/sim"
)

// Query answers snapshot queries against a simulation. Every method takes
// the simulation's read lock, so responses always describe a state between
// ticks.
type Query struct {
	sim *sim.Simulation
}

// NewQuery creates a Query service over a simulation.
func NewQuery(s *sim.Simulation) *Query {
	return &Query{sim: s}
}

// Status is the simulation-level snapshot.
type Status struct {
	CurrentSlot string `json:"current_slot"`
	Tick        int    `json:"tick"`
}

// Status reports where the simulation clock stands.
func (q *Query) Status() Status {
	var st Status
	q.sim.View(func() {
		st = Status{
			CurrentSlot: q.sim.CurrentSlot().Format(time.RFC3339),
			Tick:        q.sim.Tick(),
		}
	})
	return st
}

// AreaSummary describes one area of the hierarchy.
type AreaSummary struct {
	Name     string   `json:"name"`
	Leaf     bool     `json:"leaf"`
	Children []string `json:"children,omitempty"`
}

// Areas lists every area in the hierarchy, parents before children.
func (q *Query) Areas() []AreaSummary {
	var out []AreaSummary
	q.sim.View(func() {
		q.sim.Root().Walk(func(a *sim.Area) {
			s := AreaSummary{Name: a.Name, Leaf: a.Leaf()}
			for _, c := range a.Children {
				s.Children = append(s.Children, c.Name)
			}
			out = append(out, s)
		})
	})
	return out
}

// AreaMarkets returns info snapshots for all of an area's markets, open and
// historical, spot and settlement.
func (q *Query) AreaMarkets(name string) ([]market.Info, error) {
	var infos []market.Info
	var failed error
	q.sim.View(func() {
		a, ok := q.sim.FindArea(name)
		if !ok {
			failed = fmt.Errorf("%w: %s", domain.ErrAreaNotFound, name)
			return
		}
		if a.Leaf() {
			failed = fmt.Errorf("%w: %s is a device, not a market area", domain.ErrAreaNotFound, name)
			return
		}
		for _, m := range a.Markets().AllMarkets() {
			infos = append(infos, m.Info())
		}
	})
	return infos, failed
}

// MarketInfo returns the info snapshot of one market by id.
func (q *Query) MarketInfo(id string) (market.Info, error) {
	var info market.Info
	var failed error
	q.sim.View(func() {
		m, ok := q.sim.FindMarket(id)
		if !ok {
			failed = fmt.Errorf("%w: %s", domain.ErrMarketNotFound, id)
			return
		}
		info = m.Info()
	})
	return info, failed
}

// Stats is the aggregate trading view of one market.
type Stats struct {
	TradeCount    int                `json:"trade_count"`
	TradedEnergy  float64            `json:"traded_energy"`
	TradedValue   float64            `json:"traded_value"`
	MarketFee     float64            `json:"market_fee"`
	AvgTradePrice float64            `json:"avg_trade_price"`
	MinTradePrice float64            `json:"min_trade_price"`
	MaxTradePrice float64            `json:"max_trade_price"`
	AvgOfferPrice float64            `json:"avg_offer_price"`
	MinOfferPrice float64            `json:"min_offer_price"`
	MaxOfferPrice float64            `json:"max_offer_price"`
	EnergyByTrade map[string]float64 `json:"traded_energy_by_trader"`
}

// MarketStats returns the aggregates of one market by id.
func (q *Query) MarketStats(id string) (Stats, error) {
	var st Stats
	var failed error
	q.sim.View(func() {
		m, ok := q.sim.FindMarket(id)
		if !ok {
			failed = fmt.Errorf("%w: %s", domain.ErrMarketNotFound, id)
			return
		}
		info := m.Info()
		st = Stats{
			TradeCount:    info.TradeCount,
			TradedEnergy:  info.TradedEnergy,
			TradedValue:   info.TradedValue,
			MarketFee:     info.MarketFee,
			AvgTradePrice: info.AvgTradePrice,
			MinTradePrice: info.MinTradePrice,
			MaxTradePrice: info.MaxTradePrice,
			AvgOfferPrice: info.AvgOfferPrice,
			MinOfferPrice: info.MinOfferPrice,
			MaxOfferPrice: info.MaxOfferPrice,
			EnergyByTrade: info.EnergyByTrade,
		}
	})
	return st, failed
}

// MarketOffers returns the open offers of one market.
func (q *Query) MarketOffers(id string) ([]map[string]any, error) {
	var out []map[string]any
	var failed error
	q.sim.View(func() {
		m, ok := q.sim.FindMarket(id)
		if !ok {
			failed = fmt.Errorf("%w: %s", domain.ErrMarketNotFound, id)
			return
		}
		for _, o := range m.OpenOffers() {
			out = append(out, o.SerializableDict())
		}
	})
	return out, failed
}

// MarketBids returns the open bids of one market.
func (q *Query) MarketBids(id string) ([]map[string]any, error) {
	var out []map[string]any
	var failed error
	q.sim.View(func() {
		m, ok := q.sim.FindMarket(id)
		if !ok {
			failed = fmt.Errorf("%w: %s", domain.ErrMarketNotFound, id)
			return
		}
		for _, b := range m.OpenBids() {
			out = append(out, b.SerializableDict())
		}
	})
	return out, failed
}

// MarketTrades returns the trade log of one market.
func (q *Query) MarketTrades(id string) ([]map[string]any, error) {
	var out []map[string]any
	var failed error
	q.sim.View(func() {
		m, ok := q.sim.FindMarket(id)
		if !ok {
			failed = fmt.Errorf("%w: %s", domain.ErrMarketNotFound, id)
			return
		}
		for _, t := range m.Trades() {
			out = append(out, t.SerializableDict())
		}
	})
	return out, failed
}

// AreaTrades returns the persistent trade log of one area, surviving market
// rotation.
func (q *Query) AreaTrades(name string) ([]map[string]any, error) {
	var out []map[string]any
	var failed error
	q.sim.View(func() {
		if _, ok := q.sim.FindArea(name); !ok {
			failed = fmt.Errorf("%w: %s", domain.ErrAreaNotFound, name)
			return
		}
		for _, t := range q.sim.Trades().GetByArea(name) {
			out = append(out, t.SerializableDict())
		}
	})
	return out, failed
}
