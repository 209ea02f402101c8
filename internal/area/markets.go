// Package area manages the per-area collection of markets across time slots:
// the open spot market for each upcoming slot, settlement markets that stay
// open past delivery, and the rotation of both into read-only history.
package area

import (
	"fmt"
	"sort"
	"time"

	"github.com/efreitasn/gridmarket/internal/domain"
	"github.com/efreitasn/gridmarket/internal/market"
)

// Markets holds one area's markets keyed by slot start time. All maps are
// owned by the simulation tick loop; concurrent readers go through the
// simulation-level snapshot lock.
type Markets struct {
	Spot           map[time.Time]*market.Market
	PastSpot       map[time.Time]*market.Market
	Settlement     map[time.Time]*market.Market
	PastSettlement map[time.Time]*market.Market

	rotators []rotator
}

// Options configures rotation behavior for one area.
type Options struct {
	SlotLength time.Duration
	// SpotRetention is how long a rotated spot market stays queryable before
	// its collections are purged and it is dropped from history.
	SpotRetention time.Duration
	// SettlementAge is how long after delivery a settlement market keeps
	// accepting deviation trades.
	SettlementAge time.Duration
}

// NewMarkets creates an empty market collection for one area.
func NewMarkets(opts Options) *Markets {
	m := &Markets{
		Spot:           make(map[time.Time]*market.Market),
		PastSpot:       make(map[time.Time]*market.Market),
		Settlement:     make(map[time.Time]*market.Market),
		PastSettlement: make(map[time.Time]*market.Market),
	}
	m.rotators = []rotator{
		&spotRotator{markets: m, slotLength: opts.SlotLength, retention: opts.SpotRetention},
		&settlementRotator{
			markets:    m,
			maxAge:     opts.SettlementAge,
			slotLength: opts.SlotLength,
		},
	}
	return m
}

// AddSpot registers an open spot market under its slot.
func (m *Markets) AddSpot(mkt *market.Market) error {
	if _, ok := m.Spot[mkt.TimeSlot]; ok {
		return fmt.Errorf("%w: spot market for slot %s already exists",
			domain.ErrInvalidOrder, mkt.TimeSlot)
	}
	m.Spot[mkt.TimeSlot] = mkt
	return nil
}

// AddSettlement registers an open settlement market under its slot.
func (m *Markets) AddSettlement(mkt *market.Market) error {
	if _, ok := m.Settlement[mkt.TimeSlot]; ok {
		return fmt.Errorf("%w: settlement market for slot %s already exists",
			domain.ErrInvalidOrder, mkt.TimeSlot)
	}
	m.Settlement[mkt.TimeSlot] = mkt
	return nil
}

// SpotForSlot returns the open spot market for a slot, if any.
func (m *Markets) SpotForSlot(slot time.Time) (*market.Market, bool) {
	mkt, ok := m.Spot[slot]
	return mkt, ok
}

// SettlementForSlot returns the open settlement market for a slot, if any.
func (m *Markets) SettlementForSlot(slot time.Time) (*market.Market, bool) {
	mkt, ok := m.Settlement[slot]
	return mkt, ok
}

// OpenSpot returns the open spot markets ordered by slot.
func (m *Markets) OpenSpot() []*market.Market {
	return sortedBySlot(m.Spot)
}

// OpenSettlement returns the open settlement markets ordered by slot.
func (m *Markets) OpenSettlement() []*market.Market {
	return sortedBySlot(m.Settlement)
}

// AllMarkets returns every market the area still holds, open and historical,
// spot first, ordered by slot within each category.
func (m *Markets) AllMarkets() []*market.Market {
	out := sortedBySlot(m.Spot)
	out = append(out, sortedBySlot(m.PastSpot)...)
	out = append(out, sortedBySlot(m.Settlement)...)
	out = append(out, sortedBySlot(m.PastSettlement)...)
	return out
}

// Rotate moves delivered markets to history and drops history that aged out
// of retention. Idempotent: rotating twice at the same time is a no-op the
// second time.
func (m *Markets) Rotate(now time.Time) {
	for _, r := range m.rotators {
		r.rotate(now)
	}
}

func sortedBySlot(markets map[time.Time]*market.Market) []*market.Market {
	out := make([]*market.Market, 0, len(markets))
	for _, mkt := range markets {
		out = append(out, mkt)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TimeSlot.Before(out[j].TimeSlot)
	})
	return out
}
