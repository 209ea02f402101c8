package area

import "time"

// rotator moves one category of markets through its lifecycle: open →
// read-only history → purged.
type rotator interface {
	rotate(now time.Time)
}

// spotRotator retires spot markets once their delivery slot has fully
// elapsed. A market whose slot is still running stays open even if now is
// past the slot start. Historical markets are kept for retention, measured
// from the slot start, then purged.
type spotRotator struct {
	markets    *Markets
	slotLength time.Duration
	retention  time.Duration
}

func (r *spotRotator) rotate(now time.Time) {
	for slot, mkt := range r.markets.Spot {
		if !slot.Add(r.slotLength).After(now) {
			mkt.MarkReadOnly()
			r.markets.PastSpot[slot] = mkt
			delete(r.markets.Spot, slot)
		}
	}
	for slot, mkt := range r.markets.PastSpot {
		if slot.Add(r.retention).Before(now) {
			mkt.Purge()
			delete(r.markets.PastSpot, slot)
		}
	}
}

// settlementRotator retires settlement markets only after they have stayed
// open for maxAge past delivery, so deviations from the delivered slot can
// still be traded.
type settlementRotator struct {
	markets    *Markets
	maxAge     time.Duration
	slotLength time.Duration
}

func (r *settlementRotator) rotate(now time.Time) {
	for slot, mkt := range r.markets.Settlement {
		if !slot.Add(r.slotLength).Add(r.maxAge).After(now) {
			mkt.MarkReadOnly()
			r.markets.PastSettlement[slot] = mkt
			delete(r.markets.Settlement, slot)
		}
	}
	for slot, mkt := range r.markets.PastSettlement {
		if !slot.Add(2 * r.slotLength).Add(r.maxAge).After(now) {
			mkt.Purge()
			delete(r.markets.PastSettlement, slot)
		}
	}
}
