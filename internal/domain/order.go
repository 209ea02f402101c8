package domain

import (
	"math"
	"time"
)

// FloatingPointTolerance governs every equality or ordering comparison of
// economic quantities (energy in kWh, prices in cents). Exact float equality
// is never used for these values.
const FloatingPointTolerance = 1e-5

// Close reports whether two economic quantities are equal within
// FloatingPointTolerance.
func Close(a, b float64) bool {
	return math.Abs(a-b) <= FloatingPointTolerance
}

// Trader identifies a market participant. Name is the trading identity used
// for matching and settlement; Origin is the identity of the device or area
// the order originally came from, preserved across inter-area forwarding.
type Trader struct {
	Name   string
	Origin string
}

// Offer is a sell-side order: a fixed amount of energy at a fixed total price.
// Price is the total price in cents, not per-unit; the per-unit rate is
// derived via EnergyRate. OriginalPrice carries the price the originating
// device asked for, before any grid fees were applied on market boundaries.
type Offer struct {
	ID            string
	TimeSlot      time.Time
	Price         float64 // cents, total
	Energy        float64 // kWh
	Seller        Trader
	OriginalPrice float64
}

// EnergyRate returns the per-unit price in cents/kWh.
func (o *Offer) EnergyRate() float64 {
	return o.Price / o.Energy
}

// UpdatePrice reprices the offer. Only used when an accepted portion of a
// split offer settles at a trade rate different from the posted rate.
func (o *Offer) UpdatePrice(price float64) {
	o.Price = price
}

// SerializableDict returns a flat mapping of the offer's public fields.
// This is the only persisted-state surface the core guarantees stability on.
func (o *Offer) SerializableDict() map[string]any {
	return map[string]any{
		"type":        "Offer",
		"id":          o.ID,
		"energy":      o.Energy,
		"price":       o.Price,
		"energy_rate": o.EnergyRate(),
		"seller":      o.Seller.Name,
		"origin":      o.Seller.Origin,
		"time_slot":   o.TimeSlot.Format(time.RFC3339),
	}
}

// Bid is a buy-side order, mirroring Offer.
type Bid struct {
	ID            string
	TimeSlot      time.Time
	Price         float64 // cents, total
	Energy        float64 // kWh
	Buyer         Trader
	OriginalPrice float64
}

// EnergyRate returns the per-unit price in cents/kWh.
func (b *Bid) EnergyRate() float64 {
	return b.Price / b.Energy
}

// UpdatePrice reprices the bid.
func (b *Bid) UpdatePrice(price float64) {
	b.Price = price
}

// SerializableDict returns a flat mapping of the bid's public fields.
func (b *Bid) SerializableDict() map[string]any {
	return map[string]any{
		"type":        "Bid",
		"id":          b.ID,
		"energy":      b.Energy,
		"price":       b.Price,
		"energy_rate": b.EnergyRate(),
		"buyer":       b.Buyer.Name,
		"origin":      b.Buyer.Origin,
		"time_slot":   b.TimeSlot.Format(time.RFC3339),
	}
}
