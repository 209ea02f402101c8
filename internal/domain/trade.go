package domain

import "time"

// Trade is the immutable result of matching an offer against a bid, or of a
// direct buyer acceptance in a one-sided market. Exactly one of Offer/Bid is
// set for one-sided trades; two-sided matches produce one trade per side.
// Created exactly once per accept operation and never mutated afterwards.
type Trade struct {
	ID           string
	TimeSlot     time.Time
	Seller       Trader
	Buyer        Trader
	Offer        *Offer // matched offer, repriced to the trade price
	Bid          *Bid   // matched bid, repriced to the trade price
	TradedEnergy float64
	TradePrice   float64 // cents, total
	// Residual of a partially filled order; at most one is non-nil.
	ResidualOffer *Offer
	ResidualBid   *Bid
	FeePrice float64 // grid fee share of the trade price, cents
}

// TradeRate returns the settled per-unit price in cents/kWh.
func (t *Trade) TradeRate() float64 {
	return t.TradePrice / t.TradedEnergy
}

// SerializableDict returns a flat mapping of the trade's public fields.
func (t *Trade) SerializableDict() map[string]any {
	d := map[string]any{
		"type":          "Trade",
		"id":            t.ID,
		"seller":        t.Seller.Name,
		"buyer":         t.Buyer.Name,
		"traded_energy": t.TradedEnergy,
		"trade_price":   t.TradePrice,
		"trade_rate":    t.TradeRate(),
		"fee_price":     t.FeePrice,
		"time_slot":     t.TimeSlot.Format(time.RFC3339),
	}
	if t.Offer != nil {
		d["offer_id"] = t.Offer.ID
	}
	if t.Bid != nil {
		d["bid_id"] = t.Bid.ID
	}
	if t.ResidualOffer != nil {
		d["residual_id"] = t.ResidualOffer.ID
	}
	if t.ResidualBid != nil {
		d["residual_id"] = t.ResidualBid.ID
	}
	return d
}
