package sim

import (
	"log/slog"

	"github.com/efreitasn/gridmarket/internal/domain"
	"github.com/efreitasn/gridmarket/internal/market"
)

// Strategy is the behavior of a leaf area's device. OnTick is called once
// per tick with the area's open spot market; slotTick counts ticks within
// the current slot starting at zero.
type Strategy interface {
	OnTick(m *market.Market, slotTick int)
}

// Producer sells a fixed amount of energy every slot at a fixed rate.
type Producer struct {
	Name      string
	EnergyKWh float64 // per slot
	Rate      float64 // cents/kWh
	Log       *slog.Logger
}

// OnTick posts the slot's production as a single offer at slot start.
func (p *Producer) OnTick(m *market.Market, slotTick int) {
	if slotTick != 0 {
		return
	}
	trader := domain.Trader{Name: p.Name, Origin: p.Name}
	if _, err := m.Offer(p.Rate*p.EnergyKWh, p.EnergyKWh, trader); err != nil {
		p.Log.Error("offer rejected", "producer", p.Name, "err", err)
	}
}

// Consumer buys a fixed amount of energy every slot. In two-sided markets it
// posts a bid at its maximum acceptable rate; in one-sided markets it
// accepts the cheapest open offers each tick until its demand is covered.
type Consumer struct {
	Name      string
	EnergyKWh float64 // per slot
	MaxRate   float64 // cents/kWh
	Log       *slog.Logger

	remaining float64
}

// OnTick places or refreshes the consumer's demand for the current slot.
func (c *Consumer) OnTick(m *market.Market, slotTick int) {
	if slotTick == 0 {
		c.remaining = c.EnergyKWh
	}
	trader := domain.Trader{Name: c.Name, Origin: c.Name}

	if m.Kind.TwoSided() {
		if slotTick != 0 {
			return
		}
		if _, err := m.Bid(c.MaxRate*c.EnergyKWh, c.EnergyKWh, trader); err != nil {
			c.Log.Error("bid rejected", "consumer", c.Name, "err", err)
		}
		return
	}

	for _, offer := range m.OpenOffers() {
		if c.remaining <= domain.FloatingPointTolerance {
			return
		}
		if offer.Seller.Name == c.Name {
			continue
		}
		if offer.EnergyRate() > c.MaxRate+domain.FloatingPointTolerance {
			return
		}
		energy := c.remaining
		if offer.Energy < energy {
			energy = offer.Energy
		}
		trade, err := m.AcceptOffer(offer.ID, trader, energy, 0)
		if err != nil {
			c.Log.Error("accept failed", "consumer", c.Name, "offer_id", offer.ID, "err", err)
			return
		}
		c.remaining -= trade.TradedEnergy
	}
}
