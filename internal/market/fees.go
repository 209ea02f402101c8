package market

// FeeType selects how a grid fee adjusts an order price when the order
// crosses a market boundary.
type FeeType string

const (
	// FeeConstant charges a fixed amount of cents per kWh.
	FeeConstant FeeType = "constant"
	// FeePercentage charges a percentage of the order's original price.
	FeePercentage FeeType = "percentage"
)

// GridFee is a market's fee policy. Rate is cents/kWh for FeeConstant and a
// percentage (0-100) for FeePercentage. Fees only ever increase offer prices
// and decrease bid prices as orders move outward through the area hierarchy;
// the inter-area engines assert this monotonicity on trade propagation.
type GridFee struct {
	Type FeeType
	Rate float64
}

// NoFee is the zero fee policy.
var NoFee = GridFee{Type: FeeConstant, Rate: 0}

func (f GridFee) ratio() float64 {
	return f.Rate / 100
}

// ApplyToOfferRate adjusts an incoming offer's per-unit rate upward.
// originalRate is the rate the originating device asked for; percentage fees
// accrue against it so that chained markets charge on the original price,
// not on already-taxed prices.
func (f GridFee) ApplyToOfferRate(rate, originalRate float64) float64 {
	if f.Type == FeePercentage {
		return rate + originalRate*f.ratio()
	}
	return rate + f.Rate
}

// ApplyToBidRate adjusts an incoming bid's per-unit rate downward, the mirror
// image of the offer case.
func (f GridFee) ApplyToBidRate(rate, originalRate float64) float64 {
	if f.Type == FeePercentage {
		return rate - originalRate*f.ratio()
	}
	return rate - f.Rate
}

// TradeFee computes the fee share of a trade. energyPortion is the fraction
// of the original order the trade covers; originalPrice is the original
// order's total price.
func (f GridFee) TradeFee(energy, energyPortion, originalPrice float64) float64 {
	if f.Type == FeePercentage {
		return f.ratio() * originalPrice * energyPortion
	}
	return f.Rate * energy
}
