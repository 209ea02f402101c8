package domain

import "errors"

// Sentinel errors for market-level error handling. Validation errors are
// raised synchronously from order posting and never retried. Not-found errors
// are expected to be caught by inter-area engines for benign races between
// deletion and trade. State errors always indicate a caller bug.
var (
	ErrInvalidOrder        = errors.New("invalid_order")
	ErrNegativeEnergyOrder = errors.New("negative_energy_order")
	ErrNegativePriceOrder  = errors.New("negative_price_order")
	ErrOfferNotFound       = errors.New("offer_not_found")
	ErrBidNotFound         = errors.New("bid_not_found")
	ErrInvalidTrade        = errors.New("invalid_trade")
	ErrMarketReadOnly      = errors.New("market_read_only")
	ErrWrongMarketKind     = errors.New("wrong_market_kind")
	ErrAreaNotFound        = errors.New("area_not_found")
	ErrMarketNotFound      = errors.New("market_not_found")
)
