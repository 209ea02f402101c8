// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the grid market simulator.
type Config struct {
	Port     int
	LogLevel string

	SlotLength   time.Duration
	TicksPerSlot int
	TickInterval time.Duration
	SlotCount    int

	MarketType   string // one_sided, two_sided_pay_as_bid, two_sided_pay_as_clear
	GridFeeType  string // constant, percentage
	GridFeeValue float64

	MinOfferAge int
	MinBidAge   int

	SpotRetention   time.Duration
	SettlementAge   time.Duration
	EnableSettlement bool

	RNGSeed int64

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	slotLength, err := getDuration("SLOT_LENGTH", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid SLOT_LENGTH: %w", err)
	}
	if slotLength <= 0 {
		return nil, fmt.Errorf("invalid SLOT_LENGTH: must be positive, got %s", slotLength)
	}

	ticksPerSlot, err := getInt("TICKS_PER_SLOT", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid TICKS_PER_SLOT: %w", err)
	}
	if ticksPerSlot < 1 {
		return nil, fmt.Errorf("invalid TICKS_PER_SLOT: must be at least 1, got %d", ticksPerSlot)
	}

	tickInterval, err := getDuration("TICK_INTERVAL", 1*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid TICK_INTERVAL: %w", err)
	}

	slotCount, err := getInt("SLOT_COUNT", 24)
	if err != nil {
		return nil, fmt.Errorf("invalid SLOT_COUNT: %w", err)
	}
	if slotCount < 1 {
		return nil, fmt.Errorf("invalid SLOT_COUNT: must be at least 1, got %d", slotCount)
	}

	marketType := getStr("MARKET_TYPE", "two_sided_pay_as_bid")
	if !isValidMarketType(marketType) {
		return nil, fmt.Errorf("invalid MARKET_TYPE: %q, must be one of: one_sided, two_sided_pay_as_bid, two_sided_pay_as_clear", marketType)
	}

	gridFeeType := getStr("GRID_FEE_TYPE", "constant")
	if gridFeeType != "constant" && gridFeeType != "percentage" {
		return nil, fmt.Errorf("invalid GRID_FEE_TYPE: %q, must be constant or percentage", gridFeeType)
	}

	gridFeeValue, err := getFloat("GRID_FEE_VALUE", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid GRID_FEE_VALUE: %w", err)
	}
	if gridFeeValue < 0 {
		return nil, fmt.Errorf("invalid GRID_FEE_VALUE: must be non-negative, got %v", gridFeeValue)
	}

	minOfferAge, err := getInt("MIN_OFFER_AGE", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_OFFER_AGE: %w", err)
	}
	if minOfferAge < 0 {
		return nil, fmt.Errorf("invalid MIN_OFFER_AGE: must be non-negative, got %d", minOfferAge)
	}

	minBidAge, err := getInt("MIN_BID_AGE", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_BID_AGE: %w", err)
	}
	if minBidAge < 0 {
		return nil, fmt.Errorf("invalid MIN_BID_AGE: must be non-negative, got %d", minBidAge)
	}

	spotRetention, err := getDuration("SPOT_RETENTION", slotLength)
	if err != nil {
		return nil, fmt.Errorf("invalid SPOT_RETENTION: %w", err)
	}
	if spotRetention < slotLength {
		return nil, fmt.Errorf("invalid SPOT_RETENTION: must be at least one slot length (%s), got %s", slotLength, spotRetention)
	}

	settlementAge, err := getDuration("SETTLEMENT_AGE", 1*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid SETTLEMENT_AGE: %w", err)
	}

	enableSettlement, err := getBool("ENABLE_SETTLEMENT", false)
	if err != nil {
		return nil, fmt.Errorf("invalid ENABLE_SETTLEMENT: %w", err)
	}

	rngSeed, err := getInt64("RNG_SEED", time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("invalid RNG_SEED: %w", err)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:             port,
		LogLevel:         logLevel,
		SlotLength:       slotLength,
		TicksPerSlot:     ticksPerSlot,
		TickInterval:     tickInterval,
		SlotCount:        slotCount,
		MarketType:       marketType,
		GridFeeType:      gridFeeType,
		GridFeeValue:     gridFeeValue,
		MinOfferAge:      minOfferAge,
		MinBidAge:        minBidAge,
		SpotRetention:    spotRetention,
		SettlementAge:    settlementAge,
		EnableSettlement: enableSettlement,
		RNGSeed:          rngSeed,
		ReadTimeout:      readTimeout,
		WriteTimeout:     writeTimeout,
		IdleTimeout:      idleTimeout,
		ShutdownTimeout:  shutdownTimeout,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseBool(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func isValidMarketType(t string) bool {
	switch t {
	case "one_sided", "two_sided_pay_as_bid", "two_sided_pay_as_clear":
		return true
	}
	return false
}
