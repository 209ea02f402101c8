package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/efreitasn/gridmarket/internal/domain"
)

func newTestTrade(id string) *domain.Trade {
	return &domain.Trade{
		ID:           id,
		TimeSlot:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Seller:       domain.Trader{Name: "pv"},
		Buyer:        domain.Trader{Name: "load"},
		TradedEnergy: 1,
		TradePrice:   10,
	}
}

func TestTradeStore_Append_and_GetByArea(t *testing.T) {
	s := NewTradeStore()

	s.Append("House 1", newTestTrade("trade-1"))
	s.Append("House 1", newTestTrade("trade-2"))

	trades := s.GetByArea("House 1")
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].ID != "trade-1" {
		t.Fatalf("expected trade-1 first, got %s", trades[0].ID)
	}
	if trades[1].ID != "trade-2" {
		t.Fatalf("expected trade-2 second, got %s", trades[1].ID)
	}
}

func TestTradeStore_GetByArea_Empty(t *testing.T) {
	s := NewTradeStore()

	trades := s.GetByArea("House 2")
	if trades == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(trades) != 0 {
		t.Fatalf("expected 0 trades, got %d", len(trades))
	}
}

func TestTradeStore_GetByArea_ReturnsCopy(t *testing.T) {
	s := NewTradeStore()
	s.Append("House 1", newTestTrade("trade-1"))

	trades := s.GetByArea("House 1")
	trades[0] = nil // mutate the returned slice

	// Internal state should be unaffected.
	original := s.GetByArea("House 1")
	if original[0] == nil {
		t.Fatal("GetByArea should return a copy; internal state was mutated")
	}
}

func TestTradeStore_Trim(t *testing.T) {
	s := NewTradeStore()
	for i := 0; i < 10; i++ {
		s.Append("House 1", newTestTrade(fmt.Sprintf("trade-%d", i)))
	}

	s.Trim(3)
	trades := s.GetByArea("House 1")
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades after trim, got %d", len(trades))
	}
	if trades[0].ID != "trade-7" {
		t.Fatalf("trim must keep the most recent trades, got %s first", trades[0].ID)
	}
	if s.Count("House 1") != 3 {
		t.Fatalf("expected count 3, got %d", s.Count("House 1"))
	}
}
