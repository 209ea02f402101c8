// Package store holds in-memory collections that outlive individual
// markets, such as the simulation-wide trade log.
package store

import (
	"sync"

	"github.com/efreitasn/gridmarket/internal/domain"
)

// TradeStore is a thread-safe in-memory store for executed trades, keyed
// by area name. Trades are append-only and chronological. Unlike per-market
// trade logs, entries here survive market rotation and purging, bounded by
// Trim.
type TradeStore struct {
	mu     sync.RWMutex
	trades map[string][]*domain.Trade // area → trades (chronological)
}

// NewTradeStore creates an empty TradeStore.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		trades: make(map[string][]*domain.Trade),
	}
}

// Append adds a trade to the area's chronological list.
func (s *TradeStore) Append(area string, t *domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades[area] = append(s.trades[area], t)
}

// GetByArea returns all trades for an area in chronological order.
// Returns an empty slice if no trades exist for the area.
func (s *TradeStore) GetByArea(area string) []*domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.trades[area]
	if trades == nil {
		return []*domain.Trade{}
	}

	// Return a copy to avoid callers mutating the internal slice.
	result := make([]*domain.Trade, len(trades))
	copy(result, trades)
	return result
}

// Count returns the number of trades stored for an area.
func (s *TradeStore) Count(area string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.trades[area])
}

// Trim keeps only the most recent max trades per area.
func (s *TradeStore) Trim(max int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for area, trades := range s.trades {
		if len(trades) > max {
			kept := make([]*domain.Trade, max)
			copy(kept, trades[len(trades)-max:])
			s.trades[area] = kept
		}
	}
}
