// Package registry holds the in-memory set of positions the monitor owns,
// grounded on the in-memory/DB-backed state.Manager pattern (Load/Positions
// snapshot semantics) but keyed by tradeId with idempotent add/remove and
// a startup hydration hook (spec §3, §4.4, Open Questions resolution:
// "the monitor loads existing open PositionDocuments into memory on
// startup rather than waiting to observe them via a live event").
package registry

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"mt4core/internal/model"
)

// Store is the Position Registry: the authoritative in-memory map of
// MonitoredPosition, one per open tradeId.
type Store struct {
	mu        sync.RWMutex
	positions map[string]model.MonitoredPosition
	flight    singleflight.Group
}

// New builds an empty registry.
func New() *Store {
	return &Store{positions: make(map[string]model.MonitoredPosition)}
}

// AddPosition inserts or replaces a position. Idempotent: calling it twice
// with the same tradeId just overwrites the record (spec §4.4).
func (s *Store) AddPosition(pos model.MonitoredPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.TradeID] = pos
}

// RemovePosition drops a tradeId from the registry. Idempotent: removing a
// tradeId that is not present is a no-op, never an error.
func (s *Store) RemovePosition(tradeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, tradeID)
}

// Get returns the current record for a tradeId, if present.
func (s *Store) Get(tradeID string) (model.MonitoredPosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[tradeID]
	return p, ok
}

// Update replaces the record for tradeId, used by the monitor to persist
// the live-refresh step (current price, last check time) back into the
// registry after each tick (spec §4.4 step 3).
func (s *Store) Update(pos model.MonitoredPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.TradeID]; ok {
		s.positions[pos.TradeID] = pos
	}
}

// Snapshot returns a point-in-time copy of every monitored position, safe
// to range over without holding the registry lock (spec §4.4 step 0: the
// monitor iterates a snapshot each tick, not the live map).
func (s *Store) Snapshot() []model.MonitoredPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MonitoredPosition, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out
}

// Len reports how many positions are currently registered.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// Load hydrates the registry from persisted PositionDocuments on startup,
// mirroring state.Manager.Load's DB-to-memory seeding.
func (s *Store) Load(ctx context.Context, docs []model.PositionDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		if d.Status != model.PositionOpen {
			continue
		}
		s.positions[d.TradeID] = model.MonitoredPosition{
			TradeID:      d.TradeID,
			UserID:       d.UserID,
			Symbol:       d.Symbol,
			EntryPrice:   d.EntryPrice,
			CurrentPrice: d.CurrentPrice,
			MT4Ticket:    d.Ticket,
		}
	}
}

// SingleFlight guards a per-tradeId tick against overlapping invocations:
// if a slow LLM call for a tradeId is still in flight when the next
// monitor tick starts, the second caller waits for the first's result
// instead of starting a duplicate exit evaluation (spec §4.4 concurrency
// note).
func (s *Store) SingleFlight(tradeID string, fn func() (interface{}, error)) (interface{}, error, bool) {
	return s.flight.Do(tradeID, fn)
}
