package storage

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/betcore/sprintbet/pkg/types"
)

// MemoryStore is an in-process Store for development and tests. State does
// not survive restart; production runs use PostgresStore.
type MemoryStore struct {
	mu       sync.Mutex
	logger   *zap.Logger
	pending  map[string]*types.PendingTrade
	settled  map[string]*types.SettledOutcome
	buckets  map[types.BucketKey]*types.BucketStat
	events   []*types.Event
	bankroll float64
	hasBank  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	logger.Info("memory-store-initialized")
	return &MemoryStore{
		logger:  logger,
		pending: make(map[string]*types.PendingTrade),
		settled: make(map[string]*types.SettledOutcome),
		buckets: make(map[types.BucketKey]*types.BucketStat),
	}
}

func (m *MemoryStore) SavePendingTrade(_ context.Context, t *types.PendingTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.pending[t.ConditionID] = &cp
	return nil
}

func (m *MemoryStore) DeletePendingTrade(_ context.Context, conditionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, conditionID)
	return nil
}

func (m *MemoryStore) LoadPendingTrades(_ context.Context) ([]*types.PendingTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.PendingTrade, 0, len(m.pending))
	for _, t := range m.pending {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) SaveSettledOutcome(_ context.Context, o *types.SettledOutcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.settled[o.ConditionID]; exists {
		return false, nil
	}
	cp := *o
	m.settled[o.ConditionID] = &cp
	return true, nil
}

func (m *MemoryStore) LoadSettledOutcomes(_ context.Context) ([]*types.SettledOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.SettledOutcome, 0, len(m.settled))
	for _, o := range m.settled {
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) SaveBucketStat(_ context.Context, s *types.BucketStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.buckets[s.Key] = &cp
	return nil
}

func (m *MemoryStore) LoadBucketStats(_ context.Context) ([]*types.BucketStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.BucketStat, 0, len(m.buckets))
	for _, s := range m.buckets {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) SaveBankroll(_ context.Context, bankrollUSD float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bankroll = bankrollUSD
	m.hasBank = true
	return nil
}

func (m *MemoryStore) LoadBankroll(_ context.Context) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bankroll, m.hasBank, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e *types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

// Events returns a copy of the event log, for tests and status endpoints.
func (m *MemoryStore) Events() []*types.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemoryStore) Close() error {
	return nil
}
