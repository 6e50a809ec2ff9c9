package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a thread-safe in-memory RoundStore for tests and local runs.
type Memory struct {
	mu     sync.RWMutex
	rounds map[uint64]RoundRecord
}

var _ RoundStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{rounds: make(map[uint64]RoundRecord)}
}

func (m *Memory) SaveRound(_ context.Context, rec RoundRecord) (RoundRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rounds[rec.Round]; exists {
		return RoundRecord{}, fmt.Errorf("%w: %d", ErrRoundExists, rec.Round)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.DrawnAt.IsZero() {
		rec.DrawnAt = time.Now().UTC()
	}
	m.rounds[rec.Round] = rec
	return rec, nil
}

func (m *Memory) GetRound(_ context.Context, round uint64) (RoundRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.rounds[round]
	if !ok {
		return RoundRecord{}, fmt.Errorf("%w: %d", ErrNotFound, round)
	}
	return rec, nil
}

func (m *Memory) ListRounds(_ context.Context, limit, offset int) ([]RoundRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RoundRecord, 0, len(m.rounds))
	for _, rec := range m.rounds {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Round > out[j].Round })

	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []RoundRecord{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
