package escrow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory hold store for dev mode and tests.
type MemoryStore struct {
	holds map[string]*Hold
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory hold store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{holds: make(map[string]*Hold)}
}

func (m *MemoryStore) Create(_ context.Context, h *Hold) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.holds {
		if existing.OrderID == h.OrderID && existing.HoldsFunds() {
			return ErrHoldExists
		}
	}
	cp := *h
	m.holds[h.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.holds[id]
	if !ok {
		return nil, ErrHoldNotFound
	}
	cp := *h
	return &cp, nil
}

func (m *MemoryStore) GetByOrder(_ context.Context, orderID string) (*Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *Hold
	for _, h := range m.holds {
		if h.OrderID != orderID {
			continue
		}
		if latest == nil || h.CreatedAt.After(latest.CreatedAt) {
			latest = h
		}
	}
	if latest == nil {
		return nil, ErrHoldNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, h *Hold, expected Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.holds[h.ID]
	if !ok {
		return ErrHoldNotFound
	}
	if stored.Status != expected {
		return ErrStaleHold
	}
	cp := *h
	m.holds[h.ID] = &cp
	return nil
}

func (m *MemoryStore) SumHeld(_ context.Context) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := decimal.Zero
	for _, h := range m.holds {
		if h.HoldsFunds() {
			total = total.Add(h.Remaining)
		}
	}
	return total, nil
}

func (m *MemoryStore) ListAutoReleasable(_ context.Context, before time.Time, limit int) ([]*Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var result []*Hold
	for _, h := range m.holds {
		if !h.Releasable() || h.AutoReleaseAt == nil || h.AutoReleaseAt.After(before) {
			continue
		}
		cp := *h
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AutoReleaseAt.Before(*result[j].AutoReleaseAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
