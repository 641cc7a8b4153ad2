package refunds

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory refund store for dev mode and tests.
type MemoryStore struct {
	refunds map[string]*Refund
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory refund store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{refunds: make(map[string]*Refund)}
}

func (m *MemoryStore) Create(_ context.Context, r *Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.refunds {
		if existing.OrderID == r.OrderID && existing.Status == StatusPending {
			return ErrRefundPendingExists
		}
	}
	cp := *r
	m.refunds[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Refund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.refunds[id]
	if !ok {
		return nil, ErrRefundNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListByOrder(_ context.Context, orderID string) ([]*Refund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Refund
	for _, r := range m.refunds {
		if r.OrderID != orderID {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].RequestedAt.Before(result[j].RequestedAt)
	})
	return result, nil
}

func (m *MemoryStore) Update(_ context.Context, r *Refund, expected Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.refunds[r.ID]
	if !ok {
		return ErrRefundNotFound
	}
	if stored.Status != expected {
		return ErrStaleRefund
	}
	cp := *r
	m.refunds[r.ID] = &cp
	return nil
}
