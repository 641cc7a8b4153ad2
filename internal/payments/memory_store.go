package payments

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory transaction store for dev mode and tests.
type MemoryStore struct {
	transactions map[string]*Transaction
	mu           sync.RWMutex
}

// NewMemoryStore creates a new in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transactions: make(map[string]*Transaction)}
}

func (m *MemoryStore) Create(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.transactions[t.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListByOrder(_ context.Context, orderID string) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, t := range m.transactions {
		if t.OrderID != orderID {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) SumByType(_ context.Context) (map[Type]decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sums := make(map[Type]decimal.Decimal)
	for _, t := range m.transactions {
		if t.Status != StatusCompleted {
			continue
		}
		sums[t.Type] = sums[t.Type].Add(t.Amount)
	}
	return sums, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, from, to Status, settledAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transactions[id]
	if !ok {
		return ErrTransactionNotFound
	}
	if t.Status.IsFinal() {
		return ErrTransactionFinal
	}
	if t.Status != from {
		return ErrTransactionConflict
	}
	t.Status = to
	if settledAt != nil {
		ts := *settledAt
		t.SettledAt = &ts
	}
	return nil
}
