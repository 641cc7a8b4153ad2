package risk

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for dev/test use.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments map[string][]*Assessment // buyerID → assessments
}

// NewMemoryStore creates an in-memory risk assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assessments: make(map[string][]*Assessment),
	}
}

func (s *MemoryStore) Record(ctx context.Context, assessment *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Deep-copy factors
	factors := make(map[string]float64, len(assessment.Factors))
	for k, v := range assessment.Factors {
		factors[k] = v
	}
	a := *assessment
	a.Factors = factors

	s.assessments[assessment.BuyerID] = append(s.assessments[assessment.BuyerID], &a)
	return nil
}

func (s *MemoryStore) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.assessments[buyerID]
	if len(all) == 0 {
		return nil, nil
	}

	// Most recent first, up to limit
	start := len(all) - limit
	if start < 0 {
		start = 0
	}

	result := make([]*Assessment, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		a := *all[i]
		factors := make(map[string]float64, len(a.Factors))
		for k, v := range a.Factors {
			factors[k] = v
		}
		a.Factors = factors
		result = append(result, &a)
	}
	return result, nil
}
