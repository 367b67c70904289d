package audit

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory append-only repository useful for tests
// and single-process deployments. Not intended for durable production use.

type MemoryRepo struct {
	mu        sync.Mutex
	anomalies []Anomaly
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, a Anomaly) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anomalies = append(r.anomalies, a)
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, resourceID string, limit int) ([]Anomaly, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Anomaly, 0, limit)
	for i := len(r.anomalies) - 1; i >= 0 && len(out) < limit; i-- {
		a := r.anomalies[i]
		if resourceID != "" && a.ResourceID != resourceID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// All returns a copy of every recorded anomaly, oldest first.
func (r *MemoryRepo) All() []Anomaly {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Anomaly, len(r.anomalies))
	copy(out, r.anomalies)
	return out
}
