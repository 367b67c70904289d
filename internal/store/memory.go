package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"voicedash/internal/calls"
)

// MemoryCallStore is the in-memory rendition of CallStore, used by tests
// and local runs without postgres. Same method set, same semantics.
type MemoryCallStore struct {
	mu   sync.Mutex
	rows map[string]calls.CallRecord
}

func NewMemoryCallStore() *MemoryCallStore {
	return &MemoryCallStore{rows: map[string]calls.CallRecord{}}
}

func (s *MemoryCallStore) SaveCall(ctx context.Context, c calls.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.rows[c.CallID]; ok {
		// Upsert semantics: identity fields stay, status fields refresh.
		c.WorkspaceID = prev.WorkspaceID
		c.CampaignID = prev.CampaignID
		c.From = prev.From
		c.To = prev.To
		if c.StartTime.IsZero() {
			c.StartTime = prev.StartTime
		}
	}
	s.rows[c.CallID] = c
	return nil
}

func (s *MemoryCallStore) Call(ctx context.Context, callID string) (calls.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[callID]
	if !ok {
		return calls.CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryCallStore) Recent(ctx context.Context, workspaceID string, limit int) ([]calls.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]calls.CallRecord, 0, len(s.rows))
	for _, rec := range s.rows {
		if rec.WorkspaceID == workspaceID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryCallStore) ListBetween(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]calls.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []calls.CallRecord
	for _, rec := range s.rows {
		if rec.WorkspaceID != workspaceID {
			continue
		}
		if rec.UpdatedAt.Before(from) || !rec.UpdatedAt.Before(to) {
			continue
		}
		if campaignID != "" && rec.CampaignID != campaignID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryCallStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.rows {
		if rec.UpdatedAt.Before(olderThan) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}
