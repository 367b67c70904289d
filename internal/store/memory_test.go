package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"voicedash/internal/calls"
	"voicedash/internal/reconcile"
)

// The reconciler persists through this interface.
var _ reconcile.RecentSink = (*MemoryCallStore)(nil)
var _ reconcile.RecentSink = (*CallStore)(nil)

func rec(id, ws, campaign string, status calls.CallStatus, updated time.Time) calls.CallRecord {
	return calls.CallRecord{
		CallID:      id,
		WorkspaceID: ws,
		CampaignID:  campaign,
		From:        "+15550001111",
		To:          "+15550002222",
		Status:      status,
		UpdatedAt:   updated,
	}
}

func TestMemoryCallStore_SaveAndRecent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCallStore()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"CA1", "CA2", "CA3"} {
		if err := s.SaveCall(ctx, rec(id, "ws-1", "", calls.CallStatusCompleted, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SaveCall(ctx, rec("CAX", "ws-other", "", calls.CallStatusFailed, base)); err != nil {
		t.Fatal(err)
	}

	got, err := s.Recent(ctx, "ws-1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].CallID != "CA3" || got[1].CallID != "CA2" {
		t.Fatalf("recent = %+v", got)
	}
}

func TestMemoryCallStore_UpsertKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCallStore()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	first := rec("CA1", "ws-1", "camp-1", calls.CallStatusFailed, base)
	first.StartTime = base.Add(-time.Minute)
	if err := s.SaveCall(ctx, first); err != nil {
		t.Fatal(err)
	}

	// A later upsert with sparse identity must not blank the row.
	update := calls.CallRecord{CallID: "CA1", Status: calls.CallStatusCompleted, DurationSeconds: 30, UpdatedAt: base.Add(time.Minute)}
	if err := s.SaveCall(ctx, update); err != nil {
		t.Fatal(err)
	}

	got, err := s.Call(ctx, "CA1")
	if err != nil {
		t.Fatal(err)
	}
	if got.WorkspaceID != "ws-1" || got.CampaignID != "camp-1" || got.From == "" {
		t.Fatalf("identity lost: %+v", got)
	}
	if got.Status != calls.CallStatusCompleted || got.DurationSeconds != 30 {
		t.Fatalf("update not applied: %+v", got)
	}
	if got.StartTime.IsZero() {
		t.Fatal("start time lost")
	}
}

func TestMemoryCallStore_NotFound(t *testing.T) {
	s := NewMemoryCallStore()
	if _, err := s.Call(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestMemoryCallStore_ListBetween(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCallStore()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	s.SaveCall(ctx, rec("CA1", "ws-1", "camp-1", calls.CallStatusCompleted, base))
	s.SaveCall(ctx, rec("CA2", "ws-1", "camp-2", calls.CallStatusFailed, base.Add(time.Hour)))
	s.SaveCall(ctx, rec("CA3", "ws-1", "camp-1", calls.CallStatusCompleted, base.Add(2*time.Hour)))

	got, err := s.ListBetween(ctx, "ws-1", base, base.Add(90*time.Minute), "camp-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].CallID != "CA1" {
		t.Fatalf("got %+v", got)
	}
}

func TestMemoryCallStore_Prune(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCallStore()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	s.SaveCall(ctx, rec("CA1", "ws-1", "", calls.CallStatusCompleted, base))
	s.SaveCall(ctx, rec("CA2", "ws-1", "", calls.CallStatusCompleted, base.Add(time.Hour)))

	n, err := s.Prune(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned %d", n)
	}
	if _, err := s.Call(ctx, "CA1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("CA1 survived prune")
	}
}
