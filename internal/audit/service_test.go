package audit

import (
	"context"
	"testing"
	"time"
)

func TestAppend_FillsIDAndTimestamp(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, nil)
	svc.clock = func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) }

	err := svc.Append(context.Background(), Anomaly{Kind: KindTerminalLock, ResourceID: "CA1"})
	if err != nil {
		t.Fatal(err)
	}
	got := repo.All()
	if len(got) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(got))
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("id/timestamp not filled: %+v", got[0])
	}
}

func TestAppend_RejectsInvalid(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil)
	if err := svc.Append(context.Background(), Anomaly{Kind: KindStaleStatus}); err != ErrInvalidAnomaly {
		t.Fatalf("expected ErrInvalidAnomaly, got %v", err)
	}
	if err := svc.Append(context.Background(), Anomaly{ResourceID: "CA1"}); err != ErrInvalidAnomaly {
		t.Fatalf("expected ErrInvalidAnomaly, got %v", err)
	}
}

func TestRecent_FiltersByResourceNewestFirst(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	svc.RecordAnomaly(ctx, KindStaleStatus, "CA1", "first")
	svc.RecordAnomaly(ctx, KindStaleCounters, "CP1", "other resource")
	svc.RecordAnomaly(ctx, KindTerminalLock, "CA1", "second")

	got, err := svc.Recent(ctx, "CA1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 anomalies for CA1, got %d", len(got))
	}
	if got[0].Detail != "second" || got[1].Detail != "first" {
		t.Fatalf("not newest first: %+v", got)
	}
}
