package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for anomalies.
//
// It MUST be append-only. No Update/Delete methods are provided.

type Repository interface {
	Append(ctx context.Context, a Anomaly) error
	List(ctx context.Context, resourceID string, limit int) ([]Anomaly, error)
}

// Service records reconciliation anomalies.
//
// Callers treat recording as best-effort: a failed append is logged and
// dropped, never propagated into the reconciliation path.

type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, clock: time.Now}
}

var ErrInvalidAnomaly = errors.New("audit: invalid anomaly")

func (s *Service) Append(ctx context.Context, a Anomaly) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if a.Kind == "" || a.ResourceID == "" {
		return ErrInvalidAnomaly
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, a)
}

// RecordAnomaly is the fire-and-forget entry point used by the reconciler.
func (s *Service) RecordAnomaly(ctx context.Context, kind Kind, resourceID, detail string) {
	err := s.Append(ctx, Anomaly{Kind: kind, ResourceID: resourceID, Detail: detail})
	if err != nil {
		s.log.Warn("anomaly append failed", "kind", kind, "resource_id", resourceID, "err", err)
		return
	}
	s.log.Debug("anomaly recorded", "kind", kind, "resource_id", resourceID, "detail", detail)
}

// Recent returns the latest anomalies for a resource, newest first.
// An empty resourceID returns anomalies across all resources.
func (s *Service) Recent(ctx context.Context, resourceID string, limit int) ([]Anomaly, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	return s.repo.List(ctx, resourceID, limit)
}
