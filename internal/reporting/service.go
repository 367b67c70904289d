// Package reporting aggregates locally persisted call outcomes. It covers
// the dashboard widgets that must keep working when the backend's
// analytics API is unreachable; richer cross-campaign analytics come from
// the backend directly.
package reporting

import (
	"context"
	"errors"
	"time"

	"voicedash/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts access to persisted calls. Implementations must
// enforce workspace filtering. Satisfied by store.CallStore and
// store.MemoryCallStore.
type Repository interface {
	ListBetween(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]calls.CallRecord, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.WorkspaceID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListBetween(ctx, req.WorkspaceID, req.Range.From, req.Range.To, req.CampaignID)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{WorkspaceID: req.WorkspaceID, CampaignID: req.CampaignID}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.RecordingCount > 0 {
			out.RecordedCalls++
		}
		switch c.AnsweredBy {
		case "human":
			out.AnsweredByHuman++
		case "machine":
			out.AnsweredByMachine++
		}
		switch c.Status {
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		case calls.CallStatusFailed:
			out.FailedCalls++
		case calls.CallStatusNoAnswer:
			out.NoAnswerCalls++
		case calls.CallStatusBusy:
			out.BusyCalls++
		case calls.CallStatusCanceled:
			out.CanceledCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
		out.AnswerRate = float64(out.CompletedCalls) / float64(out.TotalCalls)
	}
	return out, nil
}

// CallVolume buckets terminal calls over time for the volume chart.
func (s *Service) CallVolume(ctx context.Context, req VolumeRequest) ([]VolumeBucket, error) {
	if req.WorkspaceID == "" {
		return nil, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return nil, ErrInvalidRequest
	}
	if req.Bucket <= 0 {
		req.Bucket = time.Hour
	}
	if s.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListBetween(ctx, req.WorkspaceID, req.Range.From, req.Range.To, "")
	if err != nil {
		return nil, err
	}

	n := int(req.Range.To.Sub(req.Range.From)/req.Bucket) + 1
	buckets := make([]VolumeBucket, n)
	for i := range buckets {
		buckets[i].Start = req.Range.From.Add(time.Duration(i) * req.Bucket)
	}
	for _, c := range rows {
		i := int(c.UpdatedAt.Sub(req.Range.From) / req.Bucket)
		if i >= 0 && i < n {
			buckets[i].Calls++
		}
	}
	return buckets, nil
}
