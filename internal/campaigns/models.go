package campaigns

import "time"

// Progress is the aggregate state of a batch-calling campaign.
//
// Invariant: while the campaign is live (status != completed) every counter
// is monotonically non-decreasing. The event stream carries no sequence
// numbers, so a pushed counter below the stored one is treated as a stale
// arrival and ignored; only a full refresh from the REST API may lower a
// counter. Once Status is completed the whole record is frozen.

type Progress struct {
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name,omitempty"`

	Status Status `json:"status"`

	TotalContacts   int `json:"total_contacts"`
	CallsPlaced     int `json:"calls_placed"`
	CallsAnswered   int `json:"calls_answered"`
	CallsCompleted  int `json:"calls_completed"`
	CallsFailed     int `json:"calls_failed"`
	SuccessfulCalls int `json:"successful_calls"`

	UpdatedAt time.Time `json:"updated_at"`
}

type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
)

// PercentComplete derives completion from calls placed, clamped to [0,100].
func (p Progress) PercentComplete() float64 {
	if p.TotalContacts <= 0 {
		return 0
	}
	pct := float64(p.CallsPlaced) / float64(p.TotalContacts) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Frozen reports whether further push updates should be ignored.
func (p Progress) Frozen() bool { return p.Status == StatusCompleted }

// Counts bundles the counter fields for merge comparisons.
type Counts struct {
	TotalContacts   int `json:"total_contacts"`
	CallsPlaced     int `json:"calls_placed"`
	CallsAnswered   int `json:"calls_answered"`
	CallsCompleted  int `json:"calls_completed"`
	CallsFailed     int `json:"calls_failed"`
	SuccessfulCalls int `json:"successful_calls"`
}

func (p Progress) Counts() Counts {
	return Counts{
		TotalContacts:   p.TotalContacts,
		CallsPlaced:     p.CallsPlaced,
		CallsAnswered:   p.CallsAnswered,
		CallsCompleted:  p.CallsCompleted,
		CallsFailed:     p.CallsFailed,
		SuccessfulCalls: p.SuccessfulCalls,
	}
}

// MergeCounts applies incoming counters onto p, never letting any counter
// regress. It reports whether any incoming counter was below the stored
// value (a stale arrival the caller may want to record).
func (p *Progress) MergeCounts(in Counts) (regressed bool) {
	merge := func(dst *int, v int) {
		if v > *dst {
			*dst = v
		} else if v < *dst && v > 0 {
			regressed = true
		}
	}
	merge(&p.TotalContacts, in.TotalContacts)
	merge(&p.CallsPlaced, in.CallsPlaced)
	merge(&p.CallsAnswered, in.CallsAnswered)
	merge(&p.CallsCompleted, in.CallsCompleted)
	merge(&p.CallsFailed, in.CallsFailed)
	merge(&p.SuccessfulCalls, in.SuccessfulCalls)
	return regressed
}
