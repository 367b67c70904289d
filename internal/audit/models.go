package audit

import "time"

// Anomaly is an immutable, append-only record of an event the reconciler
// refused to apply. The stream carries no sequence numbers, so rejected
// events are expected background noise; recording them is what makes the
// "ignore silently" policy debuggable.
//
// Invariants:
// - Anomalies are never updated or deleted.
// - Recording is best-effort; reconciliation must not block on it.

type Anomaly struct {
	ID string `json:"id"`

	// Kind is the rejection category.
	Kind Kind `json:"kind"`

	// ResourceID is the call or campaign the rejected event targeted.
	ResourceID string `json:"resource_id"`

	// Detail is a short human-readable description for ops.
	Detail string `json:"detail,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type Kind string

const (
	// KindTerminalLock: an event tried to move a call already in a
	// terminal status.
	KindTerminalLock Kind = "terminal_lock"

	// KindStaleStatus: a call status event ranked behind the stored one.
	KindStaleStatus Kind = "stale_status"

	// KindStaleCounters: a campaign progress event carried counters below
	// the stored values.
	KindStaleCounters Kind = "stale_counters"

	// KindFrozenCampaign: an update arrived for a completed campaign.
	KindFrozenCampaign Kind = "frozen_campaign"

	// KindMalformed: a frame that failed normalization.
	KindMalformed Kind = "malformed_payload"
)
