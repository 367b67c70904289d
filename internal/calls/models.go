package calls

import "time"

// CallRecord is the reconciled view of one phone call as the dashboard sees it.
//
// CallID is the provider call identifier (e.g. a Twilio CallSid) and is stable
// for the lifetime of the call. Status only moves forward; see StatusRank.
//
// DurationSeconds is only meaningful once the call has left in-progress.

type CallRecord struct {
	CallID      string `json:"call_id"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	CampaignID  string `json:"campaign_id,omitempty"`

	From string `json:"from"`
	To   string `json:"to"`

	Status CallStatus `json:"status"`

	StartTime       time.Time `json:"start_time,omitempty"`
	DurationSeconds int       `json:"duration"`

	// AnsweredBy is the answering-machine-detection result when the
	// provider reports one ("human", "machine", ...). Optional.
	AnsweredBy string `json:"answered_by,omitempty"`

	RecordingCount int `json:"recording_count"`

	UpdatedAt time.Time `json:"updated_at"`
}

type CallStatus string

const (
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusBusy       CallStatus = "busy"
	CallStatusNoAnswer   CallStatus = "no-answer"
	CallStatusCanceled   CallStatus = "canceled"
)

// IsTerminal reports whether no further status transition is accepted.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusBusy, CallStatusNoAnswer, CallStatusCanceled:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known statuses.
func (s CallStatus) IsValid() bool {
	return StatusRank(s) >= 0
}

// StatusRank orders statuses along the call lifecycle so the reconciler can
// reject backwards transitions. All terminal statuses share the same rank:
// which terminal state a call lands in depends on the far end, not on
// event order. Unknown statuses rank -1.
func StatusRank(s CallStatus) int {
	switch s {
	case CallStatusInitiated:
		return 0
	case CallStatusRinging:
		return 1
	case CallStatusInProgress:
		return 2
	case CallStatusCompleted, CallStatusFailed, CallStatusBusy, CallStatusNoAnswer, CallStatusCanceled:
		return 3
	default:
		return -1
	}
}

// IsActive reports whether the call belongs in the active-calls view.
func (c CallRecord) IsActive() bool { return !c.Status.IsTerminal() }

// TranscriptMessage is one utterance in a call conversation. Streaming
// delivery may extend Text across several events; Partial marks an
// utterance that is still being produced.
type TranscriptMessage struct {
	Role      MessageRole `json:"role"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp,omitempty"`

	// OffsetSeconds is seconds into the call, for sources that report
	// offsets instead of wall-clock timestamps.
	OffsetSeconds float64 `json:"offset_seconds,omitempty"`

	Speaker string `json:"speaker,omitempty"`
	Partial bool   `json:"partial,omitempty"`
}

type MessageRole string

const (
	RoleAgent    MessageRole = "agent"
	RoleCustomer MessageRole = "customer"
	RoleSystem   MessageRole = "system"
)

// NormalizeRole folds the role aliases seen on the wire ("user" vs
// "customer", "assistant" vs "agent") into the canonical set.
func NormalizeRole(raw string) MessageRole {
	switch raw {
	case "agent", "assistant", "ai", "bot":
		return RoleAgent
	case "user", "customer", "caller", "human":
		return RoleCustomer
	case "system":
		return RoleSystem
	default:
		return MessageRole(raw)
	}
}

// Recording is metadata for one stored recording of a call.
type Recording struct {
	RecordingID     string    `json:"recording_id"`
	CallID          string    `json:"call_id"`
	DurationSeconds int       `json:"duration"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}
