package events

import (
	"time"

	"voicedash/internal/calls"
	"voicedash/internal/campaigns"
)

// Package events defines the one tagged-union event schema for the push
// stream. Raw socket payloads are duck-typed and inconsistent (payloads
// under "data" or "message", call ids as callSid/call_sid/call_id); all of
// that is normalized here, once, at the boundary. Reconciliation logic only
// ever sees this union.

type Kind string

const (
	KindCallUpdate        Kind = "call_update"
	KindActiveCalls       Kind = "active_calls"
	KindCampaignUpdate    Kind = "campaign_update"
	KindTranscriptMessage Kind = "transcript_message"
	KindFullTranscript    Kind = "full_transcript"
	KindTypingIndicator   Kind = "typing_indicator"
	KindHeartbeat         Kind = "heartbeat"
)

// Event is the normalized union. Exactly one payload field is non-nil,
// selected by Kind (Calls for KindActiveCalls).
type Event struct {
	Kind       Kind      `json:"kind"`
	ReceivedAt time.Time `json:"received_at"`

	Call       *CallUpdate       `json:"call,omitempty"`
	Calls      []CallUpdate      `json:"calls,omitempty"`
	Campaign   *CampaignUpdate   `json:"campaign,omitempty"`
	Transcript *TranscriptUpdate `json:"transcript,omitempty"`
	Heartbeat  *Heartbeat        `json:"heartbeat,omitempty"`
}

// CallUpdate carries the mutable fields of one call. Zero-valued fields
// mean "not present in this event", not "reset to zero".
type CallUpdate struct {
	CallID     string           `json:"call_id"`
	CampaignID string           `json:"campaign_id,omitempty"`
	From       string           `json:"from,omitempty"`
	To         string           `json:"to,omitempty"`
	Status     calls.CallStatus `json:"status,omitempty"`

	StartTime       time.Time `json:"start_time,omitempty"`
	DurationSeconds int       `json:"duration,omitempty"`
	AnsweredBy      string    `json:"answered_by,omitempty"`
	RecordingCount  int       `json:"recording_count,omitempty"`
}

type CampaignUpdateType string

const (
	CampaignStatusUpdate   CampaignUpdateType = "status_update"
	CampaignProgressUpdate CampaignUpdateType = "progress_update"
	CampaignCallUpdate     CampaignUpdateType = "call_update"
)

type CampaignUpdate struct {
	CampaignID string             `json:"campaign_id"`
	Type       CampaignUpdateType `json:"type"`

	Status campaigns.Status `json:"status,omitempty"`
	Counts campaigns.Counts `json:"counts"`

	// Call is set for per-call campaign updates (Type == call_update).
	Call *CallUpdate `json:"call,omitempty"`
}

type TranscriptUpdate struct {
	CallID string `json:"call_id"`

	Role      calls.MessageRole `json:"role"`
	Text      string            `json:"text,omitempty"`
	Timestamp time.Time         `json:"timestamp,omitempty"`
	Speaker   string            `json:"speaker,omitempty"`
	Partial   bool              `json:"partial,omitempty"`

	// Typing is set for typing-indicator events; Text is empty then.
	Typing bool `json:"typing,omitempty"`

	// Messages replaces the whole transcript (KindFullTranscript).
	Messages []calls.TranscriptMessage `json:"messages,omitempty"`
}

// Heartbeat is the server liveness signal feeding the quality monitor.
type Heartbeat struct {
	Seq        int64     `json:"seq"`
	ServerTime time.Time `json:"server_time"`
}

// ResourceID returns the id of the resource this event belongs to, or ""
// for process-wide events (heartbeats, unscoped active-call snapshots).
func (e Event) ResourceID() string {
	switch {
	case e.Call != nil:
		return e.Call.CallID
	case e.Campaign != nil:
		return e.Campaign.CampaignID
	case e.Transcript != nil:
		return e.Transcript.CallID
	}
	return ""
}
