package events

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voicedash/internal/calls"
)

// Provider status callbacks are a second inbound event path beside the
// socket stream: the voice provider POSTs application/x-www-form-urlencoded
// status updates which are translated into the same normalized union the
// reconciler consumes.

// StatusCallbackForm captures the subset of provider callback fields the
// dashboard cares about. Field names follow the Twilio convention.
type StatusCallbackForm struct {
	CallSid    string
	From       string
	To         string
	CallStatus string
	Direction  string
	Duration   string
	AnsweredBy string
	Timestamp  string
}

func ParseStatusCallback(r *http.Request) (StatusCallbackForm, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallbackForm{}, err
	}
	f := StatusCallbackForm{
		CallSid:    strings.TrimSpace(r.PostFormValue("CallSid")),
		From:       strings.TrimSpace(r.PostFormValue("From")),
		To:         strings.TrimSpace(r.PostFormValue("To")),
		CallStatus: strings.TrimSpace(r.PostFormValue("CallStatus")),
		Direction:  strings.TrimSpace(r.PostFormValue("Direction")),
		Duration:   strings.TrimSpace(r.PostFormValue("CallDuration")),
		AnsweredBy: strings.TrimSpace(r.PostFormValue("AnsweredBy")),
		Timestamp:  strings.TrimSpace(r.PostFormValue("Timestamp")),
	}
	if f.CallSid == "" {
		return StatusCallbackForm{}, fmt.Errorf("%w: status callback without CallSid", ErrMalformedPayload)
	}
	return f, nil
}

// Event translates the callback into a normalized call_update event.
func (f StatusCallbackForm) Event(now time.Time) (Event, error) {
	status := mapProviderStatus(f.CallStatus)
	if status == "" {
		return Event{}, fmt.Errorf("%w: provider status %q", ErrUnknownEventType, f.CallStatus)
	}
	cu := CallUpdate{
		CallID:     f.CallSid,
		From:       f.From,
		To:         f.To,
		Status:     status,
		AnsweredBy: strings.ToLower(f.AnsweredBy),
	}
	if f.Duration != "" {
		if secs, err := strconv.Atoi(f.Duration); err == nil && secs >= 0 {
			cu.DurationSeconds = secs
		}
	}
	if f.Timestamp != "" {
		// Providers send RFC1123 here, not RFC3339.
		if ts, err := time.Parse(time.RFC1123Z, f.Timestamp); err == nil {
			cu.StartTime = ts
		}
	}
	return Event{Kind: KindCallUpdate, ReceivedAt: now, Call: &cu}, nil
}

// mapProviderStatus folds provider status names onto the dashboard enum.
// "queued" and "initiated" both mean the call has not started ringing.
func mapProviderStatus(raw string) calls.CallStatus {
	switch strings.ToLower(raw) {
	case "queued", "initiated":
		return calls.CallStatusInitiated
	case "ringing":
		return calls.CallStatusRinging
	case "in-progress", "answered":
		return calls.CallStatusInProgress
	case "completed":
		return calls.CallStatusCompleted
	case "failed":
		return calls.CallStatusFailed
	case "busy":
		return calls.CallStatusBusy
	case "no-answer":
		return calls.CallStatusNoAnswer
	case "canceled", "cancelled":
		return calls.CallStatusCanceled
	default:
		return ""
	}
}
