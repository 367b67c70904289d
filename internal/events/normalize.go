package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"voicedash/internal/calls"
	"voicedash/internal/campaigns"
)

var (
	ErrUnknownEventType = errors.New("events: unknown event type")
	ErrMalformedPayload = errors.New("events: malformed payload")
)

// Normalize decodes one raw wire frame into the tagged union.
//
// The stream's frames are not uniform: the event name may be under "type"
// or "event", the payload may be inline, under "data" or under "message",
// ids may be callSid/call_sid/call_id, and timestamps arrive as RFC3339
// strings or epoch milliseconds. Everything after this function assumes
// the canonical shapes in events.go.
func Normalize(raw []byte, now time.Time) (Event, error) {
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	kind := str(frame, "type", "event")
	body := payload(frame)

	ev := Event{ReceivedAt: now}

	switch kind {
	case "call_update", "call_status", "call_status_update":
		cu, err := decodeCallUpdate(body)
		if err != nil {
			return Event{}, err
		}
		ev.Kind = KindCallUpdate
		ev.Call = &cu
		return ev, nil

	case "active_calls":
		list, ok := anyList(frame, "calls", "data", "active_calls")
		if !ok {
			return Event{}, fmt.Errorf("%w: active_calls without list", ErrMalformedPayload)
		}
		out := make([]CallUpdate, 0, len(list))
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			cu, err := decodeCallUpdate(m)
			if err != nil {
				continue
			}
			out = append(out, cu)
		}
		ev.Kind = KindActiveCalls
		ev.Calls = out
		return ev, nil

	case "campaign_update":
		cu, err := decodeCampaignUpdate(frame, body)
		if err != nil {
			return Event{}, err
		}
		ev.Kind = KindCampaignUpdate
		ev.Campaign = &cu
		return ev, nil

	case "transcript_update":
		return decodeTranscriptUpdate(frame, body, now)

	case "heartbeat", "ping", "pong":
		hb := Heartbeat{Seq: int64(num(body, "seq"))}
		if hb.Seq == 0 {
			hb.Seq = int64(num(frame, "seq"))
		}
		if ts, ok := timeField(body, "server_time", "ts", "timestamp"); ok {
			hb.ServerTime = ts
		} else if ts, ok := timeField(frame, "server_time", "ts", "timestamp"); ok {
			hb.ServerTime = ts
		}
		ev.Kind = KindHeartbeat
		ev.Heartbeat = &hb
		return ev, nil
	}

	return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventType, kind)
}

func decodeCallUpdate(m map[string]any) (CallUpdate, error) {
	id := str(m, "callSid", "call_sid", "call_id", "callId", "sid", "id")
	if id == "" {
		return CallUpdate{}, fmt.Errorf("%w: call update without call id", ErrMalformedPayload)
	}
	cu := CallUpdate{
		CallID:          id,
		CampaignID:      str(m, "campaignId", "campaign_id"),
		From:            str(m, "from", "from_number", "caller"),
		To:              str(m, "to", "to_number", "number"),
		Status:          calls.CallStatus(strings.ToLower(str(m, "status", "call_status", "callStatus"))),
		DurationSeconds: int(num(m, "duration", "duration_seconds")),
		AnsweredBy:      str(m, "answeredBy", "answered_by"),
		RecordingCount:  int(num(m, "recordingCount", "recording_count")),
	}
	if ts, ok := timeField(m, "startTime", "start_time", "timestamp"); ok {
		cu.StartTime = ts
	}
	return cu, nil
}

func decodeCampaignUpdate(frame, body map[string]any) (CampaignUpdate, error) {
	id := str(frame, "campaignId", "campaign_id")
	if id == "" {
		id = str(body, "campaignId", "campaign_id", "id")
	}
	if id == "" {
		return CampaignUpdate{}, fmt.Errorf("%w: campaign update without campaign id", ErrMalformedPayload)
	}

	// The subtype rides on the frame for campaign events; the outer "type"
	// already said campaign_update, so look for the inner discriminator.
	sub := str(frame, "updateType", "update_type")
	if sub == "" {
		sub = str(body, "type", "updateType", "update_type")
	}

	cu := CampaignUpdate{
		CampaignID: id,
		Type:       CampaignUpdateType(sub),
		Status:     campaigns.Status(strings.ToLower(str(body, "status"))),
		Counts: campaigns.Counts{
			TotalContacts:   int(num(body, "totalContacts", "total_contacts")),
			CallsPlaced:     int(num(body, "callsPlaced", "calls_placed")),
			CallsAnswered:   int(num(body, "callsAnswered", "calls_answered")),
			CallsCompleted:  int(num(body, "callsCompleted", "calls_completed")),
			CallsFailed:     int(num(body, "callsFailed", "calls_failed")),
			SuccessfulCalls: int(num(body, "successfulCalls", "successful_calls")),
		},
	}

	switch cu.Type {
	case CampaignStatusUpdate, CampaignProgressUpdate:
	case CampaignCallUpdate:
		if call, ok := body["call"].(map[string]any); ok {
			if dc, err := decodeCallUpdate(call); err == nil {
				dc.CampaignID = id
				cu.Call = &dc
			}
		} else if dc, err := decodeCallUpdate(body); err == nil {
			dc.CampaignID = id
			cu.Call = &dc
		}
	default:
		// Tolerate missing subtype: a body with counters is a progress
		// update, a body with only a status is a status update.
		if cu.Counts != (campaigns.Counts{}) {
			cu.Type = CampaignProgressUpdate
		} else if cu.Status != "" {
			cu.Type = CampaignStatusUpdate
		} else {
			return CampaignUpdate{}, fmt.Errorf("%w: campaign update %q with empty body", ErrMalformedPayload, id)
		}
	}
	return cu, nil
}

func decodeTranscriptUpdate(frame, body map[string]any, now time.Time) (Event, error) {
	callID := str(frame, "callSid", "call_sid", "call_id", "callId")
	if callID == "" {
		callID = str(body, "callSid", "call_sid", "call_id", "callId")
	}
	if callID == "" {
		return Event{}, fmt.Errorf("%w: transcript update without call id", ErrMalformedPayload)
	}

	sub := str(frame, "updateType", "update_type")
	if sub == "" {
		sub = str(body, "type", "updateType", "update_type")
	}
	if sub == "" {
		sub = "message"
	}

	tu := TranscriptUpdate{
		CallID:  callID,
		Role:    calls.NormalizeRole(str(body, "role")),
		Text:    str(body, "text", "message", "content"),
		Speaker: str(body, "speaker"),
		Partial: boolean(body, "isPartial", "is_partial", "partial"),
	}
	if ts, ok := timeField(body, "timestamp", "time"); ok {
		tu.Timestamp = ts
	}

	ev := Event{ReceivedAt: now, Transcript: &tu}
	switch sub {
	case "typing_indicator", "typing":
		tu.Typing = true
		tu.Text = ""
		ev.Kind = KindTypingIndicator
	case "full_transcript":
		list, _ := anyList(body, "messages", "transcript")
		msgs := make([]calls.TranscriptMessage, 0, len(list))
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			msg := calls.TranscriptMessage{
				Role:          calls.NormalizeRole(str(m, "role")),
				Text:          str(m, "text", "message", "content"),
				Speaker:       str(m, "speaker"),
				OffsetSeconds: num(m, "offset", "offset_seconds"),
			}
			if ts, ok := timeField(m, "timestamp", "time"); ok {
				msg.Timestamp = ts
			}
			if msg.Text != "" {
				msgs = append(msgs, msg)
			}
		}
		tu.Messages = msgs
		ev.Kind = KindFullTranscript
	default:
		if tu.Text == "" {
			return Event{}, fmt.Errorf("%w: transcript message without text", ErrMalformedPayload)
		}
		ev.Kind = KindTranscriptMessage
	}
	ev.Transcript = &tu
	return ev, nil
}

/* ---- duck-typed field access ---- */

func payload(frame map[string]any) map[string]any {
	for _, key := range []string{"data", "message", "payload"} {
		if m, ok := frame[key].(map[string]any); ok {
			return m
		}
	}
	return frame
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func num(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v
		case json.Number:
			f, _ := v.Float64()
			return f
		}
	}
	return 0
}

func boolean(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := m[k].(bool); ok {
			return v
		}
	}
	return false
}

func anyList(m map[string]any, keys ...string) ([]any, bool) {
	for _, k := range keys {
		if v, ok := m[k].([]any); ok {
			return v, true
		}
	}
	return nil, false
}

// timeField accepts RFC3339 strings, epoch seconds and epoch milliseconds.
func timeField(m map[string]any, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				return ts, true
			}
		case float64:
			if v <= 0 {
				continue
			}
			// Heuristic: values past year 2286 in seconds are milliseconds.
			if v > 1e12 {
				return time.UnixMilli(int64(v)).UTC(), true
			}
			return time.Unix(int64(v), 0).UTC(), true
		}
	}
	return time.Time{}, false
}
