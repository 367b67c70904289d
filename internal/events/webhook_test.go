package events

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"voicedash/internal/calls"
)

func postForm(t *testing.T, values url.Values) StatusCallbackForm {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhooks/voice/status", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	f, err := ParseStatusCallback(req)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestStatusCallback_Translation(t *testing.T) {
	f := postForm(t, url.Values{
		"CallSid":      {"CA77"},
		"From":         {"+15550001111"},
		"To":           {"+15550002222"},
		"CallStatus":   {"completed"},
		"CallDuration": {"63"},
		"AnsweredBy":   {"Human"},
	})
	ev, err := f.Event(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != KindCallUpdate {
		t.Fatalf("kind = %q", ev.Kind)
	}
	cu := ev.Call
	if cu.CallID != "CA77" || cu.Status != calls.CallStatusCompleted {
		t.Fatalf("got %+v", cu)
	}
	if cu.DurationSeconds != 63 || cu.AnsweredBy != "human" {
		t.Fatalf("got %+v", cu)
	}
}

func TestStatusCallback_ProviderStatusNames(t *testing.T) {
	cases := map[string]calls.CallStatus{
		"queued":    calls.CallStatusInitiated,
		"initiated": calls.CallStatusInitiated,
		"ringing":   calls.CallStatusRinging,
		"answered":  calls.CallStatusInProgress,
		"no-answer": calls.CallStatusNoAnswer,
		"cancelled": calls.CallStatusCanceled,
	}
	for raw, want := range cases {
		if got := mapProviderStatus(raw); got != want {
			t.Errorf("mapProviderStatus(%q) = %q, want %q", raw, got, want)
		}
	}
	if mapProviderStatus("on-hold") != "" {
		t.Errorf("unknown provider status should map to empty")
	}
}

func TestStatusCallback_RequiresCallSid(t *testing.T) {
	req := httptest.NewRequest("POST", "/webhooks/voice/status", strings.NewReader("CallStatus=ringing"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if _, err := ParseStatusCallback(req); err == nil {
		t.Fatalf("expected error without CallSid")
	}
}
