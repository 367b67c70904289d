package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"voicedash/internal/calls"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, Token: "test-token"})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCall_DecodesEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calls/CA1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("auth header = %q", got)
		}
		w.Write([]byte(`{"success":true,"data":{"call_id":"CA1","status":"in-progress","from":"+15550001111"}}`))
	})
	rec, err := c.Call(context.Background(), "CA1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.CallID != "CA1" || rec.Status != calls.CallStatusInProgress {
		t.Fatalf("got %+v", rec)
	}
}

func TestCall_SuccessFalseIsRemoteError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"upstream unavailable"}`))
	})
	_, err := c.Call(context.Background(), "CA1")
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("err = %v, want ErrRemote", err)
	}
}

func TestCall_NotFoundVariants(t *testing.T) {
	// 404 status
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	if _, err := c.Call(context.Background(), "CA404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("404: err = %v, want ErrNotFound", err)
	}

	// 200 with success:false and a not-found message
	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"Call not found"}`))
	})
	if _, err := c.Call(context.Background(), "CA404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("envelope: err = %v, want ErrNotFound", err)
	}
}

func TestCall_ServerErrorIsStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	_, err := c.Call(context.Background(), "CA1")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Fatalf("err = %v, want StatusError 502", err)
	}
}

func TestMakeCall_ValidatesBeforeNetwork(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte(`{"success":true,"data":{"call_id":"CA9","status":"initiated"}}`))
	})

	_, err := c.MakeCall(context.Background(), MakeCallRequest{Number: "not a number"})
	if !errors.Is(err, ErrInvalidNumber) {
		t.Fatalf("err = %v, want ErrInvalidNumber", err)
	}
	if called {
		t.Fatalf("invalid number must not reach the network")
	}

	out, err := c.MakeCall(context.Background(), MakeCallRequest{Number: "+1 (555) 000-1111"})
	if err != nil {
		t.Fatal(err)
	}
	if out.CallID != "CA9" {
		t.Fatalf("got %+v", out)
	}
}

func TestNormalizeE164(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+15550001111", "+15550001111", false},
		{"1 (555) 000-1111", "+15550001111", false},
		{"+44 20 7946 0958", "+442079460958", false},
		{"0800123456", "", true},
		{"12345", "", true},
		{"call-me-maybe", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizeE164(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NormalizeE164(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeE164(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeE164(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTerminateCall(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/calls/CA1/terminate" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"success":true}`))
	})
	if err := c.TerminateCall(context.Background(), "CA1"); err != nil {
		t.Fatal(err)
	}
}

func TestFetchRecording(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("RIFFxxxxWAVE"))
	})
	body, ctype, err := c.FetchRecording(context.Background(), "RE1")
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()
	if ctype != "audio/wav" {
		t.Fatalf("content type = %q", ctype)
	}
}
