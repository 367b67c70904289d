package eventsource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voicedash/internal/events"
)

type recordingObserver struct {
	mu     sync.Mutex
	states []string
	beats  int
	losses int
}

func (o *recordingObserver) push(s string) {
	o.mu.Lock()
	o.states = append(o.states, s)
	o.mu.Unlock()
}

func (o *recordingObserver) Connecting()     { o.push("connecting") }
func (o *recordingObserver) Connected()      { o.push("connected") }
func (o *recordingObserver) ConnectionLost() { o.push("lost") }
func (o *recordingObserver) Disconnected()   { o.push("disconnected") }
func (o *recordingObserver) Failed()         { o.push("failed") }
func (o *recordingObserver) Unauthorized()   { o.push("unauthorized") }

func (o *recordingObserver) RecordHeartbeat(time.Duration) {
	o.mu.Lock()
	o.beats++
	o.mu.Unlock()
}

func (o *recordingObserver) RecordLoss() {
	o.mu.Lock()
	o.losses++
	o.mu.Unlock()
}

func (o *recordingObserver) has(state string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.states {
		if s == state {
			return true
		}
	}
	return false
}

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_DeliversNormalizedEvents(t *testing.T) {
	frames := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Collect the subscribe frame the client sends.
		go func() {
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				frames <- string(raw)
			}
		}()

		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"call_update","callSid":"CA1","status":"ringing"}`))
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	got := make(chan events.Event, 4)
	obs := &recordingObserver{}
	c := NewClient(Config{URL: wsURL(srv), Token: "tok", RetryInterval: 50 * time.Millisecond, MaxRetries: 1},
		func(ev events.Event) { got <- ev }, obs, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()

	select {
	case ev := <-got:
		if ev.Kind != events.KindCallUpdate || ev.Call.CallID != "CA1" {
			t.Fatalf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	if err := c.SubscribeCall("CA1"); err != nil {
		t.Fatal(err)
	}
	select {
	case raw := <-frames:
		var f subscribeFrame
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			t.Fatal(err)
		}
		if f.Action != "subscribe_to_call" || f.CallSid != "CA1" {
			t.Fatalf("frame = %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("subscribe frame never reached the server")
	}

	cancel()
	<-done
	if !obs.has("connected") {
		t.Fatalf("observer never saw connected: %v", obs.states)
	}
}

func TestClient_UnauthorizedHandshakeIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	c := NewClient(Config{URL: wsURL(srv), RetryInterval: 10 * time.Millisecond, MaxRetries: 5},
		nil, obs, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Run(ctx)
	if err == nil {
		t.Fatal("expected error")
	}
	if !obs.has("unauthorized") {
		t.Fatalf("states = %v, want unauthorized", obs.states)
	}
	if obs.has("failed") {
		t.Fatalf("unauthorized must not be retried into failed")
	}
}

func TestClient_RetryBudgetExhaustedFails(t *testing.T) {
	// A server that immediately rejects the upgrade.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	c := NewClient(Config{URL: wsURL(srv), RetryInterval: 10 * time.Millisecond, MaxRetries: 2},
		nil, obs, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Run(ctx); err == nil {
		t.Fatal("expected error after retry budget")
	}
	if !obs.has("failed") {
		t.Fatalf("states = %v, want failed", obs.states)
	}
}

func TestClient_TracksSubscriptionsWithoutConnection(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:0"}, nil, &recordingObserver{}, nil)
	// No connection yet: subscribes are tracked for replay, not errors.
	if err := c.SubscribeCall("CA1"); err != nil {
		t.Fatal(err)
	}
	if err := c.SubscribeCampaign("CP1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.subCalls["CA1"]; !ok {
		t.Fatalf("call subscription not tracked")
	}
	if err := c.UnsubscribeCall("CA1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.subCalls["CA1"]; ok {
		t.Fatalf("call subscription not dropped")
	}
}
