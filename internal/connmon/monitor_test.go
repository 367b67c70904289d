package connmon

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testMonitor(t *testing.T, rc Reconnector) *Monitor {
	t.Helper()
	m := New(Thresholds{}, rc, nil)
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	m.clock = func() time.Time { return base }
	return m
}

func TestClassify_StepFunction(t *testing.T) {
	m := testMonitor(t, nil)
	cases := []struct {
		name string
		rtts []time.Duration
		lost int
		want Quality
	}{
		{"fast and clean", []time.Duration{20 * time.Millisecond, 40 * time.Millisecond}, 0, QualityExcellent},
		{"fast but lossy", []time.Duration{20 * time.Millisecond}, 1, QualityUnstable},
		{"moderate", []time.Duration{200 * time.Millisecond}, 0, QualityGood},
		{"slow", []time.Duration{600 * time.Millisecond}, 0, QualityPoor},
		{"very slow", []time.Duration{2 * time.Second}, 0, QualityUnstable},
	}
	for _, tc := range cases {
		m.mu.Lock()
		m.samples = nil
		m.mu.Unlock()
		for _, rtt := range tc.rtts {
			m.RecordHeartbeat(rtt)
		}
		for i := 0; i < tc.lost; i++ {
			m.RecordLoss()
		}
		if got := m.Snapshot().Quality; got != tc.want {
			t.Errorf("%s: quality = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestClassify_LossyMix(t *testing.T) {
	m := testMonitor(t, nil)
	// 1 loss in 20 samples = 5% -> not good, still poor at low latency.
	for i := 0; i < 19; i++ {
		m.RecordHeartbeat(150 * time.Millisecond)
	}
	m.RecordLoss()
	rep := m.Snapshot()
	if rep.PacketLossPct != 5 {
		t.Fatalf("loss = %v, want 5", rep.PacketLossPct)
	}
	if rep.Quality != QualityPoor {
		t.Fatalf("quality = %q, want poor", rep.Quality)
	}
}

func TestSnapshot_NoSamplesIsPoor(t *testing.T) {
	m := testMonitor(t, nil)
	if q := m.Snapshot().Quality; q != QualityPoor {
		t.Fatalf("quality with no samples = %q, want poor", q)
	}
}

func TestStateMachine_TransientDrop(t *testing.T) {
	m := testMonitor(t, nil)
	var transitions []State
	m.OnStateChange(func(s State) { transitions = append(transitions, s) })

	m.Connecting()
	m.Connected()
	m.ConnectionLost()
	m.Connected()

	want := []State{StateConnecting, StateConnected, StateReconnecting, StateConnected}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestStateMachine_LossWhileConnectingIgnored(t *testing.T) {
	m := testMonitor(t, nil)
	m.Connecting()
	m.ConnectionLost()
	if m.State() != StateConnecting {
		t.Fatalf("state = %q, want connecting", m.State())
	}
}

type fakeReconnector struct {
	calls int
	err   error
}

func (f *fakeReconnector) Reconnect(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestForceReconnect(t *testing.T) {
	rc := &fakeReconnector{}
	m := testMonitor(t, rc)
	m.Connected()
	m.RecordHeartbeat(50 * time.Millisecond)

	if err := m.ForceReconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rc.calls != 1 {
		t.Fatalf("reconnector not invoked")
	}
	rep := m.Snapshot()
	if rep.ReconnectCount != 1 {
		t.Fatalf("reconnect count = %d", rep.ReconnectCount)
	}
	if rep.UptimeMS != 0 {
		t.Fatalf("uptime not reset: %d", rep.UptimeMS)
	}
	if rep.State != StateConnecting {
		t.Fatalf("state = %q, want connecting", rep.State)
	}
}

func TestForceReconnect_FailureGoesFailed(t *testing.T) {
	rc := &fakeReconnector{err: errors.New("refused")}
	m := testMonitor(t, rc)
	if err := m.ForceReconnect(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if m.State() != StateFailed {
		t.Fatalf("state = %q, want failed", m.State())
	}
}
