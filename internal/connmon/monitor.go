// Package connmon tracks the health of the push stream connection: a small
// state machine over the connection lifecycle plus a rolling window of
// heartbeat samples classified into a coarse quality grade for the UI.
package connmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateUnauthorized State = "unauthorized"
)

type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityPoor      Quality = "poor"
	QualityUnstable  Quality = "unstable"
)

// Thresholds is the quality step function. These are tunables, not a
// contract; defaults follow the usual dashboard expectations.
type Thresholds struct {
	Excellent time.Duration // below this and zero loss
	Good      time.Duration
	Poor      time.Duration

	// SampleWindow is how many heartbeat outcomes the rolling stats see.
	SampleWindow int
}

func (t Thresholds) withDefaults() Thresholds {
	out := t
	if out.Excellent <= 0 {
		out.Excellent = 100 * time.Millisecond
	}
	if out.Good <= 0 {
		out.Good = 300 * time.Millisecond
	}
	if out.Poor <= 0 {
		out.Poor = 800 * time.Millisecond
	}
	if out.SampleWindow <= 0 {
		out.SampleWindow = 20
	}
	return out
}

// Reconnector tears down and re-establishes the stream connection.
// Implemented by the event source client.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

type sample struct {
	rtt  time.Duration
	lost bool
}

// Report is the health snapshot exposed to the UI.
type Report struct {
	State          State     `json:"state"`
	Quality        Quality   `json:"quality"`
	LatencyMS      int64     `json:"latency_ms"`
	PacketLossPct  float64   `json:"packet_loss_pct"`
	UptimeMS       int64     `json:"uptime_ms"`
	ReconnectCount int       `json:"reconnect_count"`
	LastHeartbeat  time.Time `json:"last_heartbeat,omitempty"`
}

// Monitor is safe for concurrent use.
type Monitor struct {
	thresholds Thresholds
	reconnect  Reconnector
	log        *slog.Logger
	clock      func() time.Time

	mu             sync.Mutex
	state          State
	connectedAt    time.Time
	lastHeartbeat  time.Time
	reconnectCount int
	samples        []sample
	onChange       func(State)
}

func New(t Thresholds, reconnect Reconnector, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		thresholds: t.withDefaults(),
		reconnect:  reconnect,
		log:        log,
		clock:      time.Now,
		state:      StateDisconnected,
	}
}

// OnStateChange registers a listener invoked (outside the lock) whenever
// the state changes. Used to freeze/unfreeze the reconciler.
func (m *Monitor) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = s
	if s == StateConnected {
		m.connectedAt = m.clock()
		m.samples = nil
	}
	cb := m.onChange
	m.mu.Unlock()

	m.log.Info("stream state changed", "from", prev, "to", s)
	if cb != nil {
		cb(s)
	}
}

// Lifecycle notifications, driven by the event source client.

func (m *Monitor) Connecting()   { m.setState(StateConnecting) }
func (m *Monitor) Connected()    { m.setState(StateConnected) }
func (m *Monitor) Unauthorized() { m.setState(StateUnauthorized) }
func (m *Monitor) Disconnected() { m.setState(StateDisconnected) }

// ConnectionLost marks a transient drop: connected -> reconnecting.
// Other states are left alone (a drop while connecting stays connecting).
func (m *Monitor) ConnectionLost() {
	m.mu.Lock()
	cur := m.state
	m.mu.Unlock()
	if cur == StateConnected {
		m.setState(StateReconnecting)
	}
}

// Failed marks the retry budget exhausted: connecting -> failed.
func (m *Monitor) Failed() { m.setState(StateFailed) }

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RecordHeartbeat records one successful heartbeat round trip.
func (m *Monitor) RecordHeartbeat(rtt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastHeartbeat = m.clock()
	m.push(sample{rtt: rtt})
}

// RecordLoss records a heartbeat that never came back.
func (m *Monitor) RecordLoss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.push(sample{lost: true})
}

func (m *Monitor) push(s sample) {
	m.samples = append(m.samples, s)
	if len(m.samples) > m.thresholds.SampleWindow {
		m.samples = m.samples[len(m.samples)-m.thresholds.SampleWindow:]
	}
}

// Snapshot computes the current report from the rolling window.
func (m *Monitor) Snapshot() Report {
	now := m.clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	r := Report{
		State:          m.state,
		ReconnectCount: m.reconnectCount,
		LastHeartbeat:  m.lastHeartbeat,
	}
	if m.state == StateConnected && !m.connectedAt.IsZero() {
		r.UptimeMS = now.Sub(m.connectedAt).Milliseconds()
	}

	var (
		total   time.Duration
		ok, lost int
	)
	for _, s := range m.samples {
		if s.lost {
			lost++
			continue
		}
		ok++
		total += s.rtt
	}
	if ok+lost > 0 {
		r.PacketLossPct = float64(lost) / float64(ok+lost) * 100
	}
	var avg time.Duration
	if ok > 0 {
		avg = total / time.Duration(ok)
		r.LatencyMS = avg.Milliseconds()
	}
	r.Quality = m.classify(avg, r.PacketLossPct, ok+lost)
	return r
}

// classify is a step function of average latency and loss. With no samples
// yet the grade is unknowable; report poor rather than promising quality.
func (m *Monitor) classify(avg time.Duration, lossPct float64, n int) Quality {
	switch {
	case n == 0:
		return QualityPoor
	case avg < m.thresholds.Excellent && lossPct == 0:
		return QualityExcellent
	case avg < m.thresholds.Good && lossPct < 5:
		return QualityGood
	case avg < m.thresholds.Poor && lossPct < 15:
		return QualityPoor
	default:
		return QualityUnstable
	}
}

// ForceReconnect tears down and re-establishes the connection. The
// reconnect counter survives state resets; uptime starts over once the
// new connection reaches connected.
func (m *Monitor) ForceReconnect(ctx context.Context) error {
	m.mu.Lock()
	m.reconnectCount++
	m.connectedAt = time.Time{}
	m.samples = nil
	m.mu.Unlock()

	m.setState(StateConnecting)
	if m.reconnect == nil {
		return nil
	}
	if err := m.reconnect.Reconnect(ctx); err != nil {
		m.setState(StateFailed)
		return err
	}
	return nil
}
