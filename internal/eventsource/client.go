// Package eventsource implements the push-stream clients. The primary
// transport is a WebSocket; deployments that publish call events on redis
// channels can use the redis source instead. Both deliver normalized
// events; raw payloads never leave this package.
package eventsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voicedash/internal/events"
)

// Handler receives each normalized event, in receipt order.
type Handler func(events.Event)

// Observer receives connection lifecycle and heartbeat signals.
// Satisfied by *connmon.Monitor.
type Observer interface {
	Connecting()
	Connected()
	ConnectionLost()
	Disconnected()
	Failed()
	Unauthorized()
	RecordHeartbeat(rtt time.Duration)
	RecordLoss()
}

var ErrNotConnected = errors.New("eventsource: not connected")

// Source is the transport-independent stream contract. Client (WebSocket)
// and RedisSource both satisfy it, so the process wires whichever the
// deployment configures.
type Source interface {
	Run(ctx context.Context) error
	Reconnect(ctx context.Context) error
	SubscribeCall(id string) error
	UnsubscribeCall(id string) error
	SubscribeCampaign(id string) error
	UnsubscribeCampaign(id string) error
}

// closeCodeUnauthorized is the application close code the stream server
// uses for auth rejection.
const closeCodeUnauthorized = 4401

type Config struct {
	URL   string
	Token string

	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration

	// RetryInterval is the fixed (not exponential) reconnect cadence.
	RetryInterval time.Duration
	// MaxRetries bounds consecutive failed connect attempts before the
	// connection is declared failed. 0 means retry forever.
	MaxRetries int
}

func (c Config) withDefaults() Config {
	out := c
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.PingInterval <= 0 {
		out.PingInterval = 15 * time.Second
	}
	if out.PongWait <= 0 {
		out.PongWait = 2 * out.PingInterval
	}
	if out.RetryInterval <= 0 {
		out.RetryInterval = 5 * time.Second
	}
	return out
}

// Client is the WebSocket stream client. It maintains one connection,
// resubscribes tracked resources after every reconnect, and forwards
// normalized events to the handler from a single read loop goroutine.
type Client struct {
	cfg      Config
	handler  Handler
	observer Observer
	log      *slog.Logger
	clock    func() time.Time

	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     *websocket.Conn
	lastPing time.Time
	// subs tracks desired subscriptions so they survive reconnects.
	subCalls     map[string]struct{}
	subCampaigns map[string]struct{}

	cancel context.CancelFunc
	doneWG sync.WaitGroup
}

func NewClient(cfg Config, handler Handler, observer Observer, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:          cfg.withDefaults(),
		handler:      handler,
		observer:     observer,
		log:          log,
		clock:        time.Now,
		subCalls:     map[string]struct{}{},
		subCampaigns: map[string]struct{}{},
	}
}

// Run connects and keeps the connection alive until ctx is canceled,
// reconnecting on transient drops at the fixed retry interval. It returns
// when ctx is done or the retry budget is exhausted.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	attempts := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.observer.Connecting()
		err := c.connect(ctx)
		if err == nil {
			attempts = 0
			c.observer.Connected()
			err = c.serve(ctx) // blocks until the connection drops
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, errUnauthorized) {
				c.observer.Unauthorized()
				return err
			}
			c.observer.ConnectionLost()
		} else {
			if errors.Is(err, errUnauthorized) {
				c.observer.Unauthorized()
				return err
			}
			attempts++
			c.log.Warn("stream connect failed", "attempt", attempts, "err", err)
			if c.cfg.MaxRetries > 0 && attempts >= c.cfg.MaxRetries {
				c.observer.Failed()
				return fmt.Errorf("eventsource: giving up after %d attempts: %w", attempts, err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryInterval):
		}
	}
}

var errUnauthorized = errors.New("eventsource: unauthorized")

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return errUnauthorized
		}
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		sent := c.lastPing
		c.mu.Unlock()
		if !sent.IsZero() {
			c.observer.RecordHeartbeat(c.clock().Sub(sent))
		}
		return conn.SetReadDeadline(c.clock().Add(c.cfg.PongWait))
	})
	_ = conn.SetReadDeadline(c.clock().Add(c.cfg.PongWait))

	return c.resubscribe()
}

// serve runs the read and ping loops until the connection drops.
func (c *Client) serve(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	c.doneWG.Add(1)
	go c.pingLoop(pingCtx, conn)

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, closeCodeUnauthorized) {
				return errUnauthorized
			}
			return err
		}
		ev, err := events.Normalize(raw, c.clock())
		if err != nil {
			// Unknown frames are expected as the protocol grows; log and move on.
			c.log.Debug("frame dropped", "err", err)
			continue
		}
		if ev.Kind == events.KindHeartbeat && ev.Heartbeat != nil && !ev.Heartbeat.ServerTime.IsZero() {
			// Server-timestamped heartbeats give a one-way delay estimate
			// when pongs are unavailable (proxied deployments).
			if d := c.clock().Sub(ev.Heartbeat.ServerTime); d > 0 && d < time.Minute {
				c.observer.RecordHeartbeat(d)
			}
		}
		if c.handler != nil {
			c.handler(ev)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.doneWG.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			c.lastPing = c.clock()
			c.mu.Unlock()
			if err := conn.WriteControl(websocket.PingMessage, nil, c.clock().Add(5*time.Second)); err != nil {
				c.observer.RecordLoss()
				return
			}
		}
	}
}

// Close tears down the connection and stops the run loop.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	c.doneWG.Wait()
}

// Reconnect drops the current connection; the run loop re-establishes it.
// Satisfies connmon.Reconnector.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

/* ===================== subscriptions ===================== */

// subscribeFrame is the outbound wire shape.
type subscribeFrame struct {
	Action     string `json:"action"`
	CallSid    string `json:"callSid,omitempty"`
	CampaignID string `json:"campaignId,omitempty"`
}

func (c *Client) SubscribeCall(id string) error {
	c.mu.Lock()
	c.subCalls[id] = struct{}{}
	c.mu.Unlock()
	return c.send(subscribeFrame{Action: "subscribe_to_call", CallSid: id})
}

func (c *Client) UnsubscribeCall(id string) error {
	c.mu.Lock()
	delete(c.subCalls, id)
	c.mu.Unlock()
	return c.send(subscribeFrame{Action: "unsubscribe_from_call", CallSid: id})
}

func (c *Client) SubscribeCampaign(id string) error {
	c.mu.Lock()
	c.subCampaigns[id] = struct{}{}
	c.mu.Unlock()
	return c.send(subscribeFrame{Action: "subscribe_to_campaign", CampaignID: id})
}

func (c *Client) UnsubscribeCampaign(id string) error {
	c.mu.Lock()
	delete(c.subCampaigns, id)
	c.mu.Unlock()
	return c.send(subscribeFrame{Action: "unsubscribe_from_campaign", CampaignID: id})
}

// send is tolerant of a missing connection: desired subscriptions are
// tracked and replayed on (re)connect, so callers need not order their
// subscribes against connection establishment.
func (c *Client) send(frame subscribeFrame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	buf, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, buf)
}

func (c *Client) resubscribe() error {
	c.mu.Lock()
	frames := make([]subscribeFrame, 0, len(c.subCalls)+len(c.subCampaigns))
	for id := range c.subCalls {
		frames = append(frames, subscribeFrame{Action: "subscribe_to_call", CallSid: id})
	}
	for id := range c.subCampaigns {
		frames = append(frames, subscribeFrame{Action: "subscribe_to_campaign", CampaignID: id})
	}
	c.mu.Unlock()

	for _, f := range frames {
		if err := c.send(f); err != nil {
			return err
		}
	}
	return nil
}
