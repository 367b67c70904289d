// Package audio wraps call recordings into playable, seekable handles.
// Recordings are fetched as authenticated blobs (never linked by URL) and
// the underlying buffer is released on every exit path: source switches,
// teardown and failures all go through the same release.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ErrorKind separates the user-facing failure modes.
type ErrorKind string

const (
	KindFetch       ErrorKind = "fetch"
	KindDecode      ErrorKind = "decode"
	KindUnsupported ErrorKind = "unsupported"
	KindAborted     ErrorKind = "aborted"
)

// Error carries the failure kind alongside the cause so the player widget
// can show a distinct message with a retry affordance.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("audio %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Message is the human-readable text paired with each failure kind.
func (e *Error) Message() string {
	switch e.Kind {
	case KindFetch:
		return "Could not load the recording. Check your connection and retry."
	case KindDecode:
		return "The recording could not be decoded."
	case KindUnsupported:
		return "This recording format is not supported."
	case KindAborted:
		return "Playback loading was canceled."
	default:
		return "Recording playback failed."
	}
}

func wrapErr(kind ErrorKind, err error) *Error { return &Error{Kind: kind, Err: err} }

// Fetcher retrieves recording audio. Satisfied by *backend.Client.
type Fetcher interface {
	FetchRecording(ctx context.Context, recordingID string) (io.ReadCloser, string, error)
}

// maxRecordingBytes bounds a single recording buffer (~1h of 64kbit/s).
const maxRecordingBytes = 32 << 20

// Track is one loaded recording. It is created by the controller and
// released exactly once; Release is idempotent.
type Track struct {
	RecordingID string
	Format      Format
	Duration    time.Duration

	data      []byte
	released  bool
	onRelease func()
	mu        sync.Mutex
}

func (t *Track) Size() int { return len(t.data) }

// Release frees the underlying buffer. Safe to call more than once.
func (t *Track) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return
	}
	t.released = true
	t.data = nil
	if t.onRelease != nil {
		t.onRelease()
	}
}

// Controller owns at most one active track plus the transport state.
// All methods are safe for concurrent use.
type Controller struct {
	fetcher Fetcher
	clock   func() time.Time

	mu       sync.Mutex
	track    *Track
	loadGen  uint64
	playing  bool
	playedAt time.Time
	position time.Duration
	volume   int
	releases int
}

func NewController(fetcher Fetcher) *Controller {
	return &Controller{fetcher: fetcher, clock: time.Now, volume: 100}
}

// Load fetches a recording and swaps it in as the active track. The
// previous track is released before the new one becomes active. If a
// newer Load started while this one was in flight, the fetched data is
// released immediately and KindAborted is returned, so after any number
// of overlapping loads exactly one track remains active.
func (c *Controller) Load(ctx context.Context, recordingID string, knownDuration time.Duration) (*Track, error) {
	c.mu.Lock()
	c.loadGen++
	gen := c.loadGen
	c.mu.Unlock()

	body, contentType, err := c.fetcher.FetchRecording(ctx, recordingID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, wrapErr(KindAborted, ctx.Err())
		}
		return nil, wrapErr(KindFetch, err)
	}
	data, err := io.ReadAll(io.LimitReader(body, maxRecordingBytes+1))
	body.Close()
	if err != nil {
		if ctx.Err() != nil {
			return nil, wrapErr(KindAborted, ctx.Err())
		}
		return nil, wrapErr(KindFetch, err)
	}
	if len(data) > maxRecordingBytes {
		return nil, wrapErr(KindDecode, fmt.Errorf("recording exceeds %d bytes", maxRecordingBytes))
	}

	format, err := SniffFormat(data, contentType)
	if err != nil {
		return nil, err
	}

	duration := knownDuration
	if duration <= 0 && format == FormatWAV {
		duration, err = wavDuration(data)
		if err != nil {
			return nil, wrapErr(KindDecode, err)
		}
	}

	track := &Track{
		RecordingID: recordingID,
		Format:      format,
		Duration:    duration,
		data:        data,
		onRelease:   c.countRelease,
	}

	c.mu.Lock()
	if gen != c.loadGen {
		// A newer load superseded this one while it was in flight.
		c.mu.Unlock()
		track.Release()
		return nil, wrapErr(KindAborted, errors.New("superseded by a newer load"))
	}
	prev := c.track
	c.track = track
	c.playing = false
	c.position = 0
	c.mu.Unlock()

	if prev != nil {
		prev.Release()
	}
	return track, nil
}

func (c *Controller) countRelease() {
	c.mu.Lock()
	c.releases++
	c.mu.Unlock()
}

// Releases reports how many tracks have been released over the
// controller's lifetime.
func (c *Controller) Releases() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releases
}

// Track returns the active track, or nil.
func (c *Controller) Track() *Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.track
}

// Close releases the active track. Must be called on teardown.
func (c *Controller) Close() {
	c.mu.Lock()
	t := c.track
	c.track = nil
	c.playing = false
	c.position = 0
	c.loadGen++ // aborts any in-flight load
	c.mu.Unlock()
	if t != nil {
		t.Release()
	}
}

/* ===================== transport ===================== */

var ErrNoTrack = errors.New("audio: no track loaded")

func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.track == nil {
		return ErrNoTrack
	}
	if c.playing {
		return nil
	}
	c.playing = true
	c.playedAt = c.clock()
	return nil
}

func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.track == nil {
		return ErrNoTrack
	}
	if c.playing {
		c.position = c.positionLocked()
		c.playing = false
	}
	return nil
}

// Seek jumps to an absolute position, clamped to [0, duration].
func (c *Controller) Seek(to time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.track == nil {
		return ErrNoTrack
	}
	c.position = clampDuration(to, c.track.Duration)
	if c.playing {
		c.playedAt = c.clock()
	}
	return nil
}

// SkipBy moves relative to the current position, clamped to [0, duration].
func (c *Controller) SkipBy(delta time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.track == nil {
		return ErrNoTrack
	}
	c.position = clampDuration(c.positionLocked()+delta, c.track.Duration)
	if c.playing {
		c.playedAt = c.clock()
	}
	return nil
}

// SetVolume accepts 0..100 and clamps anything outside.
func (c *Controller) SetVolume(v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	c.volume = v
}

func (c *Controller) Volume() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// Position is the current playhead, advancing while playing and clamped
// at the track end.
func (c *Controller) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.track == nil {
		return 0
	}
	return c.positionLocked()
}

func (c *Controller) positionLocked() time.Duration {
	pos := c.position
	if c.playing {
		pos += c.clock().Sub(c.playedAt)
	}
	return clampDuration(pos, c.track.Duration)
}

func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func clampDuration(d, max time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
