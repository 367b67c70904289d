package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// wavBytes builds a minimal RIFF/WAVE blob with the given byte rate and
// data payload length.
func wavBytes(byteRate, dataLen int) []byte {
	var buf bytes.Buffer
	payload := make([]byte, dataLen)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(4+8+16+8+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(8000))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(payload)
	return buf.Bytes()
}

type fakeFetcher struct {
	mu          sync.Mutex
	data        map[string][]byte
	contentType string
	err         error
	// block, when non-nil, is closed to let a pending fetch proceed.
	block chan struct{}
	calls int
}

func (f *fakeFetcher) FetchRecording(ctx context.Context, id string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
	if f.err != nil {
		return nil, "", f.err
	}
	body, ok := f.data[id]
	if !ok {
		return nil, "", errors.New("no such recording")
	}
	return io.NopCloser(bytes.NewReader(body)), f.contentType, nil
}

func newTestController(f *fakeFetcher) *Controller {
	c := NewController(f)
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	c.clock = func() time.Time { return base }
	return c
}

func TestLoad_WAVDurationFromHeader(t *testing.T) {
	f := &fakeFetcher{data: map[string][]byte{
		// 16000 B/s byte rate, 48000 bytes of data = 3s.
		"RE1": wavBytes(16000, 48000),
	}}
	c := newTestController(f)

	track, err := c.Load(context.Background(), "RE1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if track.Format != FormatWAV {
		t.Fatalf("format = %q", track.Format)
	}
	if track.Duration != 3*time.Second {
		t.Fatalf("duration = %v, want 3s", track.Duration)
	}
}

func TestLoad_KnownDurationWins(t *testing.T) {
	f := &fakeFetcher{
		data:        map[string][]byte{"RE1": {0xFF, 0xFB, 0x90, 0x00}},
		contentType: "audio/mpeg",
	}
	c := newTestController(f)

	track, err := c.Load(context.Background(), "RE1", 42*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if track.Format != FormatMP3 {
		t.Fatalf("format = %q", track.Format)
	}
	if track.Duration != 42*time.Second {
		t.Fatalf("duration = %v", track.Duration)
	}
}

func TestLoad_FetchFailureKind(t *testing.T) {
	f := &fakeFetcher{err: errors.New("gateway timeout")}
	c := newTestController(f)

	_, err := c.Load(context.Background(), "RE1", 0)
	var ae *Error
	if !errors.As(err, &ae) || ae.Kind != KindFetch {
		t.Fatalf("err = %v, want fetch kind", err)
	}
	if ae.Message() == "" {
		t.Fatal("fetch error carries no user message")
	}
}

func TestLoad_UnsupportedFormatKind(t *testing.T) {
	f := &fakeFetcher{
		data:        map[string][]byte{"RE1": []byte("this is not audio at all")},
		contentType: "application/octet-stream",
	}
	c := newTestController(f)

	_, err := c.Load(context.Background(), "RE1", 0)
	var ae *Error
	if !errors.As(err, &ae) || ae.Kind != KindUnsupported {
		t.Fatalf("err = %v, want unsupported kind", err)
	}
	if c.Track() != nil {
		t.Fatal("failed load must not leave a track behind")
	}
}

func TestLoad_SwapReleasesPrevious(t *testing.T) {
	f := &fakeFetcher{data: map[string][]byte{
		"RE1": wavBytes(16000, 16000),
		"RE2": wavBytes(16000, 32000),
	}}
	c := newTestController(f)

	first, err := c.Load(context.Background(), "RE1", 0)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Load(context.Background(), "RE2", 0)
	if err != nil {
		t.Fatal(err)
	}
	if c.Releases() != 1 {
		t.Fatalf("releases = %d, want 1", c.Releases())
	}
	if first.Size() != 0 {
		t.Fatal("previous track buffer not freed")
	}
	if got := c.Track(); got != second {
		t.Fatal("active track is not the newest load")
	}
}

func TestLoad_OverlappingLoadsLeaveOneTrack(t *testing.T) {
	block := make(chan struct{})
	f := &fakeFetcher{
		data: map[string][]byte{
			"RE1": wavBytes(16000, 16000),
			"RE2": wavBytes(16000, 32000),
		},
		block: block,
	}
	c := newTestController(f)

	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Load(context.Background(), "RE1", 0)
		firstErr <- err
	}()

	// Wait for the first fetch to be in flight, then start the second.
	for {
		f.mu.Lock()
		started := f.calls >= 1
		f.mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}
	f.mu.Lock()
	f.block = nil
	f.mu.Unlock()

	second, err := c.Load(context.Background(), "RE2", 0)
	if err != nil {
		t.Fatal(err)
	}
	close(block) // let the stale load finish

	err = <-firstErr
	var ae *Error
	if !errors.As(err, &ae) || ae.Kind != KindAborted {
		t.Fatalf("stale load err = %v, want aborted kind", err)
	}
	if got := c.Track(); got != second {
		t.Fatal("active track is not the winning load")
	}
	if c.Releases() != 1 {
		t.Fatalf("releases = %d, want 1 (the superseded buffer)", c.Releases())
	}
}

func TestClose_ReleasesAndIsIdempotent(t *testing.T) {
	f := &fakeFetcher{data: map[string][]byte{"RE1": wavBytes(16000, 16000)}}
	c := newTestController(f)

	track, err := c.Load(context.Background(), "RE1", 0)
	if err != nil {
		t.Fatal(err)
	}
	c.Close()
	c.Close()
	track.Release()
	if c.Releases() != 1 {
		t.Fatalf("releases = %d, want exactly 1", c.Releases())
	}
	if c.Track() != nil {
		t.Fatal("track survived close")
	}
}

func TestTransport_SeekAndSkipClamp(t *testing.T) {
	f := &fakeFetcher{data: map[string][]byte{"RE1": wavBytes(16000, 160000)}} // 10s
	c := newTestController(f)
	if _, err := c.Load(context.Background(), "RE1", 0); err != nil {
		t.Fatal(err)
	}

	if err := c.Seek(25 * time.Second); err != nil {
		t.Fatal(err)
	}
	if got := c.Position(); got != 10*time.Second {
		t.Fatalf("seek past end: position = %v, want 10s", got)
	}
	if err := c.SkipBy(-time.Minute); err != nil {
		t.Fatal(err)
	}
	if got := c.Position(); got != 0 {
		t.Fatalf("skip before start: position = %v, want 0", got)
	}
	if err := c.SkipBy(4 * time.Second); err != nil {
		t.Fatal(err)
	}
	if got := c.Position(); got != 4*time.Second {
		t.Fatalf("position = %v, want 4s", got)
	}
}

func TestTransport_PositionAdvancesWhilePlaying(t *testing.T) {
	f := &fakeFetcher{data: map[string][]byte{"RE1": wavBytes(16000, 160000)}} // 10s
	c := newTestController(f)
	if _, err := c.Load(context.Background(), "RE1", 0); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	c.clock = func() time.Time { return now }
	if err := c.Play(); err != nil {
		t.Fatal(err)
	}
	now = now.Add(3 * time.Second)
	if got := c.Position(); got != 3*time.Second {
		t.Fatalf("position = %v, want 3s", got)
	}
	if err := c.Pause(); err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Hour)
	if got := c.Position(); got != 3*time.Second {
		t.Fatalf("paused position drifted: %v", got)
	}
	// Playhead never runs past the end.
	if err := c.Play(); err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Hour)
	if got := c.Position(); got != 10*time.Second {
		t.Fatalf("position = %v, want clamped 10s", got)
	}
}

func TestTransport_NoTrack(t *testing.T) {
	c := newTestController(&fakeFetcher{})
	if err := c.Play(); !errors.Is(err, ErrNoTrack) {
		t.Fatalf("err = %v", err)
	}
	if err := c.Seek(time.Second); !errors.Is(err, ErrNoTrack) {
		t.Fatalf("err = %v", err)
	}
}

func TestSetVolume_Clamps(t *testing.T) {
	c := newTestController(&fakeFetcher{})
	c.SetVolume(150)
	if c.Volume() != 100 {
		t.Fatalf("volume = %d", c.Volume())
	}
	c.SetVolume(-3)
	if c.Volume() != 0 {
		t.Fatalf("volume = %d", c.Volume())
	}
	c.SetVolume(65)
	if c.Volume() != 65 {
		t.Fatalf("volume = %d", c.Volume())
	}
}
