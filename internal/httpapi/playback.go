package httpapi

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"voicedash/internal/audio"
	"voicedash/internal/auth"

	"github.com/gin-gonic/gin"
)

// Each user gets one playback session: loading a recording releases the
// previous one, so at most one buffered recording is held per user.
type playbackSessions struct {
	mu     sync.Mutex
	byUser map[string]*audio.Controller
}

func (p *playbackSessions) get(userID string, fetcher audio.Fetcher) *audio.Controller {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.byUser == nil {
		p.byUser = map[string]*audio.Controller{}
	}
	ctl, ok := p.byUser[userID]
	if !ok {
		ctl = audio.NewController(fetcher)
		p.byUser[userID] = ctl
	}
	return ctl
}

func (p *playbackSessions) drop(userID string) {
	p.mu.Lock()
	ctl := p.byUser[userID]
	delete(p.byUser, userID)
	p.mu.Unlock()
	if ctl != nil {
		ctl.Close()
	}
}

func (h *Handlers) session(c *gin.Context) (*audio.Controller, string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "user_id required")
		return nil, "", false
	}
	return h.playback.get(uid, h.Backend), uid, true
}

type playbackLoadRequest struct {
	RecordingID     string `json:"recording_id" binding:"required"`
	DurationSeconds int    `json:"duration_seconds"`
}

// PlaybackLoad fetches a recording into the user's session. Audio errors
// map to distinct user-facing messages with the failure kind attached.
func (h *Handlers) PlaybackLoad(c *gin.Context) {
	ctl, _, okSession := h.session(c)
	if !okSession {
		return
	}
	var req playbackLoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "recording_id is required")
		return
	}

	track, err := ctl.Load(c.Request.Context(), req.RecordingID,
		time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		var ae *audio.Error
		if errors.As(err, &ae) {
			status := http.StatusBadGateway
			switch ae.Kind {
			case audio.KindUnsupported, audio.KindDecode:
				status = http.StatusUnprocessableEntity
			case audio.KindAborted:
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"success": false, "error": ae.Message(), "kind": ae.Kind})
			return
		}
		h.log(c).Error("playback load failed", "recording_id", req.RecordingID, "err", err)
		fail(c, http.StatusBadGateway, "recording load failed")
		return
	}
	ok(c, gin.H{
		"recording_id":     track.RecordingID,
		"format":           track.Format,
		"duration_seconds": track.Duration.Seconds(),
		"size_bytes":       track.Size(),
	})
}

// PlaybackControl dispatches play/pause/stop on the loaded track.
func (h *Handlers) PlaybackControl(c *gin.Context) {
	ctl, uid, okSession := h.session(c)
	if !okSession {
		return
	}

	var err error
	action := c.Param("action")
	switch action {
	case "play":
		err = ctl.Play()
	case "pause":
		err = ctl.Pause()
	case "stop":
		h.playback.drop(uid)
	default:
		fail(c, http.StatusBadRequest, "action must be play, pause or stop")
		return
	}
	if errors.Is(err, audio.ErrNoTrack) {
		fail(c, http.StatusConflict, "no recording loaded")
		return
	}
	ok(c, gin.H{"action": action})
}

type playbackSeekRequest struct {
	PositionSeconds *float64 `json:"position_seconds"`
	DeltaSeconds    *float64 `json:"delta_seconds"`
	Volume          *int     `json:"volume"`
}

// PlaybackSeek adjusts position (absolute or relative) and volume. Out of
// range values clamp instead of erroring.
func (h *Handlers) PlaybackSeek(c *gin.Context) {
	ctl, _, okSession := h.session(c)
	if !okSession {
		return
	}
	var req playbackSeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid seek request")
		return
	}

	var err error
	switch {
	case req.PositionSeconds != nil:
		err = ctl.Seek(time.Duration(*req.PositionSeconds * float64(time.Second)))
	case req.DeltaSeconds != nil:
		err = ctl.SkipBy(time.Duration(*req.DeltaSeconds * float64(time.Second)))
	}
	if errors.Is(err, audio.ErrNoTrack) {
		fail(c, http.StatusConflict, "no recording loaded")
		return
	}
	if req.Volume != nil {
		ctl.SetVolume(*req.Volume)
	}
	h.playbackStatus(c, ctl)
}

func (h *Handlers) PlaybackStatus(c *gin.Context) {
	ctl, _, okSession := h.session(c)
	if !okSession {
		return
	}
	h.playbackStatus(c, ctl)
}

func (h *Handlers) playbackStatus(c *gin.Context, ctl *audio.Controller) {
	out := gin.H{
		"loaded":  false,
		"playing": ctl.Playing(),
		"volume":  ctl.Volume(),
	}
	if track := ctl.Track(); track != nil {
		out["loaded"] = true
		out["recording_id"] = track.RecordingID
		out["format"] = track.Format
		out["duration_seconds"] = track.Duration.Seconds()
		out["position_seconds"] = ctl.Position().Seconds()
	}
	ok(c, out)
}
