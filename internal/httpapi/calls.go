package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"voicedash/internal/auth"
	"voicedash/internal/backend"
	"voicedash/internal/calls"
	"voicedash/internal/reconcile"

	"github.com/gin-gonic/gin"
)

/* ===================== live views ===================== */

// ActiveCalls serves the reconciled active-call list. The payload always
// carries the staleness meta; a degraded view keeps its last-known data
// rather than being hidden.
func (h *Handlers) ActiveCalls(c *gin.Context) {
	list, meta := h.Reconciler.ActiveCalls()
	if list == nil {
		list = []calls.CallRecord{}
	}
	ok(c, gin.H{"calls": list, "meta": meta})
}

// RecentCalls merges the in-memory ring with the persisted store so a
// fresh process still has history.
func (h *Handlers) RecentCalls(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	out := h.Reconciler.RecentCalls()
	seen := make(map[string]struct{}, len(out))
	for _, rec := range out {
		seen[rec.CallID] = struct{}{}
	}

	if h.Recents != nil {
		wid, err := auth.WorkspaceID(c.Request.Context())
		if err == nil {
			stored, err := h.Recents.Recent(c.Request.Context(), wid, limit)
			if err != nil {
				h.log(c).Error("recent store read failed", "err", err)
			}
			for _, rec := range stored {
				if _, dup := seen[rec.CallID]; !dup {
					out = append(out, rec)
				}
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []calls.CallRecord{}
	}
	ok(c, gin.H{"calls": out})
}

// CallHistory pages through the backend's full call log, past the window
// the recent store retains.
func (h *Handlers) CallHistory(c *gin.Context) {
	page, err := h.Backend.ListCalls(c.Request.Context(),
		intQuery(c, "page", 1), intQuery(c, "limit", 25))
	if err != nil {
		h.failFromErr(c, err)
		return
	}
	if page.Calls == nil {
		page.Calls = []calls.CallRecord{}
	}
	ok(c, page)
}

// CallDetail assembles the call view. The record, transcript and
// recordings are independent data dependencies: any of them failing does
// not blank the others, and a missing call is an explicit empty state
// rather than an error page.
func (h *Handlers) CallDetail(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("call_id")

	out := gin.H{"found": false}

	rec, meta, live := h.Reconciler.Call(id)
	if live {
		out["found"] = true
		out["call"] = rec
		out["meta"] = meta
	} else {
		fetched, err := h.Backend.Call(ctx, id)
		switch {
		case err == nil:
			out["found"] = true
			out["call"] = fetched
		case errors.Is(err, backend.ErrNotFound):
			// found stays false
		default:
			h.log(c).Error("call fetch failed", "call_id", id, "err", err)
			out["call_error"] = "call lookup failed"
		}
	}

	if msgs, typing, tmeta := h.Reconciler.Transcript(id); len(msgs) > 0 || tmeta.Subscribed {
		out["transcript"] = msgs
		out["typing"] = typing
		out["transcript_meta"] = tmeta
	} else {
		msgs, err := h.Backend.Transcript(ctx, id)
		switch {
		case err == nil:
			if msgs == nil {
				msgs = []calls.TranscriptMessage{}
			}
			out["transcript"] = msgs
		case errors.Is(err, backend.ErrNotFound):
			out["transcript"] = []calls.TranscriptMessage{}
		default:
			h.log(c).Error("transcript fetch failed", "call_id", id, "err", err)
			out["transcript_error"] = "transcript unavailable"
		}
	}

	recs, err := h.Backend.Recordings(ctx, id)
	switch {
	case err == nil:
		if recs == nil {
			recs = []calls.Recording{}
		}
		out["recordings"] = recs
	case errors.Is(err, backend.ErrNotFound):
		out["recordings"] = []calls.Recording{}
	default:
		h.log(c).Error("recordings fetch failed", "call_id", id, "err", err)
		out["recordings_error"] = "recordings unavailable"
	}

	ok(c, out)
}

/* ===================== subscriptions ===================== */

func (h *Handlers) SubscribeCall(c *gin.Context) {
	id := c.Param("call_id")
	if err := h.Reconciler.Subscribe(reconcile.CallResource(id)); err != nil {
		h.log(c).Error("call subscribe failed", "call_id", id, "err", err)
		fail(c, http.StatusBadGateway, "subscribe failed")
		return
	}
	ok(c, gin.H{"subscribed": true})
}

func (h *Handlers) UnsubscribeCall(c *gin.Context) {
	id := c.Param("call_id")
	if err := h.Reconciler.Unsubscribe(reconcile.CallResource(id)); err != nil {
		h.log(c).Warn("call unsubscribe failed", "call_id", id, "err", err)
	}
	ok(c, gin.H{"subscribed": false})
}

/* ===================== controls ===================== */

type makeCallRequest struct {
	Number       string `json:"number" binding:"required"`
	FirstMessage string `json:"first_message"`
	Prompt       string `json:"prompt"`
	CallerID     string `json:"caller_id"`
	Name         string `json:"name"`
}

// MakeCall places an outbound call, holding a per-workspace concurrency
// slot when a limiter is configured. The number is validated before any
// network round trip.
func (h *Handlers) MakeCall(c *gin.Context) {
	var req makeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "number is required")
		return
	}
	if _, err := backend.NormalizeE164(req.Number); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	wid, err := auth.WorkspaceID(ctx)
	if err != nil {
		fail(c, http.StatusUnauthorized, "workspace_id required")
		return
	}

	if h.Dials.Enabled() {
		got, err := h.Dials.Acquire(ctx, wid)
		if err != nil {
			h.log(c).Error("call cap check failed", "err", err)
			fail(c, http.StatusServiceUnavailable, "call cap unavailable")
			return
		}
		if !got {
			fail(c, http.StatusTooManyRequests, "concurrent call limit reached")
			return
		}
	}

	resp, err := h.Backend.MakeCall(ctx, backend.MakeCallRequest{
		Number:       req.Number,
		FirstMessage: req.FirstMessage,
		Prompt:       req.Prompt,
		CallerID:     req.CallerID,
		Name:         req.Name,
	})
	if err != nil {
		_ = h.Dials.ReleaseSlot(ctx, wid)
		h.failFromErr(c, err)
		return
	}
	// The slot stays held until the call ends; the reconciler's retire
	// hook releases it when the terminal event arrives.
	h.Dials.Track(resp.CallID, wid)
	ok(c, resp)
}

func (h *Handlers) TerminateCall(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("call_id")
	if err := h.Backend.TerminateCall(ctx, id); err != nil {
		h.failFromErr(c, err)
		return
	}
	// Idempotent with the retire hook: whichever runs first frees the slot.
	if err := h.Dials.CallEnded(ctx, id); err != nil {
		h.log(c).Warn("call cap release failed", "call_id", id, "err", err)
	}
	ok(c, gin.H{"terminated": true})
}

/* ===================== recording audio ===================== */

// RecordingAudio streams recording bytes through the gateway so the
// backend credential never reaches the browser. The sniffed content type
// is passed through for the <audio> element.
func (h *Handlers) RecordingAudio(c *gin.Context) {
	body, contentType, err := h.Backend.FetchRecording(c.Request.Context(), c.Param("recording_id"))
	if err != nil {
		h.failFromErr(c, err)
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.DataFromReader(http.StatusOK, -1, contentType, body, nil)
}

// RecordingDownload serves the same bytes as RecordingAudio but as an
// attachment, so the browser saves the file instead of playing it inline.
func (h *Handlers) RecordingDownload(c *gin.Context) {
	id := c.Param("recording_id")
	body, contentType, err := h.Backend.FetchRecording(c.Request.Context(), id)
	if err != nil {
		h.failFromErr(c, err)
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", `attachment; filename="recording-`+id+audioExtension(contentType)+`"`)
	c.DataFromReader(http.StatusOK, -1, contentType, body, nil)
}

func audioExtension(contentType string) string {
	switch {
	case strings.Contains(contentType, "wav"):
		return ".wav"
	case strings.Contains(contentType, "ogg"):
		return ".ogg"
	case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"):
		return ".mp3"
	default:
		return ""
	}
}
