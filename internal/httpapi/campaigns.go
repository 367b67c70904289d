package httpapi

import (
	"errors"
	"net/http"
	"time"

	"voicedash/internal/auth"
	"voicedash/internal/backend"
	"voicedash/internal/campaigns"
	"voicedash/internal/reconcile"
	"voicedash/internal/reporting"

	"github.com/gin-gonic/gin"
)

// CampaignProgress serves the reconciled progress view, falling back to a
// direct backend read for campaigns nobody subscribed to. A missing
// campaign is an explicit empty state.
func (h *Handlers) CampaignProgress(c *gin.Context) {
	id := c.Param("campaign_id")

	if prog, meta, live := h.Reconciler.Campaign(id); live {
		ok(c, gin.H{"found": true, "campaign": prog, "meta": meta})
		return
	}

	prog, err := h.Backend.Campaign(c.Request.Context(), id)
	switch {
	case err == nil:
		ok(c, gin.H{"found": true, "campaign": prog})
	case errors.Is(err, backend.ErrNotFound):
		ok(c, gin.H{"found": false})
	default:
		h.failFromErr(c, err)
	}
}

func (h *Handlers) ActiveCampaigns(c *gin.Context) {
	list, err := h.Backend.ActiveCampaigns(c.Request.Context())
	if err != nil {
		h.failFromErr(c, err)
		return
	}
	if list == nil {
		list = []campaigns.Progress{}
	}
	ok(c, gin.H{"campaigns": list})
}

func (h *Handlers) SubscribeCampaign(c *gin.Context) {
	id := c.Param("campaign_id")
	if err := h.Reconciler.Subscribe(reconcile.CampaignResource(id)); err != nil {
		h.log(c).Error("campaign subscribe failed", "campaign_id", id, "err", err)
		fail(c, http.StatusBadGateway, "subscribe failed")
		return
	}
	ok(c, gin.H{"subscribed": true})
}

func (h *Handlers) UnsubscribeCampaign(c *gin.Context) {
	id := c.Param("campaign_id")
	if err := h.Reconciler.Unsubscribe(reconcile.CampaignResource(id)); err != nil {
		h.log(c).Warn("campaign unsubscribe failed", "campaign_id", id, "err", err)
	}
	ok(c, gin.H{"subscribed": false})
}

/* ===================== controls ===================== */

// CampaignControl handles pause/resume/stop via one route parameter so
// the three share the refresh-after-mutation behavior.
func (h *Handlers) CampaignControl(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("campaign_id")

	var err error
	action := c.Param("action")
	switch action {
	case "pause":
		err = h.Backend.PauseCampaign(ctx, id)
	case "resume":
		err = h.Backend.ResumeCampaign(ctx, id)
	case "stop":
		err = h.Backend.StopCampaign(ctx, id)
	default:
		fail(c, http.StatusBadRequest, "action must be pause, resume or stop")
		return
	}
	if err != nil {
		h.failFromErr(c, err)
		return
	}

	// Mutations bypass the event stream; refresh the reconciled view so
	// the next read reflects the new status even if no event arrives.
	if h.Reconciler.Subscribed(reconcile.CampaignResource(id)) {
		if err := h.Reconciler.Refresh(ctx, reconcile.CampaignResource(id)); err != nil {
			h.log(c).Warn("post-control refresh failed", "campaign_id", id, "err", err)
		}
	}
	ok(c, gin.H{"action": action})
}

/* ===================== analytics ===================== */

func (h *Handlers) analyticsQuery(c *gin.Context) backend.AnalyticsQuery {
	q := backend.AnalyticsQuery{Resolution: c.DefaultQuery("resolution", "day")}
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			q.From = t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			q.To = t
		}
	}
	return q
}

func (h *Handlers) SuccessRate(c *gin.Context) {
	rows, err := h.Backend.SuccessRate(c.Request.Context(), h.analyticsQuery(c))
	if err != nil {
		h.failFromErr(c, err)
		return
	}
	ok(c, rows)
}

func (h *Handlers) QualityScore(c *gin.Context) {
	rows, err := h.Backend.QualityScore(c.Request.Context(), h.analyticsQuery(c))
	if err != nil {
		h.failFromErr(c, err)
		return
	}
	ok(c, rows)
}

func (h *Handlers) AgentPerformance(c *gin.Context) {
	rows, err := h.Backend.AgentPerformance(c.Request.Context(), h.analyticsQuery(c))
	if err != nil {
		h.failFromErr(c, err)
		return
	}
	ok(c, rows)
}

func (h *Handlers) CampaignComparison(c *gin.Context) {
	rows, err := h.Backend.CampaignComparison(c.Request.Context(), c.Param("campaign_id"))
	if err != nil {
		h.failFromErr(c, err)
		return
	}
	ok(c, rows)
}

// LocalSummary aggregates the persisted recent calls. This view keeps
// working when the backend analytics API is down.
func (h *Handlers) LocalSummary(c *gin.Context) {
	wid, err := auth.WorkspaceID(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "workspace_id required")
		return
	}

	q := h.analyticsQuery(c)
	if q.To.IsZero() {
		q.To = time.Now()
	}
	if q.From.IsZero() {
		q.From = q.To.Add(-24 * time.Hour)
	}

	sum, err := h.Reporting.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		WorkspaceID: wid,
		Range:       reporting.TimeRange{From: q.From, To: q.To},
		CampaignID:  c.Query("campaign_id"),
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			fail(c, http.StatusBadRequest, "invalid range")
			return
		}
		h.log(c).Error("local summary failed", "err", err)
		fail(c, http.StatusInternalServerError, "summary failed")
		return
	}
	ok(c, sum)
}

// LocalVolume serves the call-volume histogram from the persisted store.
func (h *Handlers) LocalVolume(c *gin.Context) {
	wid, err := auth.WorkspaceID(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "workspace_id required")
		return
	}

	q := h.analyticsQuery(c)
	if q.To.IsZero() {
		q.To = time.Now()
	}
	if q.From.IsZero() {
		q.From = q.To.Add(-24 * time.Hour)
	}
	bucket := time.Hour
	if q.Resolution == "day" {
		bucket = 24 * time.Hour
	}

	rows, err := h.Reporting.CallVolume(c.Request.Context(), reporting.VolumeRequest{
		WorkspaceID: wid,
		Range:       reporting.TimeRange{From: q.From, To: q.To},
		Bucket:      bucket,
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			fail(c, http.StatusBadRequest, "invalid range")
			return
		}
		h.log(c).Error("local volume failed", "err", err)
		fail(c, http.StatusInternalServerError, "volume failed")
		return
	}
	if rows == nil {
		rows = []reporting.VolumeBucket{}
	}
	ok(c, gin.H{"buckets": rows})
}
