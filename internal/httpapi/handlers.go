// Package httpapi binds the reconciled call state, connection health and
// backend controls to the dashboard's REST surface. Handlers stay thin;
// view-model logic lives in internal/reconcile and friends.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"voicedash/internal/audit"
	"voicedash/internal/auth"
	"voicedash/internal/backend"
	"voicedash/internal/calls"
	"voicedash/internal/connmon"
	"voicedash/internal/reconcile"
	"voicedash/internal/reporting"
	"voicedash/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallLimiter caps concurrent outbound dials per workspace.
type CallLimiter interface {
	Acquire(ctx context.Context, workspaceID string) (bool, error)
	Release(ctx context.Context, workspaceID string) error
}

// RecentStore reads persisted terminal calls. Satisfied by
// store.CallStore and store.MemoryCallStore.
type RecentStore interface {
	Recent(ctx context.Context, workspaceID string, limit int) ([]calls.CallRecord, error)
}

type Handlers struct {
	Auth       *auth.Manager
	Backend    *backend.Client
	Reconciler *reconcile.Reconciler
	Monitor    *connmon.Monitor
	Anomalies  *audit.Service
	Reporting  *reporting.Service
	Recents    RecentStore
	Dials      *DialLedger
	Log        *slog.Logger

	playback playbackSessions
}

func (h *Handlers) log(c *gin.Context) *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return logger.FromGin(c)
}

/* ===================== envelope ===================== */

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// failFromErr maps backend client errors onto HTTP statuses. Not-found is
// NOT handled here; endpoints render it as an explicit empty state.
func (h *Handlers) failFromErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, backend.ErrInvalidNumber):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, backend.ErrNotFound):
		fail(c, http.StatusNotFound, "not found")
	default:
		h.log(c).Error("backend request failed", "err", err)
		fail(c, http.StatusBadGateway, "upstream request failed")
	}
}

/* ===================== health / connection ===================== */

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ConnectionStatus exposes the quality monitor's report plus the
// reconciler's freeze flag so the header widget renders from one call.
func (h *Handlers) ConnectionStatus(c *gin.Context) {
	rep := h.Monitor.Snapshot()
	ok(c, gin.H{
		"state":           rep.State,
		"quality":         rep.Quality,
		"latency_ms":      rep.LatencyMS,
		"packet_loss_pct": rep.PacketLossPct,
		"uptime_ms":       rep.UptimeMS,
		"reconnect_count": rep.ReconnectCount,
		"last_heartbeat":  rep.LastHeartbeat,
		"frozen":          h.Reconciler.Frozen(),
	})
}

func (h *Handlers) ForceReconnect(c *gin.Context) {
	if err := h.Monitor.ForceReconnect(c.Request.Context()); err != nil {
		h.log(c).Error("forced reconnect failed", "err", err)
		fail(c, http.StatusBadGateway, "reconnect failed")
		return
	}
	ok(c, gin.H{"state": h.Monitor.State()})
}

/* ===================== auth ===================== */

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
	// Role is re-asserted by the identity layer on refresh; the refresh
	// token itself never carries one.
	Role string `json:"role" binding:"required"`
}

// Refresh exchanges a valid refresh token for a new token pair.
func (h *Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "refresh_token and role are required")
		return
	}

	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, time.Now())
	if err != nil {
		fail(c, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	pair, err := h.Auth.IssuePair(time.Now(), claims.UserID, claims.WorkspaceID, req.Role)
	if err != nil {
		h.log(c).Error("token issue failed", "err", err)
		fail(c, http.StatusInternalServerError, "could not issue tokens")
		return
	}
	ok(c, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

/* ===================== anomalies ===================== */

func (h *Handlers) RecentAnomalies(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	rows, err := h.Anomalies.Recent(c.Request.Context(), c.Query("resource_id"), limit)
	if err != nil {
		h.log(c).Error("anomaly query failed", "err", err)
		fail(c, http.StatusInternalServerError, "anomaly query failed")
		return
	}
	if rows == nil {
		rows = []audit.Anomaly{}
	}
	ok(c, rows)
}

func intQuery(c *gin.Context, key string, def int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
