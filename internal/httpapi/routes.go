package httpapi

import (
	"voicedash/internal/auth"
	"voicedash/internal/rbac"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires the dashboard API. Reads are open to every role;
// anything with an outbound side effect requires operator or admin.
func RegisterRoutes(r *gin.Engine, h *Handlers) {
	// public
	r.GET("/healthz", h.Health)
	r.POST("/webhooks/provider/status", h.ProviderStatusCallback)
	r.POST("/v1/auth/refresh", h.Refresh)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(h.Auth))
	v1.Use(rbac.RequireWorkspace())
	{
		v1.GET("/connection", h.ConnectionStatus)
		v1.POST("/connection/reconnect", h.ForceReconnect)

		v1.GET("/anomalies", h.RecentAnomalies)

		callsGroup := v1.Group("/calls")
		{
			callsGroup.GET("", h.CallHistory)
			callsGroup.GET("/active", h.ActiveCalls)
			callsGroup.GET("/recent", h.RecentCalls)
			callsGroup.GET("/:call_id", h.CallDetail)
			callsGroup.POST("/:call_id/subscribe", h.SubscribeCall)
			callsGroup.POST("/:call_id/unsubscribe", h.UnsubscribeCall)

			control := callsGroup.Group("")
			control.Use(rbac.RequireAnyRole(rbac.RoleOperator))
			{
				control.POST("", h.MakeCall)
				control.POST("/:call_id/terminate", h.TerminateCall)
			}
		}

		v1.GET("/recordings/:recording_id/audio", h.RecordingAudio)
		v1.GET("/recordings/:recording_id/download", h.RecordingDownload)

		playback := v1.Group("/playback")
		{
			playback.GET("", h.PlaybackStatus)
			playback.POST("/load", h.PlaybackLoad)
			playback.POST("/seek", h.PlaybackSeek)
			playback.POST("/:action", h.PlaybackControl)
		}

		campaignsGroup := v1.Group("/campaigns")
		{
			campaignsGroup.GET("/active", h.ActiveCampaigns)
			campaignsGroup.GET("/:campaign_id", h.CampaignProgress)
			campaignsGroup.GET("/:campaign_id/comparison", h.CampaignComparison)
			campaignsGroup.POST("/:campaign_id/subscribe", h.SubscribeCampaign)
			campaignsGroup.POST("/:campaign_id/unsubscribe", h.UnsubscribeCampaign)

			control := campaignsGroup.Group("")
			control.Use(rbac.RequireAnyRole(rbac.RoleOperator))
			{
				control.POST("/:campaign_id/:action", h.CampaignControl)
			}
		}

		analytics := v1.Group("/analytics")
		{
			analytics.GET("/summary", h.LocalSummary)
			analytics.GET("/volume", h.LocalVolume)
			analytics.GET("/success-rate", h.SuccessRate)
			analytics.GET("/quality-score", h.QualityScore)
			analytics.GET("/agents", h.AgentPerformance)
		}
	}
}
