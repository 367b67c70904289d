package backend

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"voicedash/internal/campaigns"
)

func (c *Client) Campaign(ctx context.Context, id string) (campaigns.Progress, error) {
	var out campaigns.Progress
	if err := c.do(ctx, http.MethodGet, "/campaigns/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return campaigns.Progress{}, err
	}
	return out, nil
}

func (c *Client) ActiveCampaigns(ctx context.Context) ([]campaigns.Progress, error) {
	var out []campaigns.Progress
	if err := c.do(ctx, http.MethodGet, "/campaigns/active", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PauseCampaign(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/campaigns/"+url.PathEscape(id)+"/pause", nil, nil, nil)
}

func (c *Client) ResumeCampaign(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/campaigns/"+url.PathEscape(id)+"/resume", nil, nil, nil)
}

func (c *Client) StopCampaign(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/campaigns/"+url.PathEscape(id)+"/stop", nil, nil, nil)
}

// CampaignComparison is the cross-campaign metric table used by the
// comparison view.
type CampaignComparison struct {
	CampaignID     string  `json:"campaign_id"`
	Name           string  `json:"name"`
	SuccessRate    float64 `json:"success_rate"`
	AnswerRate     float64 `json:"answer_rate"`
	AvgDurationSec float64 `json:"avg_duration_seconds"`
}

func (c *Client) CampaignComparison(ctx context.Context, id string) ([]CampaignComparison, error) {
	var out []CampaignComparison
	if err := c.do(ctx, http.MethodGet, "/campaigns/"+url.PathEscape(id)+"/comparison", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

/* ===================== ANALYTICS ===================== */

// AnalyticsQuery filters the read-only time-bucketed aggregates.
type AnalyticsQuery struct {
	From       time.Time
	To         time.Time
	Resolution string // hour|day|week
}

func (q AnalyticsQuery) values() url.Values {
	v := url.Values{}
	if !q.From.IsZero() {
		v.Set("from", q.From.UTC().Format(time.RFC3339))
	}
	if !q.To.IsZero() {
		v.Set("to", q.To.UTC().Format(time.RFC3339))
	}
	if q.Resolution != "" {
		v.Set("resolution", q.Resolution)
	}
	return v
}

// AnalyticsBucket is one time bucket of aggregate metrics.
type AnalyticsBucket struct {
	Bucket       time.Time `json:"bucket"`
	TotalCalls   int       `json:"total_calls"`
	SuccessRate  float64   `json:"success_rate"`
	QualityScore float64   `json:"quality_score"`
}

func (c *Client) SuccessRate(ctx context.Context, q AnalyticsQuery) ([]AnalyticsBucket, error) {
	var out []AnalyticsBucket
	if err := c.do(ctx, http.MethodGet, "/analytics/success-rate", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) QualityScore(ctx context.Context, q AnalyticsQuery) ([]AnalyticsBucket, error) {
	var out []AnalyticsBucket
	if err := c.do(ctx, http.MethodGet, "/analytics/quality-score", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AgentPerformance is the per-agent aggregate row.
type AgentPerformance struct {
	AgentID        string  `json:"agent_id"`
	TotalCalls     int     `json:"total_calls"`
	SuccessRate    float64 `json:"success_rate"`
	AvgDurationSec float64 `json:"avg_duration_seconds"`
}

func (c *Client) AgentPerformance(ctx context.Context, q AnalyticsQuery) ([]AgentPerformance, error) {
	var out []AgentPerformance
	if err := c.do(ctx, http.MethodGet, "/analytics/agent-performance", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
