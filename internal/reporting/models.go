package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
// Workspace isolation: WorkspaceID is required.
type CallsSummaryRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	Range       TimeRange `json:"range"`
	CampaignID  string    `json:"campaign_id,omitempty"`
}

type CallsSummary struct {
	WorkspaceID string `json:"workspace_id"`
	CampaignID  string `json:"campaign_id,omitempty"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	FailedCalls    int `json:"failed_calls"`
	NoAnswerCalls  int `json:"no_answer_calls"`
	BusyCalls      int `json:"busy_calls"`
	CanceledCalls  int `json:"canceled_calls"`

	// AnsweredByHuman counts calls the provider's machine detection
	// attributed to a person.
	AnsweredByHuman   int `json:"answered_by_human"`
	AnsweredByMachine int `json:"answered_by_machine"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls int `json:"recorded_calls"`

	// AnswerRate is completed / total, in [0, 1].
	AnswerRate float64 `json:"answer_rate"`
}

// VolumeBucket is one slot of the call-volume histogram.
type VolumeBucket struct {
	Start time.Time `json:"start"`
	Calls int       `json:"calls"`
}

type VolumeRequest struct {
	WorkspaceID string        `json:"workspace_id"`
	Range       TimeRange     `json:"range"`
	Bucket      time.Duration `json:"bucket"`
}
