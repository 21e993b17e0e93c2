// Package steplog defines AgentStepLog, the append-only audit record written
// around every pipeline stage invocation.
package steplog

import "time"

// StepName identifies a pipeline stage.
type StepName string

const (
	StepNewsHunter     StepName = "news_hunter"
	StepContentCreator StepName = "content_creator"
	StepImageAgent     StepName = "image_agent"
	StepVideoAgent     StepName = "video_agent"
	StepTeamsDelivery  StepName = "teams_delivery"
)

// Steps lists every stage in pipeline order.
var Steps = []StepName{
	StepNewsHunter,
	StepContentCreator,
	StepImageAgent,
	StepVideoAgent,
	StepTeamsDelivery,
}

// Valid reports whether s names a known stage.
func (s StepName) Valid() bool {
	for _, known := range Steps {
		if s == known {
			return true
		}
	}
	return false
}

// Status is the outcome recorded by a single log row.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrorCodeStepFailed is the fixed code written on every failed row.
const ErrorCodeStepFailed = "AGENT_STEP_FAILED"

// Log is one immutable row. A stage attempt produces a started row followed
// by exactly one completed or failed row.
type Log struct {
	ID           string         `json:"id"`
	RunID        string         `json:"runId"`
	StepName     StepName       `json:"stepName"`
	Status       Status         `json:"status"`
	Message      string         `json:"message"`
	StartedAt    time.Time      `json:"startedAt"`
	EndedAt      *time.Time     `json:"endedAt,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ErrorCode    string         `json:"errorCode,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}
