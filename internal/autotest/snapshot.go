package autotest

import (
	"encoding/json"
	"time"
)

// StepSnapshot is the raw server payload for a single step result.
type StepSnapshot struct {
	StepID         int             `json:"auto_test_step_id"`
	State          State           `json:"state"`
	AchievedPoints *float64        `json:"achieved_points"`
	Log            json.RawMessage `json:"log,omitempty"`
	StartedAt      *time.Time      `json:"started_at"`
	AttachmentID   *string         `json:"attachment_id"`
}

// Snapshot is the raw server payload for one result of a run.
// StepResults is nil when the run has not started for this submission.
type Snapshot struct {
	ID             int            `json:"id"`
	SubmissionID   int            `json:"submission_id"`
	State          State          `json:"state"`
	StartedAt      *time.Time     `json:"started_at"`
	PointsAchieved float64        `json:"points_achieved"`
	StepResults    []StepSnapshot `json:"step_results"`
}

// RunSnapshot carries the results of a run as polled or pushed by the server.
type RunSnapshot struct {
	ID        int        `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	Results   []Snapshot `json:"results"`
}
