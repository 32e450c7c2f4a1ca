package models

import (
	"time"

	"gorm.io/datatypes"
)

// RubricSelection is a manual selection of a grader for one rubric row.
type RubricSelection struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AssignmentID uint      `gorm:"not null;uniqueIndex:idx_rubric_selection_row" json:"assignment_id"`
	SubmissionID uint      `gorm:"not null;uniqueIndex:idx_rubric_selection_row" json:"submission_id"`
	RowID        int       `gorm:"not null;uniqueIndex:idx_rubric_selection_row" json:"row_id"`
	ItemID       int       `gorm:"not null" json:"item_id"`
	Multiplier   float64   `gorm:"not null;default:1" json:"multiplier"`
	SelectedBy   uint      `json:"selected_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AutoTestRun ties a run reported by the execution backend to an assignment.
type AutoTestRun struct {
	ID           uint      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	AssignmentID uint      `gorm:"not null;index" json:"assignment_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AutoTestEventKind distinguishes the entries of a run log.
type AutoTestEventKind string

const (
	AutoTestEventSnapshot AutoTestEventKind = "snapshot"
	AutoTestEventRestart  AutoTestEventKind = "restart"
)

// AutoTestEvent is an append-only log entry of a run. Replaying the log in id
// order rebuilds the in-memory run state.
type AutoTestEvent struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	RunID      uint              `gorm:"not null;index" json:"run_id"`
	Kind       AutoTestEventKind `gorm:"size:16;not null" json:"kind"`
	ResultID   int               `json:"result_id"`
	Payload    datatypes.JSON    `gorm:"type:json" json:"payload"`
	ReceivedAt time.Time         `gorm:"not null" json:"received_at"`
}
