package dto

import (
	"github.com/microcosm-cc/bluemonday"

	"github.com/noah-isme/gema-autotest/internal/rubric"
)

// RubricSelectionRequest selects an item of a row. A missing item id clears the row.
type RubricSelectionRequest struct {
	RowID      int      `json:"row_id" validate:"required,min=1"`
	ItemID     *int     `json:"item_id" validate:"omitempty,min=1"`
	Multiplier *float64 `json:"multiplier" validate:"omitempty,gte=0,lte=1"`
}

// RubricItemResponse is a scoring level of a row.
type RubricItemResponse struct {
	ID          int     `json:"id"`
	Points      float64 `json:"points"`
	Header      string  `json:"header"`
	Description string  `json:"description"`
}

// RubricSelectionResponse is the selected item of a row and the points it yields.
type RubricSelectionResponse struct {
	ItemID     int     `json:"item_id"`
	Multiplier float64 `json:"multiplier"`
	Points     float64 `json:"points"`
}

// RubricRowResponse describes a row together with its current selection.
type RubricRowResponse struct {
	ID          int                      `json:"id"`
	Type        string                   `json:"type"`
	Header      string                   `json:"header"`
	Description string                   `json:"description"`
	Locked      bool                     `json:"locked"`
	LockMessage string                   `json:"lock_message,omitempty"`
	MaxPoints   float64                  `json:"max_points"`
	Items       []RubricItemResponse     `json:"items"`
	Selected    *RubricSelectionResponse `json:"selected"`
}

// RubricResultResponse is the scored rubric of a submission.
type RubricResultResponse struct {
	AssignmentID     uint                `json:"assignment_id"`
	SubmissionID     uint                `json:"submission_id"`
	RunID            *int                `json:"run_id"`
	AutoTestFinished bool                `json:"auto_test_finished"`
	Rows             []RubricRowResponse `json:"rows"`
	Points           float64             `json:"points"`
	MaxPoints        float64             `json:"max_points"`
	Grade            *float64            `json:"grade"`
	GradeText        string              `json:"grade_text"`
}

// NewRubricRowResponse renders a row with sanitised texts. lockMessage is empty for unlocked rows.
func NewRubricRowResponse(row rubric.Row, result rubric.Result, lockMessage string, sanitizer *bluemonday.Policy) RubricRowResponse {
	base := row.Base()
	clean := func(value string) string {
		if sanitizer == nil {
			return value
		}
		return sanitizer.Sanitize(value)
	}

	resp := RubricRowResponse{
		ID:          base.ID,
		Type:        string(row.Type()),
		Header:      clean(base.Header),
		Description: clean(base.Description),
		Locked:      rubric.Locked(row),
		LockMessage: lockMessage,
		MaxPoints:   row.MaxPoints(),
		Items:       make([]RubricItemResponse, 0, len(base.Items)),
	}
	for _, item := range base.Items {
		resp.Items = append(resp.Items, RubricItemResponse{
			ID:          item.ID,
			Points:      item.Points,
			Header:      clean(item.Header),
			Description: clean(item.Description),
		})
	}

	if sel, ok := result.Selection(base.ID); ok {
		if item, found := base.Item(sel.ItemID); found {
			single := rubric.NewResult(result.SubmissionID, map[int]rubric.Selection{base.ID: sel})
			resp.Selected = &RubricSelectionResponse{
				ItemID:     item.ID,
				Multiplier: sel.Multiplier,
				Points:     single.Points(rubric.Rubric{Rows: []rubric.Row{row}}),
			}
		}
	}
	return resp
}
