package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-autotest/internal/dto"
	"github.com/noah-isme/gema-autotest/internal/rubric"
	"github.com/noah-isme/gema-autotest/internal/service"
)

type stubRubricService struct {
	err        error
	lastRunID  *int
	lastSelect *dto.RubricSelectionRequest
	actorID    uint
}

func contractRubric() rubric.Rubric {
	return rubric.Rubric{Rows: []rubric.Row{
		rubric.ContinuousRow{RowBase: rubric.RowBase{ID: 101, Header: "Unit tests", Locked: rubric.LockAutoTest, Items: []rubric.Item{
			{ID: 1010, Points: 10, Header: "score"},
		}}},
		rubric.NormalRow{RowBase: rubric.RowBase{ID: 103, Header: "<i>Style</i>", Items: []rubric.Item{
			{ID: 1030, Points: 0, Header: "poor"},
			{ID: 1031, Points: 2, Header: "good"},
		}}},
	}}
}

func (s *stubRubricService) response(assignmentID, submissionID uint, runID *int) dto.RubricResultResponse {
	rub := contractRubric()
	result := rubric.NewResult(int(submissionID), map[int]rubric.Selection{
		101: {ItemID: 1010, Multiplier: 0.5},
		103: {ItemID: 1031, Multiplier: 1},
	})
	sanitizer := bluemonday.UGCPolicy()

	resp := dto.RubricResultResponse{
		AssignmentID:     assignmentID,
		SubmissionID:     submissionID,
		RunID:            runID,
		AutoTestFinished: runID != nil,
		Points:           result.Points(rub),
		MaxPoints:        rub.MaxPoints(),
	}
	for _, row := range rub.Rows {
		message := ""
		if rubric.Locked(row) {
			message = "This category is filled in by AutoTest."
		}
		resp.Rows = append(resp.Rows, dto.NewRubricRowResponse(row, result, message, sanitizer))
	}
	if grade, ok := result.Grade(rub, nil); ok {
		resp.Grade = &grade
		resp.GradeText = rubric.FormatGrade(grade)
	}
	return resp
}

func (s *stubRubricService) Compute(_ context.Context, assignmentID, submissionID uint, runID *int) (dto.RubricResultResponse, error) {
	s.lastRunID = runID
	if s.err != nil {
		return dto.RubricResultResponse{}, s.err
	}
	return s.response(assignmentID, submissionID, runID), nil
}

func (s *stubRubricService) Select(_ context.Context, assignmentID, submissionID uint, runID *int, payload dto.RubricSelectionRequest, actorID uint) (dto.RubricResultResponse, error) {
	s.lastSelect = &payload
	s.actorID = actorID
	if s.err != nil {
		return dto.RubricResultResponse{}, s.err
	}
	return s.response(assignmentID, submissionID, runID), nil
}

func TestRubricHandlerResult(t *testing.T) {
	stub := &stubRubricService{}
	app := setupApp(t, nil, stub, "student")

	resp, body := doRequest(t, app, http.MethodGet, "/api/v2/rubric/assignments/3/submissions/30?run_id=5", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NotNil(t, stub.lastRunID)
	require.Equal(t, 5, *stub.lastRunID)

	var result dto.RubricResultResponse
	require.NoError(t, json.Unmarshal(body.Data, &result))
	require.Equal(t, 7.0, result.Points)
	require.Equal(t, "5.83", result.GradeText)

	_, _ = doRequest(t, app, http.MethodGet, "/api/v2/rubric/assignments/3/submissions/30", nil)
	require.Nil(t, stub.lastRunID)

	resp, _ = doRequest(t, app, http.MethodGet, "/api/v2/rubric/assignments/3/submissions/30?run_id=x", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRubricHandlerSelect(t *testing.T) {
	stub := &stubRubricService{}
	app := setupApp(t, nil, stub, "teacher")

	resp, body := doRequest(t, app, http.MethodPut, "/api/v2/rubric/assignments/3/submissions/30", []byte(`{"row_id": 103, "item_id": 1031}`))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "rubric selection updated", body.Message)
	require.NotNil(t, stub.lastSelect)
	require.Equal(t, 103, stub.lastSelect.RowID)
	require.Equal(t, uint(7), stub.actorID)

	resp, _ = doRequest(t, app, http.MethodPut, "/api/v2/rubric/assignments/3/submissions/30", []byte(`{"item_id": 1031}`))
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, app, http.MethodPut, "/api/v2/rubric/assignments/3/submissions/30", []byte(`{"row_id": 101, "item_id": 1010, "multiplier": 1.5}`))
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRubricHandlerSelectErrors(t *testing.T) {
	cases := []struct {
		name   string
		role   string
		err    error
		status int
	}{
		{name: "student", role: "student", status: fiber.StatusForbidden},
		{name: "locked", role: "teacher", err: service.ErrRowLocked, status: fiber.StatusConflict},
		{name: "invalid", role: "teacher", err: service.ErrInvalidSelection, status: fiber.StatusBadRequest},
		{name: "missing", role: "admin", err: service.ErrAssignmentNotFound, status: fiber.StatusNotFound},
		{name: "run", role: "admin", err: service.ErrRunNotFound, status: fiber.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := setupApp(t, nil, &stubRubricService{err: tc.err}, tc.role)
			resp, body := doRequest(t, app, http.MethodPut, "/api/v2/rubric/assignments/3/submissions/30", []byte(`{"row_id": 101, "item_id": 1010}`))
			require.Equal(t, tc.status, resp.StatusCode)
			require.False(t, body.Success)
		})
	}
}
