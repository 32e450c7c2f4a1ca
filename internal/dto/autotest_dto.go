package dto

import (
	"encoding/json"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/noah-isme/gema-autotest/internal/autotest"
)

// SuiteRequest carries a suite that should be validated or saved.
type SuiteRequest struct {
	Suite autotest.Suite `json:"suite"`
}

// RunSnapshotEnvelope is the broker payload for pushed run snapshots.
type RunSnapshotEnvelope struct {
	AssignmentID uint            `json:"assignment_id" validate:"required,min=1"`
	Run          json.RawMessage `json:"run" validate:"required"`
}

// StepErrorResponse lists the problems of a single step.
type StepErrorResponse struct {
	StepID   int      `json:"step_id"`
	Index    int      `json:"index"`
	Name     string   `json:"name"`
	Messages []string `json:"messages"`
}

// SuiteValidationResponse is the outcome of validating a suite.
type SuiteValidationResponse struct {
	Valid    bool                `json:"valid"`
	Count    int                 `json:"count"`
	General  []string            `json:"general"`
	Steps    []StepErrorResponse `json:"steps"`
	Messages []string            `json:"messages"`
}

// NewSuiteValidationResponse converts engine validation errors. A nil value is a valid suite.
func NewSuiteValidationResponse(errs *autotest.SuiteErrors) SuiteValidationResponse {
	resp := SuiteValidationResponse{
		Valid:    true,
		General:  []string{},
		Steps:    []StepErrorResponse{},
		Messages: []string{},
	}
	if errs == nil {
		return resp
	}

	resp.Valid = false
	resp.Count = errs.Count()
	resp.General = append(resp.General, errs.General...)
	resp.Messages = append(resp.Messages, errs.Messages()...)
	for _, step := range errs.Steps {
		resp.Steps = append(resp.Steps, StepErrorResponse{
			StepID:   step.StepID,
			Index:    step.Index,
			Name:     step.Name,
			Messages: append([]string(nil), step.Messages...),
		})
	}
	return resp
}

// AutoTestDefinitionResponse describes the AutoTest configuration of an assignment.
// Errors maps suite ids to their validation messages; sets without suites use key 0.
type AutoTestDefinitionResponse struct {
	AssignmentID uint              `json:"assignment_id"`
	AutoTest     autotest.AutoTest `json:"auto_test"`
	MaxPoints    float64           `json:"max_points"`
	Errors       map[int][]string  `json:"errors"`
	UnlinkedRows []int             `json:"unlinked_rows"`
}

// StepResultResponse is the derived status of a step.
type StepResultResponse struct {
	StepID         int             `json:"step_id"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Weight         float64         `json:"weight"`
	Hidden         bool            `json:"hidden"`
	State          string          `json:"state"`
	AchievedPoints float64         `json:"achieved_points"`
	Finished       bool            `json:"finished"`
	StartedAt      *time.Time      `json:"started_at"`
	AttachmentID   *string         `json:"attachment_id"`
	Log            json.RawMessage `json:"log,omitempty"`
}

// SuiteResultResponse holds the points of a suite.
type SuiteResultResponse struct {
	SuiteID     int                  `json:"suite_id"`
	RubricRowID int                  `json:"rubric_row_id"`
	Achieved    float64              `json:"achieved"`
	Possible    float64              `json:"possible"`
	Finished    bool                 `json:"finished"`
	Steps       []StepResultResponse `json:"steps"`
}

// SetResultResponse holds the cumulative points after a set.
type SetResultResponse struct {
	SetID           int                   `json:"set_id"`
	StopPoints      float64               `json:"stop_points"`
	Achieved        float64               `json:"achieved"`
	Possible        float64               `json:"possible"`
	Finished        bool                  `json:"finished"`
	StopPointFailed bool                  `json:"stop_point_failed"`
	Suites          []SuiteResultResponse `json:"suites"`
}

// ResultResponse is the aggregated view of one submission in a run.
type ResultResponse struct {
	ID             int                 `json:"id"`
	RunID          int                 `json:"run_id"`
	SubmissionID   int                 `json:"submission_id"`
	State          string              `json:"state"`
	StartedAt      *time.Time          `json:"started_at"`
	PointsAchieved float64             `json:"points_achieved"`
	Achieved       float64             `json:"achieved"`
	Possible       float64             `json:"possible"`
	Finished       bool                `json:"finished"`
	Sets           []SetResultResponse `json:"sets"`
}

// RunResponse is the aggregated view of a run.
type RunResponse struct {
	ID           int              `json:"id"`
	AssignmentID uint             `json:"assignment_id"`
	CreatedAt    time.Time        `json:"created_at"`
	Finished     bool             `json:"finished"`
	Results      []ResultResponse `json:"results"`
	Warnings     []string         `json:"warnings,omitempty"`
}

// NewAutoTestDefinitionResponse summarises a definition together with its validation state.
func NewAutoTestDefinitionResponse(assignmentID uint, def autotest.AutoTest, hasRow func(int) bool) AutoTestDefinitionResponse {
	resp := AutoTestDefinitionResponse{
		AssignmentID: assignmentID,
		AutoTest:     def,
		MaxPoints:    def.MaxPoints(),
		Errors:       map[int][]string{},
		UnlinkedRows: []int{},
	}
	for suiteID, errs := range def.Errors() {
		resp.Errors[suiteID] = errs.Messages()
	}
	if hasRow != nil {
		resp.UnlinkedRows = append(resp.UnlinkedRows, def.UnlinkedRows(hasRow)...)
	}
	return resp
}

// NewResultResponse walks the definition and attaches the derived status of
// every node. Step names are passed through the sanitizer.
func NewResultResponse(runID int, def autotest.AutoTest, result *autotest.Result, sanitizer *bluemonday.Policy) ResultResponse {
	achieved, possible := result.Achieved()
	resp := ResultResponse{
		ID:             result.ID,
		RunID:          runID,
		SubmissionID:   result.SubmissionID,
		State:          string(result.State),
		StartedAt:      result.StartedAt,
		PointsAchieved: result.PointsAchieved,
		Achieved:       achieved,
		Possible:       possible,
		Finished:       result.Finished(),
		Sets:           make([]SetResultResponse, 0, len(def.Sets)),
	}

	for _, set := range def.Sets {
		setRes, _ := result.SetResult(set.ID)
		setResp := SetResultResponse{
			SetID:           set.ID,
			StopPoints:      set.StopPoints,
			Achieved:        setRes.Achieved,
			Possible:        setRes.Possible,
			Finished:        setRes.Finished,
			StopPointFailed: setRes.StopPointFailed,
			Suites:          make([]SuiteResultResponse, 0, len(set.Suites)),
		}
		for _, suite := range set.Suites {
			setResp.Suites = append(setResp.Suites, newSuiteResultResponse(suite, result, sanitizer))
		}
		resp.Sets = append(resp.Sets, setResp)
	}
	return resp
}

func newSuiteResultResponse(suite autotest.Suite, result *autotest.Result, sanitizer *bluemonday.Policy) SuiteResultResponse {
	suiteRes, _ := result.SuiteResult(suite.ID)
	resp := SuiteResultResponse{
		SuiteID:     suite.ID,
		RubricRowID: suite.RubricRowID,
		Achieved:    suiteRes.Achieved,
		Possible:    suiteRes.Possible,
		Finished:    suiteRes.Finished,
		Steps:       make([]StepResultResponse, 0, len(suite.Steps)),
	}

	for _, step := range suite.Steps {
		stepRes, _ := result.StepResult(step.ID)
		name := step.Name
		if sanitizer != nil {
			name = sanitizer.Sanitize(name)
		}
		resp.Steps = append(resp.Steps, StepResultResponse{
			StepID:         step.ID,
			Name:           name,
			Type:           string(step.Type()),
			Weight:         step.Weight,
			Hidden:         step.Hidden,
			State:          string(stepRes.State),
			AchievedPoints: stepRes.AchievedPoints,
			Finished:       stepRes.Finished,
			StartedAt:      stepRes.StartedAt,
			AttachmentID:   stepRes.AttachmentID,
			Log:            stepRes.Log,
		})
	}
	return resp
}

// NewRunResponse renders every result of a run ordered by result id.
func NewRunResponse(assignmentID uint, def autotest.AutoTest, run *autotest.Run, sanitizer *bluemonday.Policy) RunResponse {
	resp := RunResponse{
		ID:           run.ID,
		AssignmentID: assignmentID,
		CreatedAt:    run.CreatedAt,
		Finished:     run.Finished(),
		Results:      []ResultResponse{},
	}
	for _, result := range run.Results() {
		resp.Results = append(resp.Results, NewResultResponse(run.ID, def, result, sanitizer))
	}
	return resp
}
