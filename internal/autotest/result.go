package autotest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrResultMismatch is reported when a snapshot is applied to a result with a different id.
var ErrResultMismatch = errors.New("snapshot belongs to another result")

// UnknownStepError reports a step result whose step id is absent from the definition.
// The step result is kept aside but never aggregated.
type UnknownStepError struct {
	ResultID int
	StepID   int
}

func (e UnknownStepError) Error() string {
	return fmt.Sprintf("result %d: step %d is not part of the auto test definition", e.ResultID, e.StepID)
}

// StepResult is the derived status of one step.
type StepResult struct {
	StepID         int
	State          State
	AchievedPoints float64
	Log            json.RawMessage
	StartedAt      *time.Time
	AttachmentID   *string
	Finished       bool
}

// SuiteResult holds the points of a single suite.
type SuiteResult struct {
	SuiteID     int
	Achieved    float64
	Possible    float64
	Finished    bool
	StepResults []StepResult
}

// SetResult holds running totals: Achieved and Possible include every set before it.
type SetResult struct {
	SetID    int
	Achieved float64
	Possible float64
	Finished bool
	// StopPointFailed is set on the set whose cumulative score stayed under its stop points.
	StopPointFailed bool
	SuiteResults    []SuiteResult
}

type derivedState struct {
	steps    map[int]StepResult
	suites   map[int]SuiteResult
	sets     []SetResult
	setIndex map[int]int
	finished bool
}

// Result aggregates the step results of one submission in one run.
// It is not safe for concurrent use; callers serialise updates per result.
type Result struct {
	ID             int
	SubmissionID   int
	State          State
	StartedAt      *time.Time
	PointsAchieved float64

	raw     map[int]StepSnapshot
	derived derivedState
}

// NewResult creates a result that has not started yet.
func NewResult(id, submissionID int) *Result {
	return &Result{
		ID:           id,
		SubmissionID: submissionID,
		State:        StateNotStarted,
		raw:          make(map[int]StepSnapshot),
		derived:      emptyDerived(),
	}
}

// Update merges a snapshot and recomputes every derived field from scratch.
// Snapshots that would move a step or the result back from a terminal state
// are stale and ignored for that entry. The returned errors describe data
// contract violations; the update is applied regardless.
func (r *Result) Update(snap Snapshot, def AutoTest) []error {
	if snap.ID != 0 && snap.ID != r.ID {
		return []error{fmt.Errorf("%w: got %d, want %d", ErrResultMismatch, snap.ID, r.ID)}
	}

	if !(r.State.Terminal() && snap.State.rank() < r.State.rank()) {
		r.State = snap.State.orDefault()
		r.PointsAchieved = snap.PointsAchieved
		if snap.StartedAt != nil {
			started := *snap.StartedAt
			r.StartedAt = &started
		}
	}
	if snap.SubmissionID != 0 {
		r.SubmissionID = snap.SubmissionID
	}

	known := def.StepLocations()
	var issues []error
	for _, step := range snap.StepResults {
		if _, ok := known[step.StepID]; !ok {
			issues = append(issues, UnknownStepError{ResultID: r.ID, StepID: step.StepID})
		}
		if prev, ok := r.raw[step.StepID]; ok && step.State.rank() < prev.State.rank() {
			continue
		}
		step.State = step.State.orDefault()
		r.raw[step.StepID] = step
	}

	r.derived = r.derive(def)
	return issues
}

// Restart discards all merged step results and marks the result as not started.
func (r *Result) Restart(def AutoTest) {
	r.State = StateNotStarted
	r.StartedAt = nil
	r.PointsAchieved = 0
	r.raw = make(map[int]StepSnapshot)
	r.derived = r.derive(def)
}

// Refresh recomputes the derived state against a changed definition.
func (r *Result) Refresh(def AutoTest) {
	r.derived = r.derive(def)
}

// Clone returns a copy that later updates of r do not affect.
func (r *Result) Clone() *Result {
	out := *r
	out.raw = make(map[int]StepSnapshot, len(r.raw))
	for id, step := range r.raw {
		out.raw[id] = step
	}
	return &out
}

// Finished reports whether every set of the run is finished.
func (r *Result) Finished() bool {
	return r.derived.finished
}

// StepResult returns the derived status of a step.
func (r *Result) StepResult(stepID int) (StepResult, bool) {
	res, ok := r.derived.steps[stepID]
	return res, ok
}

// SuiteResult returns the derived points of a suite.
func (r *Result) SuiteResult(suiteID int) (SuiteResult, bool) {
	res, ok := r.derived.suites[suiteID]
	return res, ok
}

// SetResult returns the derived running totals of a set.
func (r *Result) SetResult(setID int) (SetResult, bool) {
	idx, ok := r.derived.setIndex[setID]
	if !ok {
		return SetResult{}, false
	}
	return r.derived.sets[idx], true
}

// SetResults returns the set results in definition order.
func (r *Result) SetResults() []SetResult {
	return append([]SetResult(nil), r.derived.sets...)
}

// Achieved returns the running totals after the last set.
func (r *Result) Achieved() (achieved, possible float64) {
	if len(r.derived.sets) == 0 {
		return 0, 0
	}
	last := r.derived.sets[len(r.derived.sets)-1]
	return last.Achieved, last.Possible
}

func emptyDerived() derivedState {
	return derivedState{
		steps:    map[int]StepResult{},
		suites:   map[int]SuiteResult{},
		setIndex: map[int]int{},
		finished: true,
	}
}

func (r *Result) derive(def AutoTest) derivedState {
	out := emptyDerived()
	out.sets = make([]SetResult, 0, len(def.Sets))

	var achieved, possible float64
	aborted := r.State.Aborted()
	prevFinished := true
	stopped := false

	for _, set := range def.Sets {
		setRes := SetResult{SetID: set.ID, SuiteResults: make([]SuiteResult, 0, len(set.Suites))}
		finished := true

		for _, suite := range set.Suites {
			suiteRes := r.deriveSuite(suite, aborted, stopped)
			for _, step := range suiteRes.StepResults {
				out.steps[step.StepID] = step
			}
			out.suites[suite.ID] = suiteRes
			setRes.SuiteResults = append(setRes.SuiteResults, suiteRes)

			achieved += suiteRes.Achieved
			possible += suiteRes.Possible
			finished = finished && suiteRes.Finished
		}

		setRes.Achieved = achieved
		setRes.Possible = possible
		setRes.Finished = finished && prevFinished

		if setRes.Finished && !stopped && achieved < set.StopPoints {
			setRes.StopPointFailed = true
			stopped = true
		}

		out.setIndex[set.ID] = len(out.sets)
		out.sets = append(out.sets, setRes)
		prevFinished = setRes.Finished
	}

	out.finished = prevFinished
	return out
}

func (r *Result) deriveSuite(suite Suite, aborted, stopped bool) SuiteResult {
	res := SuiteResult{
		SuiteID:     suite.ID,
		Finished:    true,
		StepResults: make([]StepResult, 0, len(suite.Steps)),
	}
	gateFailed := false

	for _, step := range suite.Steps {
		sr := StepResult{StepID: step.ID, State: StateNotStarted}
		if raw, ok := r.raw[step.ID]; ok {
			sr.State = raw.State
			sr.Log = raw.Log
			sr.StartedAt = raw.StartedAt
			sr.AttachmentID = raw.AttachmentID
			if raw.AchievedPoints != nil {
				sr.AchievedPoints = *raw.AchievedPoints
			}
		}
		res.Possible += step.Weight

		switch {
		case stopped || gateFailed:
			sr.State = StateSkipped
			sr.AchievedPoints = 0
			sr.Finished = true
		case aborted:
			// Only steps that never started are rewritten; a running step keeps its state.
			if sr.State == StateNotStarted {
				sr.State = StateSkipped
			}
			sr.Finished = true
		default:
			sr.Finished = sr.State.Terminal()
		}

		switch step.Data.(type) {
		case CheckPointsData:
			if sr.State == StateFailed {
				gateFailed = true
			}
		case nil, IOTestData, RunProgramData, CustomOutputData, JunitTestData:
			res.Achieved += sr.AchievedPoints
		}

		res.Finished = res.Finished && sr.Finished
		res.StepResults = append(res.StepResults, sr)
	}

	return res
}
