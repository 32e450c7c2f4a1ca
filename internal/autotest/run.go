package autotest

import (
	"sort"
	"time"
)

// Run owns the results of one auto test run.
type Run struct {
	ID        int
	CreatedAt time.Time

	results map[int]*Result
}

// NewRun creates an empty run.
func NewRun(id int, createdAt time.Time) *Run {
	return &Run{
		ID:        id,
		CreatedAt: createdAt,
		results:   make(map[int]*Result),
	}
}

// Update applies every result snapshot of a run snapshot, creating results
// on first sight. Results missing from the snapshot keep their state.
func (r *Run) Update(snap RunSnapshot, def AutoTest) []error {
	if !snap.CreatedAt.IsZero() {
		r.CreatedAt = snap.CreatedAt
	}

	var issues []error
	for _, resultSnap := range snap.Results {
		result, ok := r.results[resultSnap.ID]
		if !ok {
			result = NewResult(resultSnap.ID, resultSnap.SubmissionID)
			r.results[resultSnap.ID] = result
		}
		issues = append(issues, result.Update(resultSnap, def)...)
	}
	return issues
}

// Restart resets a single result. It returns false when the result is unknown.
func (r *Run) Restart(resultID int, def AutoTest) bool {
	result, ok := r.results[resultID]
	if !ok {
		return false
	}
	result.Restart(def)
	return true
}

// Refresh recomputes every result against a changed definition.
func (r *Run) Refresh(def AutoTest) {
	for _, result := range r.results {
		result.Refresh(def)
	}
}

// Result returns the result with the given id.
func (r *Run) Result(id int) (*Result, bool) {
	result, ok := r.results[id]
	return result, ok
}

// ResultForSubmission returns the result of a submission.
func (r *Run) ResultForSubmission(submissionID int) (*Result, bool) {
	for _, result := range r.results {
		if result.SubmissionID == submissionID {
			return result, true
		}
	}
	return nil, false
}

// Results returns every result ordered by id.
func (r *Run) Results() []*Result {
	out := make([]*Result, 0, len(r.results))
	for _, result := range r.results {
		out = append(out, result)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Finished reports whether every known result is finished.
func (r *Run) Finished() bool {
	for _, result := range r.results {
		if !result.Finished() {
			return false
		}
	}
	return true
}
