package rubric

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrUnknownRow      = errors.New("unknown rubric row")
	ErrUnknownItem     = errors.New("unknown rubric item")
	ErrMultiplierRange = errors.New("multiplier must be between 0 and 1")
)

// MaxGrade is the upper bound of a grade.
const MaxGrade = 10.0

// Selection is the chosen item of a row and the fraction of it awarded.
type Selection struct {
	ItemID     int     `json:"item_id"`
	Multiplier float64 `json:"multiplier"`
}

// Result maps rows to selected items for one submission. Edits return new values.
type Result struct {
	SubmissionID int
	selected     map[int]Selection
}

// NewResult copies the selections into a result.
func NewResult(submissionID int, selected map[int]Selection) Result {
	copied := make(map[int]Selection, len(selected))
	for rowID, sel := range selected {
		copied[rowID] = sel
	}
	return Result{SubmissionID: submissionID, selected: copied}
}

// Selected returns a copy of the selections keyed by row id.
func (r Result) Selected() map[int]Selection {
	return NewResult(r.SubmissionID, r.selected).selected
}

// Selection returns the selection of a row.
func (r Result) Selection(rowID int) (Selection, bool) {
	sel, ok := r.selected[rowID]
	return sel, ok
}

// Select returns a copy where the row has the given item selected.
func (r Result) Select(rowID, itemID int, multiplier float64) Result {
	out := NewResult(r.SubmissionID, r.selected)
	out.selected[rowID] = Selection{ItemID: itemID, Multiplier: multiplier}
	return out
}

// Deselect returns a copy without a selection for the row.
func (r Result) Deselect(rowID int) Result {
	out := NewResult(r.SubmissionID, r.selected)
	delete(out.selected, rowID)
	return out
}

// Points sums item points scaled by their clamped multiplier.
// Selections that do not resolve against the rubric are ignored.
func (r Result) Points(rub Rubric) float64 {
	var total float64
	for _, rowID := range r.rowIDs() {
		sel := r.selected[rowID]
		row, ok := rub.Row(rowID)
		if !ok {
			continue
		}
		item, ok := row.Base().Item(sel.ItemID)
		if !ok {
			continue
		}
		total += item.Points * clamp(sel.Multiplier, 0, 1)
	}
	return total
}

// MaxPoints prefers the assignment override over the rubric maximum.
func MaxPoints(rub Rubric, fixedMax *float64) float64 {
	if fixedMax != nil {
		return *fixedMax
	}
	return rub.MaxPoints()
}

// Grade maps the points onto [0, 10]. It returns false when the maximum is not positive.
func (r Result) Grade(rub Rubric, fixedMax *float64) (float64, bool) {
	maxPoints := MaxPoints(rub, fixedMax)
	if maxPoints <= 0 {
		return 0, false
	}
	return clamp(MaxGrade*r.Points(rub)/maxPoints, 0, MaxGrade), true
}

// FormatGrade renders a grade with two decimals.
func FormatGrade(grade float64) string {
	return fmt.Sprintf("%.2f", clamp(grade, 0, MaxGrade))
}

// Validate checks every selection against the rubric.
func (r Result) Validate(rub Rubric) error {
	var errs []error
	for _, rowID := range r.rowIDs() {
		sel := r.selected[rowID]
		row, ok := rub.Row(rowID)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %d", ErrUnknownRow, rowID))
			continue
		}
		if _, ok := row.Base().Item(sel.ItemID); !ok {
			errs = append(errs, fmt.Errorf("%w: item %d in row %d", ErrUnknownItem, sel.ItemID, rowID))
		}
		if sel.Multiplier < 0 || sel.Multiplier > 1 || math.IsNaN(sel.Multiplier) {
			errs = append(errs, fmt.Errorf("%w: row %d has %v", ErrMultiplierRange, rowID, sel.Multiplier))
		}
	}
	return errors.Join(errs...)
}

// Change describes how the selection of one row differs between two results.
// A nil side means the row had no selection.
type Change struct {
	RowID  int
	Before *Selection
	After  *Selection
}

// Diff lists the rows whose selection differs from other, ordered by row id.
func (r Result) Diff(other Result) []Change {
	ids := map[int]struct{}{}
	for id := range r.selected {
		ids[id] = struct{}{}
	}
	for id := range other.selected {
		ids[id] = struct{}{}
	}

	var changes []Change
	for _, id := range sortedKeys(ids) {
		before, hadBefore := r.selected[id]
		after, hasAfter := other.selected[id]
		if hadBefore == hasAfter && before == after {
			continue
		}
		change := Change{RowID: id}
		if hadBefore {
			b := before
			change.Before = &b
		}
		if hasAfter {
			a := after
			change.After = &a
		}
		changes = append(changes, change)
	}
	return changes
}

func (r Result) rowIDs() []int {
	ids := make(map[int]struct{}, len(r.selected))
	for id := range r.selected {
		ids[id] = struct{}{}
	}
	return sortedKeys(ids)
}

func sortedKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}
