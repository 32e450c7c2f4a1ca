package rubric

import (
	"fmt"
	"strconv"

	"github.com/noah-isme/gema-autotest/internal/autotest"
)

const pointsEpsilon = 1e-9

// Locked reports whether the row selection is driven by AutoTest.
func Locked(row Row) bool {
	return row.Base().Locked == LockAutoTest
}

// LockMessage explains why a row cannot be edited. It is empty for rows
// that are not locked. Until the result is finished the message never
// contains a score.
func LockMessage(row Row, def autotest.AutoTest, result *autotest.Result) string {
	if !Locked(row) {
		return ""
	}

	suite, ok := def.SuiteForRow(row.Base().ID)
	if !ok {
		return "This category is locked by AutoTest, but no AutoTest suite is linked to it."
	}
	if result == nil {
		return "This category is filled in by AutoTest. It will get a score once AutoTest has run for this submission."
	}
	if !result.Finished() {
		return "This category is filled in by AutoTest. The score will be shown once the AutoTest run for this submission has finished."
	}

	suiteRes, ok := result.SuiteResult(suite.ID)
	if !ok {
		return "This category is filled in by AutoTest, but the finished AutoTest run has no result for the linked suite."
	}
	return fmt.Sprintf(
		"This category is filled in by AutoTest: %s out of %s points were achieved in the linked suite (%s%%).",
		formatPoints(suiteRes.Achieved), formatPoints(suiteRes.Possible),
		formatPoints(percentage(suiteRes.Achieved, suiteRes.Possible)),
	)
}

// AutoTestSelection maps the achieved/possible ratio of a suite onto a row.
// Continuous rows get the ratio as multiplier; normal rows select the highest
// item not exceeding ratio*MaxPoints. It returns false when no item qualifies.
func AutoTestSelection(row Row, achieved, possible float64) (Selection, bool) {
	fraction := 0.0
	if possible > 0 {
		fraction = clamp(achieved/possible, 0, 1)
	}

	base := row.Base()
	switch row.(type) {
	case ContinuousRow:
		if len(base.Items) != 1 {
			return Selection{}, false
		}
		return Selection{ItemID: base.Items[0].ID, Multiplier: fraction}, true
	case NormalRow:
		target := fraction * row.MaxPoints()
		found := false
		var best Item
		for _, item := range base.Items {
			if item.Points > target+pointsEpsilon {
				continue
			}
			if !found || item.Points > best.Points {
				best = item
				found = true
			}
		}
		if !found {
			return Selection{}, false
		}
		return Selection{ItemID: best.ID, Multiplier: 1}, true
	}
	panic(fmt.Sprintf("rubric: unhandled row type %T", row))
}

// WithAutoTest fills every AutoTest locked row from its linked suite. Locked
// rows are cleared while the result is missing or unfinished.
func (r Result) WithAutoTest(rub Rubric, def autotest.AutoTest, result *autotest.Result) Result {
	out := NewResult(r.SubmissionID, r.selected)
	for _, row := range rub.Rows {
		if !Locked(row) {
			continue
		}
		rowID := row.Base().ID
		delete(out.selected, rowID)

		if result == nil || !result.Finished() {
			continue
		}
		suite, ok := def.SuiteForRow(rowID)
		if !ok {
			continue
		}
		suiteRes, ok := result.SuiteResult(suite.ID)
		if !ok {
			continue
		}
		if sel, ok := AutoTestSelection(row, suiteRes.Achieved, suiteRes.Possible); ok {
			out.selected[rowID] = sel
		}
	}
	return out
}

func percentage(achieved, possible float64) float64 {
	if possible <= 0 {
		return 0
	}
	return float64(int(clamp(achieved/possible, 0, 1)*10000+0.5)) / 100
}

func formatPoints(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
