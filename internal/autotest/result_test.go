package autotest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func points(v float64) *float64 {
	return &v
}

func stepSnap(id int, state State, achieved float64) StepSnapshot {
	return StepSnapshot{StepID: id, State: state, AchievedPoints: points(achieved)}
}

func runStep(id int, weight float64) Step {
	return Step{ID: id, Name: "run", Weight: weight, Data: RunProgramData{Program: "make test"}}
}

func checkStep(id int, minPoints float64) Step {
	return Step{ID: id, Name: "gate", Data: CheckPointsData{MinPoints: minPoints}}
}

// twoSetDefinition: set 1 (stop 10) has suite 11 with steps 1 and 2,
// set 2 has suite 21 with steps 3 and 4.
func twoSetDefinition() AutoTest {
	return AutoTest{
		ID: 1,
		Sets: []Set{
			{ID: 1, StopPoints: 10, Suites: []Suite{
				{ID: 11, RubricRowID: 101, Steps: []Step{runStep(1, 5), runStep(2, 5)}},
			}},
			{ID: 2, Suites: []Suite{
				{ID: 21, RubricRowID: 102, Steps: []Step{runStep(3, 4), runStep(4, 6)}},
			}},
		},
	}
}

func TestResultWithoutStepResultsIsNotStarted(t *testing.T) {
	def := twoSetDefinition()
	result := NewResult(7, 70)

	issues := result.Update(Snapshot{ID: 7, State: StateNotStarted, StepResults: nil}, def)
	require.Empty(t, issues)
	require.False(t, result.Finished())

	step, ok := result.StepResult(3)
	require.True(t, ok)
	require.Equal(t, StateNotStarted, step.State)
	require.False(t, step.Finished)

	set, ok := result.SetResult(2)
	require.True(t, ok)
	require.Equal(t, 0.0, set.Achieved)
	require.Equal(t, 20.0, set.Possible)
}

func TestResultAccumulatesAcrossSets(t *testing.T) {
	def := twoSetDefinition()
	result := NewResult(1, 1)

	result.Update(Snapshot{
		ID:    1,
		State: StatePassed,
		StepResults: []StepSnapshot{
			stepSnap(1, StatePassed, 5),
			stepSnap(2, StatePassed, 5),
			stepSnap(3, StatePassed, 4),
			stepSnap(4, StateFailed, 0),
		},
	}, def)

	first, _ := result.SetResult(1)
	require.Equal(t, 10.0, first.Achieved)
	require.Equal(t, 10.0, first.Possible)
	require.True(t, first.Finished)
	require.False(t, first.StopPointFailed)

	second, _ := result.SetResult(2)
	require.Equal(t, 14.0, second.Achieved, "running totals start from the previous set")
	require.Equal(t, 20.0, second.Possible)
	require.True(t, second.Finished)

	suite, _ := result.SuiteResult(21)
	require.Equal(t, 4.0, suite.Achieved)
	require.Equal(t, 10.0, suite.Possible)

	achieved, possible := result.Achieved()
	require.Equal(t, 14.0, achieved)
	require.Equal(t, 20.0, possible)
	require.True(t, result.Finished())
}

func TestCheckPointsFailureSkipsRestOfSuite(t *testing.T) {
	def := AutoTest{Sets: []Set{{ID: 1, Suites: []Suite{{
		ID:          1,
		RubricRowID: 1,
		Steps: []Step{
			runStep(1, 5),
			{ID: 2, Name: "gate", Weight: 5, Data: CheckPointsData{MinPoints: 10}},
			runStep(3, 3),
		},
	}}}}}
	result := NewResult(1, 1)

	result.Update(Snapshot{ID: 1, State: StateRunning, StepResults: []StepSnapshot{
		stepSnap(1, StatePassed, 5),
		stepSnap(2, StateFailed, 0),
	}}, def)

	gated, _ := result.StepResult(3)
	require.Equal(t, StateSkipped, gated.State)
	require.True(t, gated.Finished)

	// The server later reports the gated step as passed; the gate still wins.
	result.Update(Snapshot{ID: 1, State: StatePassed, StepResults: []StepSnapshot{
		stepSnap(1, StatePassed, 5),
		stepSnap(2, StateFailed, 0),
		stepSnap(3, StatePassed, 3),
	}}, def)

	gated, _ = result.StepResult(3)
	require.Equal(t, StateSkipped, gated.State)
	require.Equal(t, 0.0, gated.AchievedPoints)

	suite, _ := result.SuiteResult(1)
	require.Equal(t, 5.0, suite.Achieved)
	require.Equal(t, 13.0, suite.Possible)
	require.True(t, suite.Finished)
	require.True(t, result.Finished())
}

func TestCheckPointsNeverContributePoints(t *testing.T) {
	def := AutoTest{Sets: []Set{{ID: 1, Suites: []Suite{{
		ID:    1,
		Steps: []Step{runStep(1, 2), checkStep(2, 1), runStep(3, 2)},
	}}}}}
	result := NewResult(1, 1)

	result.Update(Snapshot{ID: 1, State: StatePassed, StepResults: []StepSnapshot{
		stepSnap(1, StatePassed, 2),
		stepSnap(2, StatePassed, 99),
		stepSnap(3, StatePassed, 2),
	}}, def)

	suite, _ := result.SuiteResult(1)
	require.Equal(t, 4.0, suite.Achieved)
	require.Equal(t, 4.0, suite.Possible)
}

func TestStopPointsSkipLaterSets(t *testing.T) {
	def := twoSetDefinition()
	result := NewResult(1, 1)

	result.Update(Snapshot{ID: 1, State: StatePassed, StepResults: []StepSnapshot{
		stepSnap(1, StatePassed, 5),
		stepSnap(2, StateFailed, 0),
		stepSnap(3, StatePassed, 4),
		stepSnap(4, StateRunning, 0),
	}}, def)

	first, _ := result.SetResult(1)
	require.True(t, first.Finished)
	require.True(t, first.StopPointFailed)
	require.Equal(t, 5.0, first.Achieved)
	require.Equal(t, 10.0, first.Possible)

	for _, id := range []int{3, 4} {
		step, ok := result.StepResult(id)
		require.True(t, ok)
		require.Equal(t, StateSkipped, step.State, "step %d", id)
		require.True(t, step.Finished, "step %d", id)
	}

	second, _ := result.SetResult(2)
	require.True(t, second.Finished)
	require.Equal(t, 5.0, second.Achieved)
	require.Equal(t, 20.0, second.Possible)
	require.True(t, result.Finished())
}

func TestStopPointsOnlyCheckedOnFinishedSets(t *testing.T) {
	def := twoSetDefinition()
	result := NewResult(1, 1)

	result.Update(Snapshot{ID: 1, State: StateRunning, StepResults: []StepSnapshot{
		stepSnap(1, StatePassed, 5),
		stepSnap(2, StateRunning, 0),
	}}, def)

	first, _ := result.SetResult(1)
	require.False(t, first.Finished)
	require.False(t, first.StopPointFailed)

	later, _ := result.StepResult(3)
	require.Equal(t, StateNotStarted, later.State)
	require.False(t, later.Finished)
}

func TestLaterSetWaitsForEarlierSet(t *testing.T) {
	def := twoSetDefinition()
	result := NewResult(1, 1)

	result.Update(Snapshot{ID: 1, State: StateRunning, StepResults: []StepSnapshot{
		stepSnap(1, StatePassed, 5),
		stepSnap(3, StatePassed, 4),
		stepSnap(4, StatePassed, 6),
	}}, def)

	suite, _ := result.SuiteResult(21)
	require.True(t, suite.Finished)

	second, _ := result.SetResult(2)
	require.False(t, second.Finished, "set 1 is still running")
	require.False(t, result.Finished())
}

func TestFailedResultSkipsPendingStepsAndKeepsOutcomes(t *testing.T) {
	def := twoSetDefinition()
	result := NewResult(1, 1)

	result.Update(Snapshot{ID: 1, State: StateTimedOut, StepResults: []StepSnapshot{
		stepSnap(1, StatePassed, 5),
		stepSnap(2, StateRunning, 0),
	}}, def)

	done, _ := result.StepResult(1)
	require.Equal(t, StatePassed, done.State)
	require.Equal(t, 5.0, done.AchievedPoints)

	for _, id := range []int{3, 4} {
		step, _ := result.StepResult(id)
		require.Equal(t, StateSkipped, step.State, "step %d", id)
		require.True(t, step.Finished, "step %d", id)
	}
	require.True(t, result.Finished())

	achieved, _ := result.Achieved()
	require.Equal(t, 5.0, achieved)
}

func TestAbortedResultKeepsRunningSteps(t *testing.T) {
	def := twoSetDefinition()

	for _, state := range []State{StateTimedOut, StateFailed} {
		result := NewResult(1, 1)
		result.Update(Snapshot{ID: 1, State: state, StepResults: []StepSnapshot{
			stepSnap(1, StatePassed, 5),
			stepSnap(2, StateRunning, 0),
		}}, def)

		running, ok := result.StepResult(2)
		require.True(t, ok)
		require.Equal(t, StateRunning, running.State, "result %s", state)
		require.True(t, running.Finished, "result %s", state)

		pending, _ := result.StepResult(3)
		require.Equal(t, StateSkipped, pending.State, "result %s", state)

		suite, _ := result.SuiteResult(11)
		require.True(t, suite.Finished)
		require.Equal(t, 5.0, suite.Achieved)
		require.True(t, result.Finished())
	}
}

func TestEmptySuiteAndZeroWeightStep(t *testing.T) {
	def := AutoTest{Sets: []Set{{ID: 1, Suites: []Suite{
		{ID: 1},
		{ID: 2, Steps: []Step{runStep(1, 0), runStep(2, 2)}},
	}}}}
	result := NewResult(1, 1)

	result.Update(Snapshot{ID: 1, State: StateRunning, StepResults: []StepSnapshot{
		stepSnap(2, StatePassed, 2),
	}}, def)

	empty, _ := result.SuiteResult(1)
	require.True(t, empty.Finished)
	require.Equal(t, 0.0, empty.Achieved)
	require.Equal(t, 0.0, empty.Possible)

	weighted, _ := result.SuiteResult(2)
	require.False(t, weighted.Finished, "a zero weight step still has to finish")
	require.Equal(t, 2.0, weighted.Possible)

	result.Update(Snapshot{ID: 1, State: StatePassed, StepResults: []StepSnapshot{
		stepSnap(1, StatePassed, 0),
	}}, def)
	weighted, _ = result.SuiteResult(2)
	require.True(t, weighted.Finished)
	require.Equal(t, 2.0, weighted.Achieved)
}

func TestUpdateIsIdempotent(t *testing.T) {
	def := twoSetDefinition()
	snap := Snapshot{ID: 1, State: StateRunning, StepResults: []StepSnapshot{
		stepSnap(1, StatePassed, 5),
		stepSnap(2, StateFailed, 1),
	}}

	result := NewResult(1, 1)
	result.Update(snap, def)
	first := result.derived

	result.Update(snap, def)
	require.Equal(t, first, result.derived)
}

func TestStaleSnapshotDoesNotRegress(t *testing.T) {
	def := twoSetDefinition()
	result := NewResult(1, 1)

	newer := Snapshot{ID: 1, State: StatePassed, StepResults: []StepSnapshot{
		stepSnap(1, StatePassed, 5),
		stepSnap(2, StatePassed, 5),
		stepSnap(3, StatePassed, 4),
		stepSnap(4, StatePassed, 6),
	}}
	older := Snapshot{ID: 1, State: StateRunning, StepResults: []StepSnapshot{
		stepSnap(1, StatePassed, 5),
		stepSnap(2, StateRunning, 0),
	}}

	result.Update(newer, def)
	require.True(t, result.Finished())
	achievedBefore, _ := result.Achieved()

	result.Update(older, def)
	require.Equal(t, StatePassed, result.State)
	require.True(t, result.Finished())
	achievedAfter, _ := result.Achieved()
	require.Equal(t, achievedBefore, achievedAfter)
}

func TestMonotoneOverGrowingSnapshots(t *testing.T) {
	def := twoSetDefinition()
	snaps := []Snapshot{
		{ID: 1, State: StateNotStarted},
		{ID: 1, State: StateRunning, StepResults: []StepSnapshot{stepSnap(1, StateRunning, 0)}},
		{ID: 1, State: StateRunning, StepResults: []StepSnapshot{stepSnap(1, StatePassed, 5)}},
		{ID: 1, State: StateRunning, StepResults: []StepSnapshot{stepSnap(1, StatePassed, 5), stepSnap(2, StatePassed, 5)}},
		{ID: 1, State: StatePassed, StepResults: []StepSnapshot{
			stepSnap(1, StatePassed, 5), stepSnap(2, StatePassed, 5),
			stepSnap(3, StatePassed, 4), stepSnap(4, StatePassed, 6),
		}},
	}

	result := NewResult(1, 1)
	var lastAchieved float64
	lastFinished := false
	for i, snap := range snaps {
		result.Update(snap, def)
		achieved, _ := result.Achieved()
		require.GreaterOrEqual(t, achieved, lastAchieved, "snapshot %d", i)
		if lastFinished {
			require.True(t, result.Finished(), "snapshot %d", i)
		}
		lastAchieved = achieved
		lastFinished = result.Finished()
	}
	require.True(t, lastFinished)
	require.Equal(t, 20.0, lastAchieved)
}

func TestRestartResetsState(t *testing.T) {
	def := twoSetDefinition()
	result := NewResult(1, 1)
	result.Update(Snapshot{ID: 1, State: StatePassed, StepResults: []StepSnapshot{
		stepSnap(1, StatePassed, 5),
		stepSnap(2, StatePassed, 5),
	}}, def)

	result.Restart(def)
	require.Equal(t, StateNotStarted, result.State)
	require.False(t, result.Finished())

	step, _ := result.StepResult(1)
	require.Equal(t, StateNotStarted, step.State)

	// After a restart lower states are accepted again.
	result.Update(Snapshot{ID: 1, State: StateRunning, StepResults: []StepSnapshot{
		stepSnap(1, StateRunning, 0),
	}}, def)
	step, _ = result.StepResult(1)
	require.Equal(t, StateRunning, step.State)
}

func TestUnknownStepIsReportedAndIgnored(t *testing.T) {
	def := twoSetDefinition()
	result := NewResult(1, 1)

	issues := result.Update(Snapshot{ID: 1, State: StateRunning, StepResults: []StepSnapshot{
		stepSnap(1, StatePassed, 5),
		stepSnap(99, StatePassed, 100),
	}}, def)

	require.Len(t, issues, 1)
	var unknown UnknownStepError
	require.ErrorAs(t, issues[0], &unknown)
	require.Equal(t, 99, unknown.StepID)

	achieved, _ := result.Achieved()
	require.Equal(t, 5.0, achieved)
}

func TestMismatchedSnapshotIsRejected(t *testing.T) {
	result := NewResult(1, 1)
	issues := result.Update(Snapshot{ID: 2, State: StatePassed}, twoSetDefinition())
	require.Len(t, issues, 1)
	require.ErrorIs(t, issues[0], ErrResultMismatch)
	require.Equal(t, StateNotStarted, result.State)
}
