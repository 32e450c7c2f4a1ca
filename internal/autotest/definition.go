package autotest

// Suite is an ordered group of steps graded into exactly one rubric row.
// A RubricRowID of zero means the suite is not linked yet.
type Suite struct {
	ID               int     `json:"id"`
	RubricRowID      int     `json:"rubric_row_id"`
	Steps            []Step  `json:"steps"`
	CommandTimeLimit float64 `json:"command_time_limit,omitempty"`
	NetworkDisabled  bool    `json:"network_disabled"`
}

// Set is a sequential stage of a run. Later sets only count when the
// cumulative achieved points reach StopPoints.
type Set struct {
	ID         int     `json:"id"`
	StopPoints float64 `json:"stop_points"`
	Suites     []Suite `json:"suites"`
}

// AutoTest is the immutable definition tree of an assignment.
type AutoTest struct {
	ID   int   `json:"id"`
	Sets []Set `json:"sets"`
}

// StepLocation addresses a step by position inside the tree.
type StepLocation struct {
	SetIndex   int
	SuiteIndex int
	StepIndex  int
}

// StepLocations indexes every step id in the tree.
func (a AutoTest) StepLocations() map[int]StepLocation {
	index := make(map[int]StepLocation)
	for setIdx, set := range a.Sets {
		for suiteIdx, suite := range set.Suites {
			for stepIdx, step := range suite.Steps {
				index[step.ID] = StepLocation{SetIndex: setIdx, SuiteIndex: suiteIdx, StepIndex: stepIdx}
			}
		}
	}
	return index
}

// Step looks a step up by id.
func (a AutoTest) Step(id int) (Step, bool) {
	loc, ok := a.StepLocations()[id]
	if !ok {
		return Step{}, false
	}
	return a.Sets[loc.SetIndex].Suites[loc.SuiteIndex].Steps[loc.StepIndex], true
}

// SuiteForRow returns the suite linked to a rubric row.
func (a AutoTest) SuiteForRow(rowID int) (Suite, bool) {
	if rowID == 0 {
		return Suite{}, false
	}
	for _, set := range a.Sets {
		for _, suite := range set.Suites {
			if suite.RubricRowID == rowID {
				return suite, true
			}
		}
	}
	return Suite{}, false
}

// UnlinkedRows lists the rubric row ids referenced by suites that hasRow does not know.
func (a AutoTest) UnlinkedRows(hasRow func(rowID int) bool) []int {
	var missing []int
	for _, set := range a.Sets {
		for _, suite := range set.Suites {
			if suite.RubricRowID != 0 && !hasRow(suite.RubricRowID) {
				missing = append(missing, suite.RubricRowID)
			}
		}
	}
	return missing
}

// MaxPoints is the sum of all step weights.
func (a AutoTest) MaxPoints() float64 {
	var total float64
	for _, set := range a.Sets {
		for _, suite := range set.Suites {
			total += suite.MaxPoints()
		}
	}
	return total
}

// MaxPoints is the sum of the suite's step weights.
func (s Suite) MaxPoints() float64 {
	var total float64
	for _, step := range s.Steps {
		total += step.Weight
	}
	return total
}

// WithSet returns a copy of the tree where the set with the same id is
// replaced, or the set is appended when it is new.
func (a AutoTest) WithSet(set Set) AutoTest {
	out := a.clone()
	for i := range out.Sets {
		if out.Sets[i].ID == set.ID {
			out.Sets[i] = set.clone()
			return out
		}
	}
	out.Sets = append(out.Sets, set.clone())
	return out
}

// WithoutSet returns a copy of the tree without the given set.
func (a AutoTest) WithoutSet(setID int) AutoTest {
	out := a.clone()
	sets := out.Sets[:0]
	for _, set := range out.Sets {
		if set.ID != setID {
			sets = append(sets, set)
		}
	}
	out.Sets = sets
	return out
}

// WithSuite returns a copy of the tree with suite stored in the given set.
// The second return value is false when the set does not exist.
func (a AutoTest) WithSuite(setID int, suite Suite) (AutoTest, bool) {
	out := a.clone()
	for i := range out.Sets {
		if out.Sets[i].ID != setID {
			continue
		}
		for j := range out.Sets[i].Suites {
			if out.Sets[i].Suites[j].ID == suite.ID {
				out.Sets[i].Suites[j] = suite.clone()
				return out, true
			}
		}
		out.Sets[i].Suites = append(out.Sets[i].Suites, suite.clone())
		return out, true
	}
	return a, false
}

// WithoutSuite returns a copy of the tree without the given suite.
func (a AutoTest) WithoutSuite(setID, suiteID int) AutoTest {
	out := a.clone()
	for i := range out.Sets {
		if out.Sets[i].ID != setID {
			continue
		}
		suites := out.Sets[i].Suites[:0]
		for _, suite := range out.Sets[i].Suites {
			if suite.ID != suiteID {
				suites = append(suites, suite)
			}
		}
		out.Sets[i].Suites = suites
	}
	return out
}

func (a AutoTest) clone() AutoTest {
	out := a
	out.Sets = make([]Set, len(a.Sets))
	for i, set := range a.Sets {
		out.Sets[i] = set.clone()
	}
	return out
}

func (s Set) clone() Set {
	out := s
	out.Suites = make([]Suite, len(s.Suites))
	for i, suite := range s.Suites {
		out.Suites[i] = suite.clone()
	}
	return out
}

func (s Suite) clone() Suite {
	out := s
	out.Steps = append([]Step(nil), s.Steps...)
	return out
}
