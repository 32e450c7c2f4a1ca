package autotest

import (
	"fmt"
	"strconv"
	"strings"
)

// ScoreMarker is the literal two character sequence a custom_output regex
// must contain to mark where the score is captured.
const ScoreMarker = `\f`

// StepErrors lists the problems of a single step.
type StepErrors struct {
	StepID   int
	Index    int
	Name     string
	Messages []string
}

// SuiteErrors is the structured outcome of suite validation.
type SuiteErrors struct {
	General []string
	Steps   []StepErrors
}

// Count returns the number of messages.
func (e *SuiteErrors) Count() int {
	if e == nil {
		return 0
	}
	total := len(e.General)
	for _, step := range e.Steps {
		total += len(step.Messages)
	}
	return total
}

// Messages flattens the errors into human readable lines.
func (e *SuiteErrors) Messages() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.General...)
	for _, step := range e.Steps {
		label := fmt.Sprintf("Step %d", step.Index+1)
		if step.Name != "" {
			label = fmt.Sprintf("%s (%s)", label, step.Name)
		}
		for _, msg := range step.Messages {
			out = append(out, label+": "+msg)
		}
	}
	return out
}

func (e *SuiteErrors) Error() string {
	return "invalid suite: " + strings.Join(e.Messages(), "; ")
}

// Errors validates the structure of a suite before it is saved.
// It returns nil when the suite is well formed.
func (s Suite) Errors() *SuiteErrors {
	errs := &SuiteErrors{}

	if len(s.Steps) == 0 {
		errs.General = append(errs.General, "You should have at least one step.")
	}
	if s.RubricRowID == 0 {
		errs.General = append(errs.General, "You should select a rubric category for this suite.")
	}

	var preceding float64
	for idx, step := range s.Steps {
		if msgs := stepErrors(step, preceding); len(msgs) > 0 {
			errs.Steps = append(errs.Steps, StepErrors{
				StepID:   step.ID,
				Index:    idx,
				Name:     step.Name,
				Messages: msgs,
			})
		}
		preceding += step.Weight
	}

	if errs.Count() == 0 {
		return nil
	}
	return errs
}

func stepErrors(step Step, preceding float64) []string {
	var msgs []string

	if strings.TrimSpace(step.Name) == "" {
		msgs = append(msgs, "The name may not be empty.")
	}

	switch data := step.Data.(type) {
	case nil:
		msgs = append(msgs, "The step has no type.")
	case CheckPointsData:
		if data.MinPoints <= 0 {
			msgs = append(msgs, "The minimal amount of points should be larger than 0.")
		} else if data.MinPoints > preceding {
			msgs = append(msgs, fmt.Sprintf(
				"The minimal amount of points (%s) is unreachable, the preceding steps can achieve at most %s points.",
				formatPoints(data.MinPoints), formatPoints(preceding),
			))
		}
	case IOTestData:
		msgs = append(msgs, positiveWeight(step)...)
		if len(data.Inputs) == 0 {
			msgs = append(msgs, "There should be at least one input output case.")
		}
		for i, input := range data.Inputs {
			if strings.TrimSpace(input.Name) == "" {
				msgs = append(msgs, fmt.Sprintf("The name of input output case %d may not be empty.", i+1))
			}
			if input.Weight <= 0 {
				msgs = append(msgs, fmt.Sprintf("The weight of input output case %d should be larger than 0.", i+1))
			}
		}
	case CustomOutputData:
		msgs = append(msgs, positiveWeight(step)...)
		if !strings.Contains(data.Regex, ScoreMarker) {
			msgs = append(msgs, `The regex should contain "\f" to mark the score.`)
		}
	case RunProgramData, JunitTestData:
		msgs = append(msgs, positiveWeight(step)...)
	}

	return msgs
}

func positiveWeight(step Step) []string {
	if step.Weight <= 0 {
		return []string{"The weight should be larger than 0."}
	}
	return nil
}

func formatPoints(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Errors validates every suite of the tree, keyed by suite id.
// Sets without suites are reported under key zero.
func (a AutoTest) Errors() map[int]*SuiteErrors {
	out := make(map[int]*SuiteErrors)
	for _, set := range a.Sets {
		if len(set.Suites) == 0 {
			errs := out[0]
			if errs == nil {
				errs = &SuiteErrors{}
				out[0] = errs
			}
			errs.General = append(errs.General, fmt.Sprintf("Level %d should have at least one suite.", set.ID))
		}
		for _, suite := range set.Suites {
			if errs := suite.Errors(); errs != nil {
				out[suite.ID] = errs
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
