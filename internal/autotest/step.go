package autotest

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownStepType is returned when a definition names a step type this package does not model.
var ErrUnknownStepType = errors.New("unknown step type")

// StepType is the wire name of a step variant.
type StepType string

const (
	StepTypeIOTest       StepType = "io_test"
	StepTypeRunProgram   StepType = "run_program"
	StepTypeCustomOutput StepType = "custom_output"
	StepTypeCheckPoints  StepType = "check_points"
	StepTypeJunitTest    StepType = "junit_test"
)

// StepData is the closed set of type specific step payloads.
// Only the types declared in this file implement it.
type StepData interface {
	Type() StepType
	isStepData()
}

// IOCase is a single input/output pair of an io_test step.
type IOCase struct {
	Name    string   `json:"name"`
	Args    string   `json:"args"`
	Stdin   string   `json:"stdin"`
	Output  string   `json:"output"`
	Weight  float64  `json:"weight"`
	Options []string `json:"options,omitempty"`
}

// IOTestData runs a program against every case and compares output.
type IOTestData struct {
	Program string   `json:"program"`
	Inputs  []IOCase `json:"inputs"`
}

// RunProgramData passes when the program exits with status zero.
type RunProgramData struct {
	Program string `json:"program"`
}

// CustomOutputData extracts a score from program output with a regex.
// The regex must contain the literal marker \f where the score is captured.
type CustomOutputData struct {
	Program string `json:"program"`
	Regex   string `json:"regex"`
}

// CheckPointsData gates the rest of its suite on the points gathered so far.
type CheckPointsData struct {
	MinPoints float64 `json:"min_points"`
}

// JunitTestData runs a program producing a JUnit XML report.
type JunitTestData struct {
	Program string `json:"program"`
}

func (IOTestData) Type() StepType       { return StepTypeIOTest }
func (RunProgramData) Type() StepType   { return StepTypeRunProgram }
func (CustomOutputData) Type() StepType { return StepTypeCustomOutput }
func (CheckPointsData) Type() StepType  { return StepTypeCheckPoints }
func (JunitTestData) Type() StepType    { return StepTypeJunitTest }

func (IOTestData) isStepData()       {}
func (RunProgramData) isStepData()   {}
func (CustomOutputData) isStepData() {}
func (CheckPointsData) isStepData()  {}
func (JunitTestData) isStepData()    {}

// Step is a single weighted check inside a suite.
type Step struct {
	ID     int
	Name   string
	Weight float64
	Hidden bool
	Data   StepData
}

// Type returns the step variant, or an empty type when no data is attached.
func (s Step) Type() StepType {
	if s.Data == nil {
		return ""
	}
	return s.Data.Type()
}

type stepJSON struct {
	ID     int             `json:"id"`
	Name   string          `json:"name"`
	Type   StepType        `json:"type"`
	Weight float64         `json:"weight"`
	Hidden bool            `json:"hidden"`
	Data   json.RawMessage `json:"data"`
}

// MarshalJSON writes the step with its type tag next to the data payload.
func (s Step) MarshalJSON() ([]byte, error) {
	var data json.RawMessage
	if s.Data != nil {
		encoded, err := json.Marshal(s.Data)
		if err != nil {
			return nil, err
		}
		data = encoded
	}
	return json.Marshal(stepJSON{
		ID:     s.ID,
		Name:   s.Name,
		Type:   s.Type(),
		Weight: s.Weight,
		Hidden: s.Hidden,
		Data:   data,
	})
}

// UnmarshalJSON decodes the data payload according to the type tag.
func (s *Step) UnmarshalJSON(raw []byte) error {
	var wire stepJSON
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}

	data, err := DecodeStepData(wire.Type, wire.Data)
	if err != nil {
		return fmt.Errorf("step %d: %w", wire.ID, err)
	}

	*s = Step{
		ID:     wire.ID,
		Name:   wire.Name,
		Weight: wire.Weight,
		Hidden: wire.Hidden,
		Data:   data,
	}
	return nil
}

// DecodeStepData builds the typed payload for the given step type.
func DecodeStepData(stepType StepType, raw json.RawMessage) (StepData, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}

	switch stepType {
	case StepTypeIOTest:
		var data IOTestData
		err := json.Unmarshal(raw, &data)
		return data, err
	case StepTypeRunProgram:
		var data RunProgramData
		err := json.Unmarshal(raw, &data)
		return data, err
	case StepTypeCustomOutput:
		var data CustomOutputData
		err := json.Unmarshal(raw, &data)
		return data, err
	case StepTypeCheckPoints:
		var data CheckPointsData
		err := json.Unmarshal(raw, &data)
		return data, err
	case StepTypeJunitTest:
		var data JunitTestData
		err := json.Unmarshal(raw, &data)
		return data, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepType, stepType)
	}
}
