package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/noah-isme/gema-autotest/internal/autotest"
)

type tomlStep struct {
	ID     int            `toml:"id"`
	Name   string         `toml:"name"`
	Type   string         `toml:"type"`
	Weight float64        `toml:"weight"`
	Hidden bool           `toml:"hidden"`
	Data   map[string]any `toml:"data"`
}

type tomlSuite struct {
	ID               int        `toml:"id"`
	RubricRowID      int        `toml:"rubric_row_id"`
	CommandTimeLimit float64    `toml:"command_time_limit"`
	NetworkDisabled  bool       `toml:"network_disabled"`
	Steps            []tomlStep `toml:"steps"`
}

type tomlSet struct {
	ID         int         `toml:"id"`
	StopPoints float64     `toml:"stop_points"`
	Suites     []tomlSuite `toml:"suites"`
}

type tomlDefinition struct {
	ID   int       `toml:"id"`
	Sets []tomlSet `toml:"sets"`
}

func readDefinition(path string) (autotest.AutoTest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return autotest.AutoTest{}, fmt.Errorf("failed to read definition: %w", err)
	}
	return parseDefinition(content)
}

// parseDefinition decodes the TOML layout of an AutoTest. Step data tables are
// passed through the same typed decoder the API uses for JSON payloads.
func parseDefinition(content []byte) (autotest.AutoTest, error) {
	var raw tomlDefinition
	if err := toml.Unmarshal(content, &raw); err != nil {
		return autotest.AutoTest{}, fmt.Errorf("failed to parse definition: %w", err)
	}

	def := autotest.AutoTest{ID: raw.ID, Sets: make([]autotest.Set, 0, len(raw.Sets))}
	for _, rawSet := range raw.Sets {
		set := autotest.Set{ID: rawSet.ID, StopPoints: rawSet.StopPoints, Suites: make([]autotest.Suite, 0, len(rawSet.Suites))}
		for _, rawSuite := range rawSet.Suites {
			suite := autotest.Suite{
				ID:               rawSuite.ID,
				RubricRowID:      rawSuite.RubricRowID,
				CommandTimeLimit: rawSuite.CommandTimeLimit,
				NetworkDisabled:  rawSuite.NetworkDisabled,
				Steps:            make([]autotest.Step, 0, len(rawSuite.Steps)),
			}
			for _, rawStep := range rawSuite.Steps {
				step, err := rawStep.decode()
				if err != nil {
					return autotest.AutoTest{}, fmt.Errorf("suite %d: %w", rawSuite.ID, err)
				}
				suite.Steps = append(suite.Steps, step)
			}
			set.Suites = append(set.Suites, suite)
		}
		def.Sets = append(def.Sets, set)
	}
	return def, nil
}

func (s tomlStep) decode() (autotest.Step, error) {
	var payload json.RawMessage
	if s.Data != nil {
		encoded, err := json.Marshal(s.Data)
		if err != nil {
			return autotest.Step{}, fmt.Errorf("step %d: %w", s.ID, err)
		}
		payload = encoded
	}

	data, err := autotest.DecodeStepData(autotest.StepType(s.Type), payload)
	if err != nil {
		return autotest.Step{}, fmt.Errorf("step %d: %w", s.ID, err)
	}
	return autotest.Step{ID: s.ID, Name: s.Name, Weight: s.Weight, Hidden: s.Hidden, Data: data}, nil
}
