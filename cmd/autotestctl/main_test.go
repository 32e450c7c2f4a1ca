package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-autotest/internal/autotest"
	"github.com/noah-isme/gema-autotest/internal/dto"
)

const sampleDefinition = `
id = 1

[[sets]]
id = 1
stop_points = 2.0

  [[sets.suites]]
  id = 11
  rubric_row_id = 101
  command_time_limit = 10.0

    [[sets.suites.steps]]
    id = 1
    name = "compile"
    type = "run_program"
    weight = 1.0
    [sets.suites.steps.data]
    program = "make"

    [[sets.suites.steps]]
    id = 2
    name = "gate"
    type = "check_points"
    [sets.suites.steps.data]
    min_points = 1.0

    [[sets.suites.steps]]
    id = 3
    name = "output"
    type = "custom_output"
    weight = 3.0
    [sets.suites.steps.data]
    program = "./score"
    regex = '\f'

[[sets]]
id = 2

  [[sets.suites]]
  id = 21
  rubric_row_id = 102

    [[sets.suites.steps]]
    id = 4
    name = "io"
    type = "io_test"
    weight = 2.0
    hidden = true
    [sets.suites.steps.data]
    program = "./main"

      [[sets.suites.steps.data.inputs]]
      name = "echo"
      stdin = "hi"
      output = "hi"
      weight = 1.0
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := newRootCmd(zerolog.Nop())
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseDefinition(t *testing.T) {
	def, err := parseDefinition([]byte(sampleDefinition))
	require.NoError(t, err)
	require.Len(t, def.Sets, 2)
	require.Equal(t, 6.0, def.MaxPoints())

	suite := def.Sets[0].Suites[0]
	require.Equal(t, 10.0, suite.CommandTimeLimit)
	require.Equal(t, autotest.CheckPointsData{MinPoints: 1}, suite.Steps[1].Data)
	require.Equal(t, autotest.CustomOutputData{Program: "./score", Regex: `\f`}, suite.Steps[2].Data)

	io, ok := def.Sets[1].Suites[0].Steps[0].Data.(autotest.IOTestData)
	require.True(t, ok)
	require.Len(t, io.Inputs, 1)
	require.Equal(t, "hi", io.Inputs[0].Output)
	require.True(t, def.Sets[1].Suites[0].Steps[0].Hidden)

	_, err = parseDefinition([]byte("[[sets]]\nid = 1\n[[sets.suites]]\nid = 2\n[[sets.suites.steps]]\nid = 3\ntype = \"teleport\"\n"))
	require.ErrorIs(t, err, autotest.ErrUnknownStepType)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "validate", "--definition", writeFile(t, dir, "ok.toml", sampleDefinition))
	require.NoError(t, err)
	require.Contains(t, out, "definition is valid: 2 sets, 6 points")

	broken := "[[sets]]\nid = 1\n[[sets.suites]]\nid = 7\n"
	out, err = execute(t, "validate", "--definition", writeFile(t, dir, "broken.toml", broken))
	require.ErrorIs(t, err, errInvalidDefinition)
	require.Contains(t, out, "suite 7: You should have at least one step.")

	_, err = execute(t, "validate")
	require.Error(t, err)
}

func TestAggregateCommand(t *testing.T) {
	dir := t.TempDir()
	definition := writeFile(t, dir, "def.toml", sampleDefinition)

	first := writeFile(t, dir, "first.json", `{
		"id": 9,
		"results": [{"id": 1, "submission_id": 40, "state": "running", "step_results": [
			{"auto_test_step_id": 1, "state": "passed", "achieved_points": 1},
			{"auto_test_step_id": 42, "state": "passed", "achieved_points": 1}
		]}]
	}`)
	second := writeFile(t, dir, "second.json", `{
		"id": 9,
		"results": [{"id": 1, "submission_id": 40, "state": "passed", "step_results": [
			{"auto_test_step_id": 2, "state": "failed"},
			{"auto_test_step_id": 3, "state": "passed", "achieved_points": 3},
			{"auto_test_step_id": 4, "state": "passed", "achieved_points": 2}
		]}]
	}`)

	out, err := execute(t, "aggregate", "--definition", definition, "--snapshot", first, "--snapshot", second)
	require.NoError(t, err)

	var run dto.RunResponse
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	require.Equal(t, 9, run.ID)
	require.True(t, run.Finished)
	require.Len(t, run.Warnings, 1)
	require.Contains(t, run.Warnings[0], "step 42")

	result := run.Results[0]
	require.Equal(t, 1.0, result.Achieved, "the failed check_points step skips the rest of its suite")
	require.Equal(t, "skipped", result.Sets[0].Suites[0].Steps[2].State)
	require.True(t, result.Sets[0].StopPointFailed)
	require.Equal(t, 0.0, result.Sets[1].Suites[0].Steps[0].AchievedPoints)

	other := writeFile(t, dir, "other.json", `{"id": 10, "results": []}`)
	_, err = execute(t, "aggregate", "--definition", definition, "--snapshot", first, "--snapshot", other)
	require.Error(t, err)

	bad := writeFile(t, dir, "bad.json", `{"results": []}`)
	_, err = execute(t, "aggregate", "--definition", definition, "--snapshot", bad)
	require.Error(t, err)
}
