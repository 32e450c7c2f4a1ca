package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-autotest/internal/autotest"
	"github.com/noah-isme/gema-autotest/internal/dto"
	"github.com/noah-isme/gema-autotest/internal/service"
)

var errInvalidDefinition = errors.New("auto test definition has errors")

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := newRootCmd(logger).Execute(); err != nil {
		logger.Error().Err(err).Msg("autotestctl failed")
		os.Exit(1)
	}
}

func newRootCmd(logger zerolog.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "autotestctl",
		Short:         "Validate AutoTest definitions and aggregate run snapshots offline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newValidateCmd(), newAggregateCmd(logger))
	return rootCmd
}

func newValidateCmd() *cobra.Command {
	var definitionPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check every suite of a TOML AutoTest definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := readDefinition(definitionPath)
			if err != nil {
				return err
			}
			return writeValidation(cmd.OutOrStdout(), def)
		},
	}

	cmd.Flags().StringVarP(&definitionPath, "definition", "d", "", "AutoTest definition in TOML (required)")
	_ = cmd.MarkFlagRequired("definition")
	return cmd
}

func newAggregateCmd(logger zerolog.Logger) *cobra.Command {
	var definitionPath string
	var snapshotPaths []string

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Apply run snapshots in order and print the aggregated run",
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := readDefinition(definitionPath)
			if err != nil {
				return err
			}

			run, warnings, err := aggregate(def, snapshotPaths)
			for _, warning := range warnings {
				logger.Warn().Msg(warning)
			}
			if err != nil {
				return err
			}

			resp := dto.NewRunResponse(0, def, run, bluemonday.UGCPolicy())
			resp.Warnings = warnings
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVarP(&definitionPath, "definition", "d", "", "AutoTest definition in TOML (required)")
	cmd.Flags().StringSliceVarP(&snapshotPaths, "snapshot", "s", nil, "run snapshot JSON file, repeat to apply several in order (required)")
	_ = cmd.MarkFlagRequired("definition")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func aggregate(def autotest.AutoTest, snapshotPaths []string) (*autotest.Run, []string, error) {
	var run *autotest.Run
	var warnings []string

	for _, path := range snapshotPaths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, warnings, fmt.Errorf("failed to read snapshot: %w", err)
		}
		snap, err := service.DecodeRunSnapshot(raw)
		if err != nil {
			return nil, warnings, fmt.Errorf("%s: %w", path, err)
		}

		if run == nil {
			run = autotest.NewRun(snap.ID, time.Time{})
		} else if run.ID != snap.ID {
			return nil, warnings, fmt.Errorf("%s: snapshot of run %d cannot be merged into run %d", path, snap.ID, run.ID)
		}

		for _, issue := range run.Update(snap, def) {
			warnings = append(warnings, issue.Error())
		}
	}

	if run == nil {
		return nil, warnings, errors.New("no snapshot given")
	}
	return run, warnings, nil
}

func writeValidation(out io.Writer, def autotest.AutoTest) error {
	errs := def.Errors()
	if errs == nil {
		_, err := fmt.Fprintf(out, "definition is valid: %d sets, %s points\n", len(def.Sets), formatPoints(def.MaxPoints()))
		return err
	}

	ids := make([]int, 0, len(errs))
	for id := range errs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		label := fmt.Sprintf("suite %d", id)
		if id == 0 {
			label = "definition"
		}
		for _, msg := range errs[id].Messages() {
			if _, err := fmt.Fprintf(out, "%s: %s\n", label, msg); err != nil {
				return err
			}
		}
	}
	return errInvalidDefinition
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func formatPoints(v float64) string {
	return fmt.Sprintf("%g", v)
}
