package service

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/noah-isme/gema-autotest/internal/autotest"
)

const runSnapshotSchemaURL = "https://gema.local/schemas/run_snapshot.schema.json"

//go:embed schemas/run_snapshot.schema.json
var runSnapshotSchemaJSON string

var (
	runSnapshotSchemaOnce sync.Once
	runSnapshotSchema     *jsonschema.Schema
	runSnapshotSchemaErr  error
)

func compiledRunSnapshotSchema() (*jsonschema.Schema, error) {
	runSnapshotSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(runSnapshotSchemaURL, strings.NewReader(runSnapshotSchemaJSON)); err != nil {
			runSnapshotSchemaErr = err
			return
		}
		runSnapshotSchema, runSnapshotSchemaErr = compiler.Compile(runSnapshotSchemaURL)
	})
	return runSnapshotSchema, runSnapshotSchemaErr
}

// DecodeRunSnapshot validates a raw run snapshot against its JSON schema and decodes it.
func DecodeRunSnapshot(raw []byte) (autotest.RunSnapshot, error) {
	schema, err := compiledRunSnapshotSchema()
	if err != nil {
		return autotest.RunSnapshot{}, fmt.Errorf("compile run snapshot schema: %w", err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return autotest.RunSnapshot{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if err := schema.Validate(doc); err != nil {
		return autotest.RunSnapshot{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	var snap autotest.RunSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return autotest.RunSnapshot{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return snap, nil
}
