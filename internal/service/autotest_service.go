package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-autotest/internal/autotest"
	"github.com/noah-isme/gema-autotest/internal/dto"
	"github.com/noah-isme/gema-autotest/internal/middleware"
	"github.com/noah-isme/gema-autotest/internal/models"
	"github.com/noah-isme/gema-autotest/internal/observability"
	"github.com/noah-isme/gema-autotest/internal/repository"
)

var (
	// ErrAssignmentNotFound indicates the assignment does not exist.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrAutoTestNotConfigured indicates the assignment has no AutoTest definition.
	ErrAutoTestNotConfigured = errors.New("assignment has no auto test configured")
	// ErrSetNotFound indicates the AutoTest set does not exist.
	ErrSetNotFound = errors.New("auto test set not found")
	// ErrRunNotFound indicates the run is unknown or belongs to another assignment.
	ErrRunNotFound = errors.New("auto test run not found")
	// ErrResultNotFound indicates the run has no such result.
	ErrResultNotFound = errors.New("auto test result not found")
	// ErrInvalidSnapshot indicates a run snapshot payload was rejected.
	ErrInvalidSnapshot = errors.New("invalid run snapshot")
	// ErrSuiteInvalid indicates a suite failed validation.
	ErrSuiteInvalid = errors.New("auto test suite is invalid")
)

const natsQueueGroup = "gema-autotest"

// SuiteValidationError carries the structured validation errors of a rejected suite.
type SuiteValidationError struct {
	Errors *autotest.SuiteErrors
}

func (e *SuiteValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSuiteInvalid.Error(), e.Errors.Error())
}

func (e *SuiteValidationError) Unwrap() error {
	return ErrSuiteInvalid
}

// AutoTestService manages AutoTest definitions and aggregates pushed run results.
type AutoTestService interface {
	Definition(ctx context.Context, assignmentID uint) (dto.AutoTestDefinitionResponse, error)
	ValidateSuite(ctx context.Context, assignmentID uint, suite autotest.Suite) (dto.SuiteValidationResponse, error)
	SaveSuite(ctx context.Context, assignmentID uint, setID int, suite autotest.Suite) (dto.AutoTestDefinitionResponse, error)
	ApplyRunSnapshot(ctx context.Context, assignmentID uint, raw []byte) (dto.RunResponse, error)
	Run(ctx context.Context, runID int) (dto.RunResponse, error)
	Result(ctx context.Context, runID, resultID int) (dto.ResultResponse, error)
	Restart(ctx context.Context, runID, resultID int) (dto.ResultResponse, error)
	SubmissionResult(ctx context.Context, assignmentID uint, runID, submissionID int) (*autotest.Result, error)
	Start(ctx context.Context)
}

// runEntry guards one run. Every read or write of the run holds mu.
type runEntry struct {
	mu           sync.Mutex
	assignmentID uint
	run          *autotest.Run
}

type autoTestService struct {
	assignments repository.AssignmentRepository
	runs        repository.AutoTestRunRepository
	cache       *redis.Client
	cacheTTL    time.Duration
	nats        *nats.Conn
	natsSubject string
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	sanitizer   *bluemonday.Policy
	now         func() time.Time

	mu       sync.Mutex
	registry map[int]*runEntry
}

// AutoTestServiceConfig groups the optional infrastructure of the AutoTest service.
type AutoTestServiceConfig struct {
	Cache       *redis.Client
	CacheTTL    time.Duration
	NATS        *nats.Conn
	NATSSubject string
}

// NewAutoTestService constructs the AutoTest service.
func NewAutoTestService(assignments repository.AssignmentRepository, runs repository.AutoTestRunRepository, cfg AutoTestServiceConfig, validate *validator.Validate, logger zerolog.Logger) AutoTestService {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}

	return &autoTestService{
		assignments: assignments,
		runs:        runs,
		cache:       cfg.Cache,
		cacheTTL:    ttl,
		nats:        cfg.NATS,
		natsSubject: cfg.NATSSubject,
		validator:   validate,
		logger:      logger.With().Str("component", "autotest_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-autotest/internal/service/autotest"),
		sanitizer:   bluemonday.StrictPolicy(),
		now:         time.Now,
		registry:    make(map[int]*runEntry),
	}
}

func (s *autoTestService) Definition(ctx context.Context, assignmentID uint) (dto.AutoTestDefinitionResponse, error) {
	assignment, def, err := s.loadDefinition(ctx, assignmentID)
	if err != nil {
		return dto.AutoTestDefinitionResponse{}, err
	}

	rub, err := assignment.DecodeRubric()
	if err != nil {
		return dto.AutoTestDefinitionResponse{}, err
	}
	return dto.NewAutoTestDefinitionResponse(assignmentID, def, rub.HasRow), nil
}

func (s *autoTestService) ValidateSuite(ctx context.Context, assignmentID uint, suite autotest.Suite) (dto.SuiteValidationResponse, error) {
	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return dto.SuiteValidationResponse{}, err
	}

	errs, err := s.suiteErrors(assignment, suite)
	if err != nil {
		return dto.SuiteValidationResponse{}, err
	}
	return dto.NewSuiteValidationResponse(errs), nil
}

func (s *autoTestService) SaveSuite(ctx context.Context, assignmentID uint, setID int, suite autotest.Suite) (dto.AutoTestDefinitionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "autotest.save_suite", trace.WithAttributes(
		attribute.Int64("autotest.assignment_id", int64(assignmentID)),
		attribute.Int("autotest.set_id", setID),
		attribute.Int("autotest.suite_id", suite.ID),
	))
	defer span.End()

	assignment, def, err := s.loadDefinition(ctx, assignmentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "definition_lookup_failed")
		return dto.AutoTestDefinitionResponse{}, err
	}

	errs, err := s.suiteErrors(assignment, suite)
	if err != nil {
		return dto.AutoTestDefinitionResponse{}, err
	}
	if errs != nil {
		span.SetStatus(codes.Error, "suite_invalid")
		return dto.AutoTestDefinitionResponse{}, &SuiteValidationError{Errors: errs}
	}

	updated, ok := def.WithSuite(setID, suite)
	if !ok {
		span.SetStatus(codes.Error, "set_not_found")
		return dto.AutoTestDefinitionResponse{}, ErrSetNotFound
	}
	if err := assignment.SetAutoTest(updated); err != nil {
		return dto.AutoTestDefinitionResponse{}, err
	}
	if err := s.assignments.Update(ctx, &assignment); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assignment_update_failed")
		return dto.AutoTestDefinitionResponse{}, err
	}

	s.refreshRuns(ctx, assignmentID, updated)

	rub, err := assignment.DecodeRubric()
	if err != nil {
		return dto.AutoTestDefinitionResponse{}, err
	}
	return dto.NewAutoTestDefinitionResponse(assignmentID, updated, rub.HasRow), nil
}

func (s *autoTestService) ApplyRunSnapshot(ctx context.Context, assignmentID uint, raw []byte) (dto.RunResponse, error) {
	return s.apply(ctx, assignmentID, raw, "http")
}

func (s *autoTestService) apply(ctx context.Context, assignmentID uint, raw []byte, source string) (dto.RunResponse, error) {
	ctx, span := s.tracer.Start(ctx, "autotest.apply_snapshot", trace.WithAttributes(
		attribute.Int64("autotest.assignment_id", int64(assignmentID)),
		attribute.String("autotest.source", source),
	))
	defer span.End()

	snap, err := DecodeRunSnapshot(raw)
	if err != nil {
		observability.SnapshotsRejected().WithLabelValues("schema").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot_invalid")
		return dto.RunResponse{}, err
	}
	span.SetAttributes(attribute.Int("autotest.run_id", snap.ID), attribute.Int("autotest.results", len(snap.Results)))

	_, def, err := s.loadDefinition(ctx, assignmentID)
	if err != nil {
		observability.SnapshotsRejected().WithLabelValues("definition").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "definition_lookup_failed")
		return dto.RunResponse{}, err
	}

	entry, err := s.entryForSnapshot(ctx, assignmentID, snap)
	if err != nil {
		observability.SnapshotsRejected().WithLabelValues("run").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "run_lookup_failed")
		return dto.RunResponse{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	event := models.AutoTestEvent{
		RunID:      uint(snap.ID),
		Kind:       models.AutoTestEventSnapshot,
		Payload:    datatypes.JSON(raw),
		ReceivedAt: s.now(),
	}
	if err := s.runs.AppendEvent(ctx, &event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "event_persist_failed")
		return dto.RunResponse{}, err
	}

	wasFinished := make(map[int]bool, len(snap.Results))
	for _, resultSnap := range snap.Results {
		if result, ok := entry.run.Result(resultSnap.ID); ok {
			wasFinished[result.ID] = result.Finished()
		}
	}

	issues := entry.run.Update(snap, def)
	observability.SnapshotsApplied().WithLabelValues(source).Inc()

	warnings := s.reportIssues(ctx, snap.ID, issues)
	resultIDs := make([]int, 0, len(snap.Results))
	for _, resultSnap := range snap.Results {
		resultIDs = append(resultIDs, resultSnap.ID)
		if result, ok := entry.run.Result(resultSnap.ID); ok && result.Finished() && !wasFinished[result.ID] {
			observability.ResultsFinished().Inc()
		}
	}
	s.invalidate(ctx, snap.ID, resultIDs...)

	resp := dto.NewRunResponse(assignmentID, def, entry.run, s.sanitizer)
	resp.Warnings = warnings
	return resp, nil
}

func (s *autoTestService) reportIssues(ctx context.Context, runID int, issues []error) []string {
	logger := middleware.LoggerWithCorrelation(ctx, s.logger)
	var warnings []string
	for _, issue := range issues {
		var unknown autotest.UnknownStepError
		if errors.As(issue, &unknown) {
			observability.UnknownStepResults().Inc()
			logger.Warn().
				Int("run_id", runID).
				Int("result_id", unknown.ResultID).
				Int("step_id", unknown.StepID).
				Msg("step result references a step outside the auto test definition")
		} else {
			logger.Warn().Err(issue).Int("run_id", runID).Msg("run snapshot issue")
		}
		warnings = append(warnings, issue.Error())
	}
	return warnings
}

func (s *autoTestService) Run(ctx context.Context, runID int) (dto.RunResponse, error) {
	entry, err := s.loadRun(ctx, runID)
	if err != nil {
		return dto.RunResponse{}, err
	}
	_, def, err := s.loadDefinition(ctx, entry.assignmentID)
	if err != nil {
		return dto.RunResponse{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return dto.NewRunResponse(entry.assignmentID, def, entry.run, s.sanitizer), nil
}

func (s *autoTestService) Result(ctx context.Context, runID, resultID int) (dto.ResultResponse, error) {
	if cached, ok := s.fetchCache(ctx, runID, resultID); ok {
		return cached, nil
	}

	entry, err := s.loadRun(ctx, runID)
	if err != nil {
		return dto.ResultResponse{}, err
	}
	_, def, err := s.loadDefinition(ctx, entry.assignmentID)
	if err != nil {
		return dto.ResultResponse{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	result, ok := entry.run.Result(resultID)
	if !ok {
		return dto.ResultResponse{}, ErrResultNotFound
	}
	resp := dto.NewResultResponse(runID, def, result, s.sanitizer)
	// Stored under entry.mu so a concurrent update cannot invalidate before the view lands.
	s.storeCache(ctx, resp)
	return resp, nil
}

func (s *autoTestService) Restart(ctx context.Context, runID, resultID int) (dto.ResultResponse, error) {
	ctx, span := s.tracer.Start(ctx, "autotest.restart_result", trace.WithAttributes(
		attribute.Int("autotest.run_id", runID),
		attribute.Int("autotest.result_id", resultID),
	))
	defer span.End()

	entry, err := s.loadRun(ctx, runID)
	if err != nil {
		span.RecordError(err)
		return dto.ResultResponse{}, err
	}
	_, def, err := s.loadDefinition(ctx, entry.assignmentID)
	if err != nil {
		span.RecordError(err)
		return dto.ResultResponse{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if _, ok := entry.run.Result(resultID); !ok {
		span.SetStatus(codes.Error, "result_not_found")
		return dto.ResultResponse{}, ErrResultNotFound
	}

	event := models.AutoTestEvent{
		RunID:      uint(runID),
		Kind:       models.AutoTestEventRestart,
		ResultID:   resultID,
		ReceivedAt: s.now(),
	}
	if err := s.runs.AppendEvent(ctx, &event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "event_persist_failed")
		return dto.ResultResponse{}, err
	}

	entry.run.Restart(resultID, def)
	observability.ResultRestarts().Inc()
	s.invalidate(ctx, runID, resultID)

	result, _ := entry.run.Result(resultID)
	return dto.NewResultResponse(runID, def, result, s.sanitizer), nil
}

func (s *autoTestService) SubmissionResult(ctx context.Context, assignmentID uint, runID, submissionID int) (*autotest.Result, error) {
	entry, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if entry.assignmentID != assignmentID {
		return nil, ErrRunNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	result, ok := entry.run.ResultForSubmission(submissionID)
	if !ok {
		return nil, ErrResultNotFound
	}
	return result.Clone(), nil
}

// Start subscribes to pushed run snapshots until ctx is cancelled.
func (s *autoTestService) Start(ctx context.Context) {
	if s.nats == nil || s.natsSubject == "" {
		return
	}

	sub, err := s.nats.QueueSubscribe(s.natsSubject, natsQueueGroup, func(msg *nats.Msg) {
		msgCtx := middleware.ContextWithCorrelation(ctx, msg.Header.Get(middleware.CorrelationHeader))
		s.handleMessage(msgCtx, msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("subject", s.natsSubject).Msg("failed to subscribe to auto test results subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain auto test results subscription")
		}
	}()
}

func (s *autoTestService) handleMessage(ctx context.Context, payload []byte) {
	logger := middleware.LoggerWithCorrelation(ctx, s.logger)

	var envelope dto.RunSnapshotEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		observability.SnapshotsRejected().WithLabelValues("envelope").Inc()
		logger.Warn().Err(err).Msg("invalid auto test result message")
		return
	}
	if err := s.validator.Struct(envelope); err != nil {
		observability.SnapshotsRejected().WithLabelValues("envelope").Inc()
		logger.Warn().Err(err).Msg("incomplete auto test result message")
		return
	}

	if _, err := s.apply(ctx, envelope.AssignmentID, envelope.Run, "nats"); err != nil {
		logger.Warn().Err(err).Uint("assignment_id", envelope.AssignmentID).Msg("failed to apply pushed run snapshot")
	}
}

func (s *autoTestService) loadAssignment(ctx context.Context, assignmentID uint) (models.Assignment, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		if isNotFound(err) {
			return models.Assignment{}, ErrAssignmentNotFound
		}
		return models.Assignment{}, err
	}
	return assignment, nil
}

func (s *autoTestService) loadDefinition(ctx context.Context, assignmentID uint) (models.Assignment, autotest.AutoTest, error) {
	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return models.Assignment{}, autotest.AutoTest{}, err
	}

	def, ok, err := assignment.DecodeAutoTest()
	if err != nil {
		return models.Assignment{}, autotest.AutoTest{}, err
	}
	if !ok {
		return models.Assignment{}, autotest.AutoTest{}, ErrAutoTestNotConfigured
	}
	return assignment, def, nil
}

// suiteErrors runs the structural checks and verifies the linked rubric row exists.
func (s *autoTestService) suiteErrors(assignment models.Assignment, suite autotest.Suite) (*autotest.SuiteErrors, error) {
	rub, err := assignment.DecodeRubric()
	if err != nil {
		return nil, err
	}

	errs := suite.Errors()
	if suite.RubricRowID != 0 && !rub.HasRow(suite.RubricRowID) {
		if errs == nil {
			errs = &autotest.SuiteErrors{}
		}
		errs.General = append(errs.General, "The selected rubric category does not exist.")
	}
	return errs, nil
}

// entryForSnapshot finds the run a snapshot belongs to, creating it on first sight.
func (s *autoTestService) entryForSnapshot(ctx context.Context, assignmentID uint, snap autotest.RunSnapshot) (*runEntry, error) {
	entry, err := s.loadRun(ctx, snap.ID)
	switch {
	case err == nil:
		if entry.assignmentID != assignmentID {
			return nil, fmt.Errorf("%w: run %d belongs to assignment %d", ErrInvalidSnapshot, snap.ID, entry.assignmentID)
		}
		return entry, nil
	case !errors.Is(err, ErrRunNotFound):
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.registry[snap.ID]; ok {
		if existing.assignmentID != assignmentID {
			return nil, fmt.Errorf("%w: run %d belongs to assignment %d", ErrInvalidSnapshot, snap.ID, existing.assignmentID)
		}
		return existing, nil
	}

	record := models.AutoTestRun{ID: uint(snap.ID), AssignmentID: assignmentID, CreatedAt: snap.CreatedAt}
	if err := s.runs.EnsureRun(ctx, &record); err != nil {
		return nil, err
	}

	entry = &runEntry{assignmentID: assignmentID, run: autotest.NewRun(snap.ID, snap.CreatedAt)}
	s.registry[snap.ID] = entry
	return entry, nil
}

// loadRun returns the registered run, replaying its event log after a process restart.
// The replay runs without s.mu; the first replay to register wins.
func (s *autoTestService) loadRun(ctx context.Context, runID int) (*runEntry, error) {
	s.mu.Lock()
	entry, ok := s.registry[runID]
	s.mu.Unlock()
	if ok {
		return entry, nil
	}
	if runID <= 0 {
		return nil, ErrRunNotFound
	}

	record, err := s.runs.GetRun(ctx, uint(runID))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	_, def, err := s.loadDefinition(ctx, record.AssignmentID)
	if err != nil {
		return nil, err
	}

	events, err := s.runs.ListEvents(ctx, record.ID)
	if err != nil {
		return nil, err
	}

	run := autotest.NewRun(runID, record.CreatedAt)
	for _, event := range events {
		switch event.Kind {
		case models.AutoTestEventSnapshot:
			var snap autotest.RunSnapshot
			if err := json.Unmarshal(event.Payload, &snap); err != nil {
				s.logger.Warn().Err(err).Uint("event_id", event.ID).Msg("skipping unreadable run event")
				continue
			}
			run.Update(snap, def)
			observability.SnapshotsApplied().WithLabelValues("replay").Inc()
		case models.AutoTestEventRestart:
			run.Restart(event.ResultID, def)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.registry[runID]; ok {
		return existing, nil
	}
	entry = &runEntry{assignmentID: record.AssignmentID, run: run}
	s.registry[runID] = entry
	s.logger.Debug().Int("run_id", runID).Int("events", len(events)).Msg("rebuilt auto test run from event log")
	return entry, nil
}

func (s *autoTestService) refreshRuns(ctx context.Context, assignmentID uint, def autotest.AutoTest) {
	s.mu.Lock()
	entries := make([]*runEntry, 0, len(s.registry))
	for _, entry := range s.registry {
		if entry.assignmentID == assignmentID {
			entries = append(entries, entry)
		}
	}
	s.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
		entry.run.Refresh(def)
		ids := make([]int, 0)
		for _, result := range entry.run.Results() {
			ids = append(ids, result.ID)
		}
		s.invalidate(ctx, entry.run.ID, ids...)
		entry.mu.Unlock()
	}
}

func resultCacheKey(runID, resultID int) string {
	return fmt.Sprintf("autotest:result:%d:%d", runID, resultID)
}

func (s *autoTestService) fetchCache(ctx context.Context, runID, resultID int) (dto.ResultResponse, bool) {
	if s.cache == nil {
		return dto.ResultResponse{}, false
	}
	payload, err := s.cache.Get(ctx, resultCacheKey(runID, resultID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read auto test result cache")
		}
		return dto.ResultResponse{}, false
	}

	var resp dto.ResultResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		s.logger.Warn().Err(err).Msg("failed to decode auto test result cache")
		return dto.ResultResponse{}, false
	}
	return resp, true
}

func (s *autoTestService) storeCache(ctx context.Context, resp dto.ResultResponse) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode auto test result cache")
		return
	}
	if err := s.cache.Set(ctx, resultCacheKey(resp.RunID, resp.ID), payload, s.cacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to store auto test result cache")
	}
}

func (s *autoTestService) invalidate(ctx context.Context, runID int, resultIDs ...int) {
	if s.cache == nil || len(resultIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(resultIDs))
	for _, id := range resultIDs {
		keys = append(keys, resultCacheKey(runID, id))
	}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn().Err(err).Str("keys", strings.Join(keys, ",")).Msg("failed to invalidate auto test result cache")
	}
}
