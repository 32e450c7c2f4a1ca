package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-autotest/internal/autotest"
	"github.com/noah-isme/gema-autotest/internal/dto"
	"github.com/noah-isme/gema-autotest/internal/models"
	"github.com/noah-isme/gema-autotest/internal/repository"
	"github.com/noah-isme/gema-autotest/internal/rubric"
)

var (
	// ErrRowLocked indicates a manual selection targeted a row filled in by AutoTest.
	ErrRowLocked = errors.New("rubric row is locked by auto test")
	// ErrInvalidSelection indicates the selection does not resolve against the rubric.
	ErrInvalidSelection = errors.New("invalid rubric selection")
)

// AutoTestResultSource resolves the AutoTest result of a submission within a run.
type AutoTestResultSource interface {
	SubmissionResult(ctx context.Context, assignmentID uint, runID, submissionID int) (*autotest.Result, error)
}

// RubricService computes rubric results and records manual selections.
type RubricService interface {
	Compute(ctx context.Context, assignmentID, submissionID uint, runID *int) (dto.RubricResultResponse, error)
	Select(ctx context.Context, assignmentID, submissionID uint, runID *int, payload dto.RubricSelectionRequest, actorID uint) (dto.RubricResultResponse, error)
}

type rubricService struct {
	assignments repository.AssignmentRepository
	selections  repository.RubricSelectionRepository
	autotests   AutoTestResultSource
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	sanitizer   *bluemonday.Policy
}

// NewRubricService constructs the rubric service. autotests may be nil when AutoTest is disabled.
func NewRubricService(assignments repository.AssignmentRepository, selections repository.RubricSelectionRepository, autotests AutoTestResultSource, validate *validator.Validate, logger zerolog.Logger) RubricService {
	return &rubricService{
		assignments: assignments,
		selections:  selections,
		autotests:   autotests,
		validator:   validate,
		logger:      logger.With().Str("component", "rubric_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-autotest/internal/service/rubric"),
		sanitizer:   bluemonday.UGCPolicy(),
	}
}

func (s *rubricService) Compute(ctx context.Context, assignmentID, submissionID uint, runID *int) (dto.RubricResultResponse, error) {
	attrs := []attribute.KeyValue{
		attribute.Int64("rubric.assignment_id", int64(assignmentID)),
		attribute.Int64("rubric.submission_id", int64(submissionID)),
	}
	if runID != nil {
		attrs = append(attrs, attribute.Int("rubric.run_id", *runID))
	}
	ctx, span := s.tracer.Start(ctx, "rubric.compute", trace.WithAttributes(attrs...))
	defer span.End()

	assignment, rub, err := s.loadRubric(ctx, assignmentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rubric_lookup_failed")
		return dto.RubricResultResponse{}, err
	}

	stored, err := s.selections.ListForSubmission(ctx, assignmentID, submissionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "selection_lookup_failed")
		return dto.RubricResultResponse{}, err
	}
	selected := make(map[int]rubric.Selection, len(stored))
	for _, sel := range stored {
		selected[sel.RowID] = rubric.Selection{ItemID: sel.ItemID, Multiplier: sel.Multiplier}
	}
	manual := rubric.NewResult(int(submissionID), selected)

	def, _, err := assignment.DecodeAutoTest()
	if err != nil {
		span.RecordError(err)
		return dto.RubricResultResponse{}, err
	}

	var atResult *autotest.Result
	if runID != nil && s.autotests != nil {
		atResult, err = s.autotests.SubmissionResult(ctx, assignmentID, *runID, int(submissionID))
		switch {
		case errors.Is(err, ErrResultNotFound):
			atResult = nil
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, "autotest_lookup_failed")
			return dto.RubricResultResponse{}, err
		}
	}

	result := manual.WithAutoTest(rub, def, atResult)
	if err := result.Validate(rub); err != nil {
		s.logger.Warn().Err(err).Uint("assignment_id", assignmentID).Uint("submission_id", submissionID).Msg("stored rubric selections do not match the rubric")
	}

	resp := dto.RubricResultResponse{
		AssignmentID:     assignmentID,
		SubmissionID:     submissionID,
		RunID:            runID,
		AutoTestFinished: atResult != nil && atResult.Finished(),
		Rows:             make([]dto.RubricRowResponse, 0, len(rub.Rows)),
		Points:           result.Points(rub),
		MaxPoints:        rubric.MaxPoints(rub, assignment.FixedMaxRubricPoints),
	}
	for _, row := range rub.Rows {
		resp.Rows = append(resp.Rows, dto.NewRubricRowResponse(row, result, rubric.LockMessage(row, def, atResult), s.sanitizer))
	}
	if grade, ok := result.Grade(rub, assignment.FixedMaxRubricPoints); ok {
		resp.Grade = &grade
		resp.GradeText = rubric.FormatGrade(grade)
	}

	span.SetAttributes(attribute.Float64("rubric.points", resp.Points))
	return resp, nil
}

func (s *rubricService) Select(ctx context.Context, assignmentID, submissionID uint, runID *int, payload dto.RubricSelectionRequest, actorID uint) (dto.RubricResultResponse, error) {
	ctx, span := s.tracer.Start(ctx, "rubric.select", trace.WithAttributes(
		attribute.Int64("rubric.assignment_id", int64(assignmentID)),
		attribute.Int64("rubric.submission_id", int64(submissionID)),
		attribute.Int("rubric.row_id", payload.RowID),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.RubricResultResponse{}, err
	}

	_, rub, err := s.loadRubric(ctx, assignmentID)
	if err != nil {
		span.RecordError(err)
		return dto.RubricResultResponse{}, err
	}

	row, ok := rub.Row(payload.RowID)
	if !ok {
		return dto.RubricResultResponse{}, fmt.Errorf("%w: %w %d", ErrInvalidSelection, rubric.ErrUnknownRow, payload.RowID)
	}
	if rubric.Locked(row) {
		span.SetStatus(codes.Error, "row_locked")
		return dto.RubricResultResponse{}, ErrRowLocked
	}

	if payload.ItemID == nil {
		if err := s.selections.Delete(ctx, assignmentID, submissionID, payload.RowID); err != nil {
			span.RecordError(err)
			return dto.RubricResultResponse{}, err
		}
		return s.Compute(ctx, assignmentID, submissionID, runID)
	}

	multiplier := 1.0
	if _, continuous := row.(rubric.ContinuousRow); continuous && payload.Multiplier != nil {
		multiplier = *payload.Multiplier
	}

	candidate := rubric.NewResult(int(submissionID), nil).Select(payload.RowID, *payload.ItemID, multiplier)
	if err := candidate.Validate(rub); err != nil {
		return dto.RubricResultResponse{}, fmt.Errorf("%w: %w", ErrInvalidSelection, err)
	}

	selection := models.RubricSelection{
		AssignmentID: assignmentID,
		SubmissionID: submissionID,
		RowID:        payload.RowID,
		ItemID:       *payload.ItemID,
		Multiplier:   multiplier,
		SelectedBy:   actorID,
	}
	if err := s.selections.Upsert(ctx, &selection); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "selection_persist_failed")
		return dto.RubricResultResponse{}, err
	}

	return s.Compute(ctx, assignmentID, submissionID, runID)
}

func (s *rubricService) loadRubric(ctx context.Context, assignmentID uint) (models.Assignment, rubric.Rubric, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		if isNotFound(err) {
			return models.Assignment{}, rubric.Rubric{}, ErrAssignmentNotFound
		}
		return models.Assignment{}, rubric.Rubric{}, err
	}

	rub, err := assignment.DecodeRubric()
	if err != nil {
		return models.Assignment{}, rubric.Rubric{}, err
	}
	return assignment, rub, nil
}
