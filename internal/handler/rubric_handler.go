package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-autotest/internal/dto"
	"github.com/noah-isme/gema-autotest/internal/middleware"
	"github.com/noah-isme/gema-autotest/internal/service"
	"github.com/noah-isme/gema-autotest/internal/utils"
)

// RubricHandler exposes rubric results and manual selections of submissions.
type RubricHandler struct {
	service   service.RubricService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewRubricHandler constructs the handler.
func NewRubricHandler(service service.RubricService, validator *validator.Validate, logger zerolog.Logger) *RubricHandler {
	return &RubricHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "rubric_handler").Logger(),
	}
}

// Register attaches rubric endpoints to the router group.
func (h *RubricHandler) Register(router fiber.Router) {
	router.Get("/assignments/:id/submissions/:submissionId", h.result)
	router.Put("/assignments/:id/submissions/:submissionId", middleware.RequireRole(middleware.GraderRoles...), h.selectItem)
}

func (h *RubricHandler) result(c *fiber.Ctx) error {
	assignmentID, submissionID, runID, err := parseRubricParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Compute(c.UserContext(), assignmentID, submissionID, runID)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "rubric result retrieved", result)
}

func (h *RubricHandler) selectItem(c *fiber.Ctx) error {
	assignmentID, submissionID, runID, err := parseRubricParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.RubricSelectionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid selection payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Select(c.UserContext(), assignmentID, submissionID, runID, payload, userIDFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	requestLogger(h.logger, c).Info().
		Uint("assignment_id", assignmentID).
		Uint("submission_id", submissionID).
		Int("row_id", payload.RowID).
		Msg("rubric selection updated")
	return utils.SendSuccess(c, "rubric selection updated", result)
}

func (h *RubricHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrAssignmentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
	case errors.Is(err, service.ErrRunNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "run not found")
	case errors.Is(err, service.ErrRowLocked):
		return utils.SendError(c, fiber.StatusConflict, "rubric row is filled in by auto test")
	case errors.Is(err, service.ErrInvalidSelection):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func parseRubricParams(c *fiber.Ctx) (uint, uint, *int, error) {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return 0, 0, nil, err
	}
	submissionID, err := parseUintParam(c, "submissionId")
	if err != nil {
		return 0, 0, nil, err
	}

	raw := strings.TrimSpace(c.Query("run_id"))
	if raw == "" {
		return assignmentID, submissionID, nil, nil
	}
	runID, err := strconv.Atoi(raw)
	if err != nil || runID <= 0 {
		return 0, 0, nil, errors.New("invalid run_id")
	}
	return assignmentID, submissionID, &runID, nil
}
