package handler

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-autotest/internal/dto"
	"github.com/noah-isme/gema-autotest/internal/middleware"
	"github.com/noah-isme/gema-autotest/internal/service"
	"github.com/noah-isme/gema-autotest/internal/utils"
)

// AutoTestHandler exposes AutoTest definitions, run ingestion and result views.
type AutoTestHandler struct {
	service   service.AutoTestService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewAutoTestHandler constructs the handler.
func NewAutoTestHandler(service service.AutoTestService, validator *validator.Validate, logger zerolog.Logger) *AutoTestHandler {
	return &AutoTestHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "autotest_handler").Logger(),
	}
}

// Register attaches AutoTest endpoints to the router group.
func (h *AutoTestHandler) Register(router fiber.Router) {
	graders := middleware.RequireRole(middleware.GraderRoles...)

	router.Get("/assignments/:id", h.definition)
	router.Post("/assignments/:id/suites/validate", graders, h.validateSuite)
	router.Put("/assignments/:id/sets/:setId/suites", graders, h.saveSuite)
	router.Post("/assignments/:id/runs",
		middleware.RequireRole(middleware.SnapshotRoles...),
		middleware.RateLimit("autotest_runs", 30, time.Second, "id"),
		h.applyRun,
	)

	router.Get("/runs/:runId", h.run)
	router.Get("/runs/:runId/results/:resultId", h.result)
	router.Post("/runs/:runId/results/:resultId/restart", graders, h.restart)
}

func (h *AutoTestHandler) definition(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	def, err := h.service.Definition(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "auto test retrieved", def)
}

func (h *AutoTestHandler) validateSuite(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.SuiteRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid suite payload")
	}

	report, err := h.service.ValidateSuite(c.UserContext(), id, payload.Suite)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "suite validated", report)
}

func (h *AutoTestHandler) saveSuite(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	setID, err := parseIntParam(c, "setId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.SuiteRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid suite payload")
	}

	def, err := h.service.SaveSuite(c.UserContext(), id, setID, payload.Suite)
	if err != nil {
		var invalid *service.SuiteValidationError
		if errors.As(err, &invalid) {
			return utils.SendErrorWithData(c, fiber.StatusUnprocessableEntity, "suite is invalid", dto.NewSuiteValidationResponse(invalid.Errors))
		}
		return h.handleError(c, err)
	}

	requestLogger(h.logger, c).Info().Uint("assignment_id", id).Int("set_id", setID).Int("suite_id", payload.Suite.ID).Msg("suite saved")
	return utils.SendSuccess(c, "suite saved", def)
}

func (h *AutoTestHandler) applyRun(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	run, err := h.service.ApplyRunSnapshot(c.UserContext(), id, c.Body())
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "run snapshot applied", run)
}

func (h *AutoTestHandler) run(c *fiber.Ctx) error {
	runID, err := parseIntParam(c, "runId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	run, err := h.service.Run(c.UserContext(), runID)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "run retrieved", run)
}

func (h *AutoTestHandler) result(c *fiber.Ctx) error {
	runID, resultID, err := parseResultParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Result(c.UserContext(), runID, resultID)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "result retrieved", result)
}

func (h *AutoTestHandler) restart(c *fiber.Ctx) error {
	runID, resultID, err := parseResultParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Restart(c.UserContext(), runID, resultID)
	if err != nil {
		return h.handleError(c, err)
	}

	requestLogger(h.logger, c).Info().Int("run_id", runID).Int("result_id", resultID).Uint("actor_id", userIDFromContext(c)).Msg("result restarted")
	return utils.SendSuccess(c, "result restarted", result)
}

func (h *AutoTestHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrAssignmentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
	case errors.Is(err, service.ErrAutoTestNotConfigured):
		return utils.SendError(c, fiber.StatusNotFound, "auto test not configured")
	case errors.Is(err, service.ErrSetNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "auto test set not found")
	case errors.Is(err, service.ErrRunNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "run not found")
	case errors.Is(err, service.ErrResultNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "result not found")
	case errors.Is(err, service.ErrInvalidSnapshot):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func parseResultParams(c *fiber.Ctx) (int, int, error) {
	runID, err := parseIntParam(c, "runId")
	if err != nil {
		return 0, 0, err
	}
	resultID, err := parseIntParam(c, "resultId")
	if err != nil {
		return 0, 0, err
	}
	return runID, resultID, nil
}
