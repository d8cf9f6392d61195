// Package web provides HTTP handlers and REST API endpoints for triggering and controlling executions.
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/flowrun/pkg/analytics"
	"github.com/dukex/flowrun/pkg/control"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	executionService *services.Execution
	controlService   *control.Service
	aggregator       *analytics.Aggregator
	validator        *validator.Validate
}

func NewAPIHandlers(
	executionService *services.Execution,
	controlService *control.Service,
	aggregator *analytics.Aggregator,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		executionService: executionService,
		controlService:   controlService,
		aggregator:       aggregator,
		validator:        validator,
	}
}

// Register mounts every execution and analytics route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	e := router.Group("/executions")
	e.Post("/", h.TriggerExecution)
	e.Get("/:id", h.GetExecution)
	e.Get("/:id/nodes", h.GetNodeExecutions)
	e.Post("/:id/pause", h.PauseExecution)
	e.Post("/:id/resume", h.ResumeExecution)
	e.Post("/:id/cancel", h.CancelExecution)

	router.Get("/workflows/:id/analytics", h.GetWorkflowAnalytics)
	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) TriggerExecution(c fiber.Ctx) error {
	var req TriggerExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.executionService.Trigger(c.Context(), services.TriggerRequest{
		WorkflowID:  req.WorkflowID,
		TriggeredBy: req.TriggeredBy,
	})
	if err != nil {
		return handleServiceError(c, err, execution)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.executionService.GetExecution(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err, nil)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetNodeExecutions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	rows, err := h.executionService.NodeExecutions(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err, nil)
	}

	return c.JSON(NodeExecutionsResponse{
		ExecutionID:    id,
		NodeExecutions: rows,
	})
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	return h.control(c, h.controlService.Pause)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	return h.control(c, h.controlService.Resume)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	return h.control(c, h.controlService.Cancel)
}

func (h *APIHandlers) control(
	c fiber.Ctx,
	operation func(ctx context.Context, executionID string) (*models.Execution, error),
) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := operation(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err, execution)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetWorkflowAnalytics(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	days := DefaultAnalyticsDays

	if daysStr := c.Query("days"); daysStr != "" {
		parsed, err := strconv.Atoi(daysStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: days must be an integer")
		}

		days = parsed
	}

	summary, err := h.aggregator.Summary(c.Context(), id, days)
	if err != nil {
		return handleServiceError(c, err, nil)
	}

	return c.JSON(summary)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.executionService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Flowrun API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Flowrun API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
