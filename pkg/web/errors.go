package web

import (
	"errors"
	"fmt"

	"github.com/dukex/flowrun/pkg/analytics"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/queue"
	"github.com/dukex/flowrun/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

// handleServiceError maps service, store and queue errors to problem responses. current is the
// execution row returned alongside the error, if any: the row of a rejected transition or the
// execution failed by an unavailable queue.
func handleServiceError(c fiber.Ctx, err error, current *models.Execution) error {
	switch {
	case services.IsValidationError(err), errors.Is(err, analytics.ErrInvalidWindow):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("validation_error").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case persistence.IsExecutionNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("execution_not_found").
			WithDetail("execution not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case persistence.IsWorkflowNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("workflow_not_found").
			WithDetail("workflow not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case persistence.IsInvalidTransition(err):
		detail := "execution status does not allow this operation"
		if current != nil {
			detail = fmt.Sprintf("execution is %s", current.Status)
		}

		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("invalid_transition").
			WithDetail(detail)

		return c.Status(fiber.StatusConflict).JSON(problem)

	case queue.IsUnavailable(err):
		detail := "execution queue is unavailable"
		if current != nil {
			detail = fmt.Sprintf("execution queue is unavailable, execution %s is %s", current.ID, current.Status)
		}

		problem := problems.NewStatusProblem(503).
			WithInstance(c.Path()).
			WithType("queue_unavailable").
			WithDetail(detail)

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)

	default:
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}
