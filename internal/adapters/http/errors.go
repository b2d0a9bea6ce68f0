package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/fleetmap/internal/core/domain"
	"github.com/samirrijal/fleetmap/internal/core/usecases"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // bad_request, not_found, invalid_overlay, session_closed, ...
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusBadRequest, "bad_request", msg)
}

func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusNotFound, "not_found", msg)
}

func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusInternalServerError, "internal_error", msg)
}

func errUnavailable(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusServiceUnavailable, "unavailable", msg)
}

// errFrom maps a use-case error onto its HTTP status and error code.
func errFrom(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, usecases.ErrSessionNotFound):
		return errNotFound(c, err.Error())
	case errors.Is(err, domain.ErrInvalidOverlay), errors.Is(err, domain.ErrInvalidRegion):
		return newError(c, fiber.StatusBadRequest, domain.ErrorKind(err), err.Error())
	case errors.Is(err, domain.ErrSessionClosed), errors.Is(err, domain.ErrSessionTimedOut):
		return newError(c, fiber.StatusConflict, domain.ErrorKind(err), err.Error())
	default:
		LoggerFromCtx(c.UserContext()).Error("request failed", "path", c.Path(), "error", err)
		return errInternal(c, err.Error())
	}
}
