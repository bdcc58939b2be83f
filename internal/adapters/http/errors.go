package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/samirrijal/livemap/internal/adapters/routing"
	"github.com/samirrijal/livemap/internal/core/domain"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Guidance  string `json:"guidance,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

var errorCodes = map[int]string{
	fiber.StatusBadRequest:          "bad_request",
	fiber.StatusUnauthorized:        "unauthorized",
	fiber.StatusNotFound:            "not_found",
	fiber.StatusInternalServerError: "internal_error",
	fiber.StatusServiceUnavailable:  "unavailable",
}

func newError(c *fiber.Ctx, status int, message, guidance string) error {
	code, ok := errorCodes[status]
	if !ok {
		code = "error"
	}
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		Guidance:  guidance,
		RequestID: reqID,
	})
}

func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusBadRequest, msg, "")
}

func errUnauthorized(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusUnauthorized, msg, "")
}

// statusFor maps a use-case error onto an HTTP status. Upstream outages,
// timeouts and cancellations are unavailable; anything outside the domain
// taxonomy gets fallback.
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, routing.ErrUnavailable),
		errors.Is(err, domain.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		domain.IsCancellation(err):
		return fiber.StatusServiceUnavailable
	default:
		return fallback
	}
}

// failWith writes err with the message registered for its status, falling
// back to the standard status text. Server-side failures are logged.
func failWith(c *fiber.Ctx, err error, fallback int, messages map[int]string) error {
	status := statusFor(err, fallback)
	msg, ok := messages[status]
	if !ok {
		msg = utils.StatusMessage(status)
	}
	if status >= fiber.StatusInternalServerError {
		LoggerFromCtx(c.UserContext()).Error(msg, "status", status, "error", err)
	}
	return newError(c, status, msg, domain.Guidance(err))
}
