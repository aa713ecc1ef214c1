package api

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/javi11/nzbinspect/internal/slogutil"
)

const requestIDKey = "request_id"

// RequestContextMiddleware attaches a request id to the user context so every
// log line emitted while serving the request carries it.
func RequestContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(fiber.HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(fiber.HeaderXRequestID, id)
		c.SetUserContext(slogutil.With(c.UserContext(), requestIDKey, id))
		return c.Next()
	}
}

// LoggingMiddleware logs HTTP requests at debug level
func LoggingMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		logger.DebugContext(c.UserContext(), "API request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration", time.Since(start),
			"remote_addr", c.IP(),
		)
		return err
	}
}

// RecoveryMiddleware recovers from panics and returns a 500 error
func RecoveryMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(c.UserContext(), "API panic recovered", "error", fmt.Sprint(r))
				err = RespondInternalError(c, "An unexpected error occurred", "")
			}
		}()
		return c.Next()
	}
}
