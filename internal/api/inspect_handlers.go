package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"

	sharedErrors "github.com/javi11/nzbinspect/internal/errors"
	"github.com/javi11/nzbinspect/internal/nzb"
)

const maxInspectTimeout = 5 * time.Minute

// handleInspect handles POST /inspect. The NZB is the raw request body or the
// "nzb" multipart field; "password" and "timeout" are optional query parameters.
func (s *Server) handleInspect(c *fiber.Ctx) error {
	body, err := nzbBody(c)
	if err != nil {
		return RespondBadRequest(c, "Failed to read NZB upload", err.Error())
	}
	if len(body) == 0 {
		return RespondBadRequest(c, "Request body is empty", "Send the NZB document as the body or as the 'nzb' form field")
	}

	manifest, err := nzb.Parse(bytes.NewReader(body))
	if err != nil {
		return RespondBadRequest(c, "Invalid NZB document", err.Error())
	}

	ctx := c.UserContext()
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 || d > maxInspectTimeout {
			return RespondBadRequest(c, "Invalid timeout", "Use a positive duration up to 5m, e.g. 30s")
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	verdict, err := s.inspector.InspectManifest(ctx, manifest, c.Query("password"))
	switch {
	case err == nil:
	case errors.Is(err, sharedErrors.ErrNoArchiveEntry):
		return RespondValidationError(c, "NZB contains no files", err.Error())
	case sharedErrors.IsResource(err):
		return RespondServiceUnavailable(c, "NNTP connection pool not available", err.Error())
	case isTimeout(err):
		return RespondError(c, fiber.StatusGatewayTimeout, ErrCodeServiceUnavailable, "Inspection timed out", err.Error())
	default:
		s.logger.ErrorContext(ctx, "Inspection failed", "error", err)
		return RespondInternalError(c, "Inspection failed", err.Error())
	}

	return RespondSuccess(c, InspectResponse{
		Status:     verdict.Status,
		Details:    verdict.Details,
		Playable:   verdict.Playable(),
		Files:      len(manifest.Files),
		DurationMs: time.Since(start).Milliseconds(),
	})
}

// isTimeout reports a deadline hit either on the context or on an NNTP socket.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func nzbBody(c *fiber.Ctx) ([]byte, error) {
	fh, err := c.FormFile("nzb")
	if err != nil {
		return c.Body(), nil
	}

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}
