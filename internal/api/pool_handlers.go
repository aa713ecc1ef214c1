package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// handleGetPoolMetrics handles GET /pool/metrics
func (s *Server) handleGetPoolMetrics(c *fiber.Ctx) error {
	if s.poolManager == nil {
		return RespondServiceUnavailable(c, "NNTP connection pool not available", "")
	}

	metrics, err := s.poolManager.GetMetrics()
	if err != nil {
		return RespondServiceUnavailable(c, "NNTP connection pool not available", err.Error())
	}

	return RespondSuccess(c, metrics)
}

// handleGetHealth handles GET /health. It always answers 200; a missing
// pool is reported as degraded.
func (s *Server) handleGetHealth(c *fiber.Ctx) error {
	available := s.poolManager != nil && s.poolManager.HasPool()

	status := "ok"
	if !available {
		status = "degraded"
	}

	return RespondSuccess(c, HealthResponse{
		Status:        status,
		PoolAvailable: available,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}
