package api

import (
	"github.com/javi11/nzbinspect/internal/archive"
)

// InspectResponse is the payload of POST /inspect.
type InspectResponse struct {
	Status     archive.Status   `json:"status"`
	Details    *archive.Details `json:"details,omitempty"`
	Playable   bool             `json:"playable"`
	Files      int              `json:"files"`
	DurationMs int64            `json:"duration_ms"`
}

// HealthResponse is the payload of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	PoolAvailable bool   `json:"pool_available"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
