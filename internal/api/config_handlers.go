package api

import (
	"github.com/gofiber/fiber/v2"
)

// handleGetConfig handles GET /config. Secrets are omitted by the json tags.
func (s *Server) handleGetConfig(c *fiber.Ctx) error {
	cfg := s.configManager.GetConfig()
	if cfg == nil {
		return RespondInternalError(c, "Configuration not available", "")
	}

	return RespondSuccess(c, cfg)
}

// handleReloadConfig handles POST /config/reload. Provider changes rebuild the pool.
func (s *Server) handleReloadConfig(c *fiber.Ctx) error {
	if err := s.configManager.ReloadConfig(); err != nil {
		return RespondBadRequest(c, "Failed to reload configuration", err.Error())
	}

	s.logger.InfoContext(c.UserContext(), "Configuration reloaded via API")
	return RespondSuccess(c, s.configManager.GetConfig())
}
