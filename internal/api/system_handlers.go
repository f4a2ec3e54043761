package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthResponse is the system health payload
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Kinds         int    `json:"kinds"`
}

// handleHealth reports liveness and basic process info
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return RespondSuccess(c, HealthResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(s.startTime) / time.Second),
		Kinds:         len(s.importSvc.Kinds()),
	})
}
