package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/Jdogg9/agent-admission-sidecar/internal/intent"
)

type HitlHandler struct {
	queue *intent.HitlQueue
}

func NewHitlHandler(queue *intent.HitlQueue) *HitlHandler {
	return &HitlHandler{queue: queue}
}

// GetPending lists escalations awaiting human review, oldest first.
func (h *HitlHandler) GetPending(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	pending, err := h.queue.Pending(c.Request().Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to get pending hitl requests")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to retrieve pending requests",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"total":   len(pending),
		"pending": pending,
	})
}
