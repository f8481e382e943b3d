package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/Jdogg9/agent-admission-sidecar/internal/intent"
	"github.com/Jdogg9/agent-admission-sidecar/internal/trace"
)

type IntentHandler struct {
	router *intent.Router
	traces trace.Store
}

func NewIntentHandler(router *intent.Router, traces trace.Store) *IntentHandler {
	return &IntentHandler{router: router, traces: traces}
}

type routeRequest struct {
	Input    string         `json:"input"`
	Metadata map[string]any `json:"metadata"`
}

// Route runs the three-tier decision procedure for one input. Each call
// opens a fresh trace so the decision and its evidence are auditable.
func (h *IntentHandler) Route(c echo.Context) error {
	var req routeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}
	if req.Input == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "input is required",
		})
	}

	ctx := c.Request().Context()

	metadata := map[string]any{
		"endpoint":        "/intent/route",
		"input_signature": intent.Signature(intent.NormalizeInput(req.Input)),
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	traceID, err := h.traces.StartTrace(ctx, metadata)
	if err != nil {
		// Routing proceeds; only the audit trail is degraded.
		log.Warn().Err(err).Msg("failed to start trace")
		traceID = ""
	}

	decision := h.router.Route(ctx, req.Input, traceID)

	return c.JSON(http.StatusOK, map[string]any{
		"trace_id": traceID,
		"decision": decision,
	})
}
