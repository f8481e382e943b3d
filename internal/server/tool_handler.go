package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/Jdogg9/agent-admission-sidecar/internal/registry"
	"github.com/Jdogg9/agent-admission-sidecar/internal/trace"
)

type ToolHandler struct {
	registry *registry.Registry
	traces   trace.Store
}

func NewToolHandler(reg *registry.Registry, traces trace.Store) *ToolHandler {
	return &ToolHandler{registry: reg, traces: traces}
}

type toolCallRequest struct {
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args"`
	ApprovalID string         `json:"approval_id"`
}

// Call executes one tool invocation through the guarded path: approval
// validation, policy check, sandbox routing, sanitization.
func (h *ToolHandler) Call(c echo.Context) error {
	var req toolCallRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}
	if req.Tool == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "tool is required",
		})
	}

	ctx := c.Request().Context()

	traceID, err := h.traces.StartTrace(ctx, map[string]any{
		"endpoint": "/tool/call",
		"tool":     req.Tool,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to start trace")
		traceID = ""
	}

	result := h.registry.ExecuteGuarded(ctx, req.Tool, traceID, req.Args, req.ApprovalID)

	return c.JSON(statusForResult(result), map[string]any{
		"trace_id": traceID,
		"result":   result,
	})
}

// List returns the registered tool specs, without handlers.
func (h *ToolHandler) List(c echo.Context) error {
	specs := h.registry.List()

	tools := make([]map[string]any, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, map[string]any{
			"name":             spec.Name,
			"description":      spec.Description,
			"safe":             spec.Safe,
			"requires_sandbox": spec.RequiresSandbox,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"total": len(tools),
		"tools": tools,
	})
}

func statusForResult(result registry.Result) int {
	switch {
	case result.Error == registry.ErrUnknownTool:
		return http.StatusNotFound
	case result.Error == registry.ErrApprovalRequired:
		return http.StatusForbidden
	case strings.HasPrefix(result.Error, "policy_denied:"):
		return http.StatusForbidden
	default:
		return http.StatusOK
	}
}
