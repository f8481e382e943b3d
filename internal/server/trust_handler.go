package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/Jdogg9/agent-admission-sidecar/internal/trace"
	"github.com/Jdogg9/agent-admission-sidecar/internal/trust"
)

type TrustHandler struct {
	panel *trust.Panel
}

func NewTrustHandler(panel *trust.Panel) *TrustHandler {
	return &TrustHandler{panel: panel}
}

// ListEvents returns recent sanitized audit events, newest first.
// Filters: trace_id, step_type (comma-separated), limit.
func (h *TrustHandler) ListEvents(c echo.Context) error {
	q := trace.StepQuery{
		TraceID: c.QueryParam("trace_id"),
	}
	if raw := c.QueryParam("step_type"); raw != "" {
		q.StepTypes = strings.Split(raw, ",")
	}
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			q.Limit = parsed
		}
	}

	events, err := h.panel.ListEvents(c.Request().Context(), q)
	if err != nil {
		log.Error().Err(err).Msg("failed to list trust events")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to retrieve events",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"total":  len(events),
		"events": events,
	})
}

// GetTraceReport returns one trace with its chained events.
func (h *TrustHandler) GetTraceReport(c echo.Context) error {
	report, err := h.panel.TraceReport(c.Request().Context(), c.Param("id"))
	if err != nil {
		log.Error().Err(err).Str("trace_id", c.Param("id")).Msg("failed to build trace report")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to build trace report",
		})
	}
	if report == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "trace not found",
		})
	}

	return c.JSON(http.StatusOK, report)
}

// Verify recomputes a trace's hash chain, optionally against an expected
// head hash supplied by the caller.
func (h *TrustHandler) Verify(c echo.Context) error {
	verification, err := h.panel.VerifyChain(c.Request().Context(), c.Param("id"), c.QueryParam("expected_hash"))
	if err != nil {
		log.Error().Err(err).Str("trace_id", c.Param("id")).Msg("failed to verify chain")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to verify chain",
		})
	}
	if verification == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "trace not found",
		})
	}

	return c.JSON(http.StatusOK, verification)
}
