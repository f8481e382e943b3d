package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/Jdogg9/agent-admission-sidecar/internal/approval"
)

type ApprovalHandler struct {
	store      approval.Store
	defaultTTL int
}

func NewApprovalHandler(store approval.Store, defaultTTL int) *ApprovalHandler {
	return &ApprovalHandler{store: store, defaultTTL: defaultTTL}
}

type issueRequest struct {
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args"`
	TTLSeconds int            `json:"ttl_seconds"`
}

// Issue mints a single-use approval credential bound to one tool and its
// exact arguments.
func (h *ApprovalHandler) Issue(c echo.Context) error {
	var req issueRequest
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

	ttl := req.TTLSeconds
	if ttl <= 0 {
		ttl = h.defaultTTL
	}

	grant, err := h.store.Issue(c.Request().Context(), req.Tool, req.Args, ttl)
	if err != nil {
		log.Error().Err(err).Str("tool", req.Tool).Msg("failed to issue approval")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to issue approval",
		})
	}

	log.Info().Str("approval_id", grant.ApprovalID).Str("tool", req.Tool).Msg("approval issued")
	return c.JSON(http.StatusCreated, grant)
}
