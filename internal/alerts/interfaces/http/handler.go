package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	alertsapp "homewatch/internal/alerts/application"
	alerts "homewatch/internal/alerts/domain"
	"homewatch/internal/api/types"
)

// RuleDeleter removes a rule together with its open alerts.
type RuleDeleter interface {
	DeleteRule(ctx context.Context, ruleID string) error
}

// Handler provides rule and alert endpoints.
type Handler struct {
	queries *alertsapp.Queries
	deleter RuleDeleter
}

// NewHandler constructs a handler.
func NewHandler(queries *alertsapp.Queries, deleter RuleDeleter) (*Handler, error) {
	if queries == nil {
		return nil, errors.New("alerts handler: nil queries")
	}
	if deleter == nil {
		return nil, errors.New("alerts handler: nil rule deleter")
	}
	return &Handler{queries: queries, deleter: deleter}, nil
}

// RegisterRules wires the rule routes.
func (h *Handler) RegisterRules(group *gin.RouterGroup) {
	group.POST("", h.CreateRule)
	group.GET("", h.ListRules)
	group.GET("/:id", h.GetRule)
	group.DELETE("/:id", h.DeleteRule)
}

// RegisterAlerts wires the alert routes.
func (h *Handler) RegisterAlerts(group *gin.RouterGroup) {
	group.GET("", h.ListAlerts)
	group.GET("/:id/history", h.History)
}

// CreateRule handles POST /rules.
func (h *Handler) CreateRule(c *gin.Context) {
	var req types.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		types.BadRequest(c, err)
		return
	}
	rule := alerts.Rule{
		UserID:     req.UserID,
		DeviceID:   req.DeviceID,
		Name:       req.Name,
		Category:   req.Category,
		Comparator: alerts.Comparator(req.Comparator),
		Threshold:  *req.Threshold,
		Severity:   alerts.Severity(strings.ToLower(req.Severity)),
		Enabled:    true,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	var cooldown *time.Duration
	if req.CooldownSeconds != nil {
		if *req.CooldownSeconds < 0 {
			types.BadRequest(c, errors.New("cooldown_seconds must not be negative"))
			return
		}
		d := time.Duration(*req.CooldownSeconds) * time.Second
		cooldown = &d
	}
	created, err := h.queries.CreateRule(c.Request.Context(), rule, cooldown)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// ListRules handles GET /rules?user_id=.
func (h *Handler) ListRules(c *gin.Context) {
	list, err := h.queries.ListRules(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		types.Internal(c, err)
		return
	}
	c.JSON(http.StatusOK, types.NewList(list))
}

// GetRule handles GET /rules/:id.
func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.queries.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule handles DELETE /rules/:id.
func (h *Handler) DeleteRule(c *gin.Context) {
	if err := h.deleter.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListAlerts handles GET /alerts?device_id=&rule_id=&open=&limit=.
func (h *Handler) ListAlerts(c *gin.Context) {
	filter := alerts.AlertFilter{
		DeviceID: c.Query("device_id"),
		RuleID:   c.Query("rule_id"),
	}
	if raw := c.Query("open"); raw != "" {
		open, err := strconv.ParseBool(raw)
		if err != nil {
			types.BadRequest(c, errors.New("open must be a boolean"))
			return
		}
		filter.OpenOnly = open
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			types.BadRequest(c, errors.New("limit must be a positive integer"))
			return
		}
		filter.Limit = limit
	}
	list, err := h.queries.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		types.Internal(c, err)
		return
	}
	c.JSON(http.StatusOK, types.NewList(list))
}

// History handles GET /alerts/:id/history.
func (h *Handler) History(c *gin.Context) {
	entries, err := h.queries.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.NewList(entries))
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, alerts.ErrNotFound):
		types.NotFound(c, "resource")
	case errors.Is(err, alerts.ErrInvalidRule):
		types.BadRequest(c, err)
	default:
		types.Internal(c, err)
	}
}
