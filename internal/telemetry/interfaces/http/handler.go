package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"homewatch/internal/api/types"
	devices "homewatch/internal/devices/domain"
	telemetry "homewatch/internal/telemetry/domain"
)

const (
	timeLayout   = time.RFC3339
	defaultLimit = 1000
	maxLimit     = 10000
)

// DeviceLookup resolves registered devices.
type DeviceLookup interface {
	Get(ctx context.Context, id string) (devices.Device, error)
}

// Handler serves telemetry range queries.
type Handler struct {
	query   telemetry.Query
	devices DeviceLookup
}

// NewHandler constructs a handler.
func NewHandler(query telemetry.Query, lookup DeviceLookup) (*Handler, error) {
	if query == nil {
		return nil, errors.New("telemetry handler: nil query")
	}
	if lookup == nil {
		return nil, errors.New("telemetry handler: nil device lookup")
	}
	return &Handler{query: query, devices: lookup}, nil
}

// Register wires the routes under the devices group.
func (h *Handler) Register(group *gin.RouterGroup) {
	group.GET("/:id/power", h.Power)
	group.GET("/:id/energy", h.Energy)
	group.GET("/:id/motion", h.Motion)
}

// Power handles GET /devices/:id/power.
func (h *Handler) Power(c *gin.Context) {
	deviceID, r, ok := h.prepare(c)
	if !ok {
		return
	}
	list, err := h.query.ListPowerReadings(c.Request.Context(), deviceID, r)
	if err != nil {
		types.Internal(c, err)
		return
	}
	c.JSON(http.StatusOK, types.NewList(list))
}

// Energy handles GET /devices/:id/energy.
func (h *Handler) Energy(c *gin.Context) {
	deviceID, r, ok := h.prepare(c)
	if !ok {
		return
	}
	list, err := h.query.ListEnergyReadings(c.Request.Context(), deviceID, r)
	if err != nil {
		types.Internal(c, err)
		return
	}
	c.JSON(http.StatusOK, types.NewList(list))
}

// Motion handles GET /devices/:id/motion.
func (h *Handler) Motion(c *gin.Context) {
	deviceID, r, ok := h.prepare(c)
	if !ok {
		return
	}
	list, err := h.query.ListMotionEvents(c.Request.Context(), deviceID, r)
	if err != nil {
		types.Internal(c, err)
		return
	}
	c.JSON(http.StatusOK, types.NewList(list))
}

func (h *Handler) prepare(c *gin.Context) (string, telemetry.Range, bool) {
	device, err := h.devices.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, devices.ErrNotFound) {
		types.NotFound(c, "device")
		return "", telemetry.Range{}, false
	}
	if err != nil {
		types.Internal(c, err)
		return "", telemetry.Range{}, false
	}
	r, err := parseRange(c)
	if err != nil {
		types.BadRequest(c, err)
		return "", telemetry.Range{}, false
	}
	return device.ID, r, true
}

func parseRange(c *gin.Context) (telemetry.Range, error) {
	from, err := parseTimeQuery(c, "from")
	if err != nil {
		return telemetry.Range{}, err
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		return telemetry.Range{}, err
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return telemetry.Range{}, errors.New("to must be after from")
	}
	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return telemetry.Range{}, errors.New("limit must be a positive integer")
		}
		if limit > maxLimit {
			limit = maxLimit
		}
	}
	return telemetry.Range{From: from, To: to, Limit: limit}, nil
}

func parseTimeQuery(c *gin.Context, key string) (time.Time, error) {
	value := c.Query(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339", key)
	}
	return parsed.UTC(), nil
}
