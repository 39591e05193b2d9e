package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"homewatch/internal/api/types"
	devicesapp "homewatch/internal/devices/application"
	devices "homewatch/internal/devices/domain"
	health "homewatch/internal/health/domain"
	polling "homewatch/internal/polling/domain"
)

// StatusReader returns the current status record of a device.
type StatusReader interface {
	Get(ctx context.Context, deviceID string) (health.Record, error)
}

// TaskLister returns the poll tasks of a device.
type TaskLister interface {
	Tasks(deviceID string) []polling.Task
}

// Handler serves device endpoints.
type Handler struct {
	registry *devicesapp.Registry
	status   StatusReader
	tasks    TaskLister
}

// NewHandler constructs a handler.
func NewHandler(registry *devicesapp.Registry, status StatusReader, tasks TaskLister) (*Handler, error) {
	if registry == nil {
		return nil, errors.New("devices handler: nil registry")
	}
	if status == nil {
		return nil, errors.New("devices handler: nil status reader")
	}
	if tasks == nil {
		return nil, errors.New("devices handler: nil task lister")
	}
	return &Handler{registry: registry, status: status, tasks: tasks}, nil
}

// Register wires the routes under group.
func (h *Handler) Register(group *gin.RouterGroup) {
	group.POST("", h.Create)
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.PATCH("/:id", h.Update)
	group.DELETE("/:id", h.Delete)
	group.GET("/:id/status", h.Status)
	group.GET("/:id/tasks", h.Tasks)
	group.GET("/:id/capabilities", h.Capabilities)
}

// Create handles POST /devices.
func (h *Handler) Create(c *gin.Context) {
	var req types.RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		types.BadRequest(c, err)
		return
	}
	device, err := h.registry.Register(c.Request.Context(), devices.Device{
		UserID:  req.UserID,
		Name:    req.Name,
		Type:    devices.Type(req.Type),
		Address: req.Address,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, device)
}

// List handles GET /devices.
func (h *Handler) List(c *gin.Context) {
	list, err := h.registry.List(c.Request.Context())
	if err != nil {
		types.Internal(c, err)
		return
	}
	c.JSON(http.StatusOK, types.NewList(list))
}

// Get handles GET /devices/:id.
func (h *Handler) Get(c *gin.Context) {
	device, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// Update handles PATCH /devices/:id.
func (h *Handler) Update(c *gin.Context) {
	var patch devicesapp.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		types.BadRequest(c, err)
		return
	}
	device, err := h.registry.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// Delete handles DELETE /devices/:id.
func (h *Handler) Delete(c *gin.Context) {
	if err := h.registry.Deregister(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Status handles GET /devices/:id/status.
func (h *Handler) Status(c *gin.Context) {
	device, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	rec, err := h.status.Get(c.Request.Context(), device.ID)
	if errors.Is(err, health.ErrNotFound) {
		types.NotFound(c, "status")
		return
	}
	if err != nil {
		types.Internal(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Tasks handles GET /devices/:id/tasks.
func (h *Handler) Tasks(c *gin.Context) {
	device, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.NewList(h.tasks.Tasks(device.ID)))
}

// Capabilities handles GET /devices/:id/capabilities.
func (h *Handler) Capabilities(c *gin.Context) {
	device, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	catalog := h.registry.Catalog()
	caps, err := catalog.CapabilitiesFor(device.Type)
	if err != nil {
		respondError(c, err)
		return
	}
	controls, _ := catalog.Controls(device.Type)
	c.JSON(http.StatusOK, gin.H{
		"device_id":    device.ID,
		"type":         device.Type,
		"capabilities": caps,
		"controls":     controls,
	})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, devices.ErrNotFound):
		types.NotFound(c, "device")
	case errors.Is(err, devices.ErrDuplicateAddress):
		types.Abort(c, http.StatusConflict, "duplicate_address", err.Error())
	case errors.Is(err, devices.ErrUnknownType), errors.Is(err, devices.ErrInvalidDevice):
		types.BadRequest(c, err)
	default:
		types.Internal(c, err)
	}
}
