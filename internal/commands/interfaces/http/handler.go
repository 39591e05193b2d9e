package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"homewatch/internal/api/types"
	commandsapp "homewatch/internal/commands/application"
	commands "homewatch/internal/commands/domain"
	devices "homewatch/internal/devices/domain"
)

// Handler provides command HTTP endpoints.
type Handler struct {
	service *commandsapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *commandsapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("commands handler: nil service")
	}
	return &Handler{service: service}, nil
}

// Register wires the routes under the devices group.
func (h *Handler) Register(group *gin.RouterGroup) {
	group.POST("/:id/commands", h.Issue)
}

// Issue handles POST /devices/:id/commands.
func (h *Handler) Issue(c *gin.Context) {
	var req commandsapp.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		types.BadRequest(c, err)
		return
	}
	req.DeviceID = c.Param("id")

	cmd, err := h.service.IssueCommand(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, cmd)
	case errors.Is(err, devices.ErrNotFound):
		types.NotFound(c, "device")
	case errors.Is(err, commands.ErrUnsupportedAction), errors.Is(err, commands.ErrInvalidCommand):
		types.BadRequest(c, err)
	case cmd != nil:
		c.AbortWithStatusJSON(http.StatusBadGateway, cmd)
	default:
		types.Internal(c, err)
	}
}
