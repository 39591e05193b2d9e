package http

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"homewatch/internal/alerts/notify"
	"homewatch/internal/api/types"
)

// StreamHandler serves the SSE alert stream.
type StreamHandler struct {
	broker *notify.SSEBroker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *notify.SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// Stream handles GET /alerts/stream.
func (h *StreamHandler) Stream(c *gin.Context) {
	if h == nil || h.broker == nil {
		types.Abort(c, http.StatusServiceUnavailable, "unavailable", "stream not ready")
		return
	}
	ch := h.broker.Subscribe()
	if ch == nil {
		types.Abort(c, http.StatusServiceUnavailable, "unavailable", "stream not ready")
		return
	}
	defer h.broker.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("ready", "{}")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case payload, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("alert", string(payload))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
