// Package types holds the request and response bodies of the HTTP API.
package types

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// --- Request DTOs ---

// RegisterDeviceRequest is the body of POST /devices.
type RegisterDeviceRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Name    string `json:"name"`
	Type    string `json:"type" binding:"required"`
	Address string `json:"address" binding:"required"`
}

// CreateRuleRequest is the body of POST /rules.
type CreateRuleRequest struct {
	UserID          string   `json:"user_id" binding:"required"`
	DeviceID        string   `json:"device_id"`
	Name            string   `json:"name"`
	Category        string   `json:"category" binding:"required"`
	Comparator      string   `json:"comparator" binding:"required"`
	Threshold       *float64 `json:"threshold" binding:"required"`
	CooldownSeconds *int     `json:"cooldown_seconds"`
	Severity        string   `json:"severity"`
	Enabled         *bool    `json:"enabled"`
}

// --- Response DTOs ---

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned from GET /healthz.
type HealthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

// ListResponse wraps a collection.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// NewList builds a ListResponse with a non-nil slice.
func NewList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

// Abort writes an error body and stops the handler chain.
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: message})
}

// BadRequest reports a malformed request.
func BadRequest(c *gin.Context, err error) {
	Abort(c, http.StatusBadRequest, "bad_request", err.Error())
}

// NotFound reports a missing resource.
func NotFound(c *gin.Context, what string) {
	Abort(c, http.StatusNotFound, "not_found", what+" not found")
}

// Internal reports an unexpected failure.
func Internal(c *gin.Context, err error) {
	_ = c.Error(err)
	Abort(c, http.StatusInternalServerError, "internal_error", err.Error())
}
