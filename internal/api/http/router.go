// Package apihttp assembles the HTTP API.
package apihttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	alertshttp "homewatch/internal/alerts/interfaces/http"
	"homewatch/internal/api/types"
	commandshttp "homewatch/internal/commands/interfaces/http"
	deviceshttp "homewatch/internal/devices/interfaces/http"
	telemetryhttp "homewatch/internal/telemetry/interfaces/http"
)

// Pinger checks backing storage.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Dependencies are the handlers mounted by the router.
type Dependencies struct {
	Devices      *deviceshttp.Handler
	Telemetry    *telemetryhttp.Handler
	Commands     *commandshttp.Handler
	Alerts       *alertshttp.Handler
	Stream       *alertshttp.StreamHandler
	DB           Pinger
	Metrics      http.Handler
	Logger       zerolog.Logger
	AllowOrigins []string
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Devices == nil || deps.Telemetry == nil || deps.Commands == nil || deps.Alerts == nil || deps.Stream == nil {
		return nil, errors.New("api: missing handler")
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	SetupMiddleware(engine, deps.Logger.With().Str("component", "http").Logger(), deps.AllowOrigins)

	engine.GET("/healthz", healthz(deps.DB))
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	v1 := engine.Group("/api/v1")
	{
		devices := v1.Group("/devices")
		deps.Devices.Register(devices)
		deps.Telemetry.Register(devices)
		deps.Commands.Register(devices)

		deps.Alerts.RegisterRules(v1.Group("/rules"))

		alerts := v1.Group("/alerts")
		alerts.GET("/stream", deps.Stream.Stream)
		deps.Alerts.RegisterAlerts(alerts)
	}
	return engine, nil
}

func healthz(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := types.HealthResponse{Status: "healthy", Database: "unknown", Timestamp: time.Now().UTC()}
		status := http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				resp.Status = "degraded"
				resp.Database = "unreachable"
				status = http.StatusServiceUnavailable
			} else {
				resp.Database = "ok"
			}
		}
		c.JSON(status, resp)
	}
}
