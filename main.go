package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	alertsapp "homewatch/internal/alerts/application"
	alertsrepo "homewatch/internal/alerts/infrastructure/sqlstore"
	alertshttp "homewatch/internal/alerts/interfaces/http"
	"homewatch/internal/alerts/notify"
	apihttp "homewatch/internal/api/http"
	commandsapp "homewatch/internal/commands/application"
	commandshttp "homewatch/internal/commands/interfaces/http"
	"homewatch/internal/config"
	devicesapp "homewatch/internal/devices/application"
	devices "homewatch/internal/devices/domain"
	devicesrepo "homewatch/internal/devices/infrastructure/sqlstore"
	deviceshttp "homewatch/internal/devices/interfaces/http"
	healthapp "homewatch/internal/health/application"
	health "homewatch/internal/health/domain"
	healthrepo "homewatch/internal/health/infrastructure/sqlstore"
	"homewatch/internal/monitor"
	"homewatch/internal/observability/metrics"
	"homewatch/internal/platform/database"
	pollingapp "homewatch/internal/polling/application"
	polling "homewatch/internal/polling/domain"
	"homewatch/internal/polling/infrastructure/deviceclient"
	telemetryrepo "homewatch/internal/telemetry/infrastructure/sqlstore"
	telemetryhttp "homewatch/internal/telemetry/interfaces/http"
)

const (
	sweepTimeout    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to a yaml config file (default $HOMEWATCH_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootstrap := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootstrap.Fatal().Err(err).Msg("load config")
	}
	logger := newLogger(cfg.Log)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("homewatch stopped")
	}
	logger.Info().Msg("homewatch stopped")
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}
	metrics.Init(db.DB, logger)

	catalog := devices.DefaultCatalog()
	deviceRepo := devicesrepo.NewRepository(db)
	statusRepo := healthrepo.NewRepository(db)
	telemetryStore := telemetryrepo.NewStore(db)
	ruleRepo := alertsrepo.NewRuleRepository(db)
	alertRepo := alertsrepo.NewAlertRepository(db)
	historyRepo := alertsrepo.NewHistoryRepository(db)

	reconciler, err := healthapp.NewReconciler(statusRepo, health.Policy{
		FailureThreshold: cfg.Health.FailureThreshold,
		StaleAfter:       cfg.Health.StaleAfter,
	}, healthapp.WithLogger(logger))
	if err != nil {
		return err
	}

	broker := notify.NewSSEBroker()
	notifiers := []alertsapp.Notifier{notify.NewLogNotifier(logger), broker}
	var webhook *notify.Notifier
	if cfg.Alerts.WebhookURL != "" {
		channel, err := notify.NewWebhookChannel(cfg.Alerts.WebhookURL)
		if err != nil {
			return err
		}
		tpl, err := notify.NewTemplate(cfg.Alerts.NotifyTemplate)
		if err != nil {
			return err
		}
		webhook, err = notify.NewNotifier(channel, tpl,
			notify.WithRequestTimeout(cfg.Alerts.NotifyTimeout),
			notify.WithCooldown(cfg.Alerts.NotifyCooldown),
			notify.WithDedupeWindow(cfg.Alerts.NotifyDedupeWindow),
			notify.WithDeviceNamer(deviceNamer(deviceRepo)),
			notify.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, webhook)
		logger.Info().Str("url", cfg.Alerts.WebhookURL).Msg("webhook notifications enabled")
	}

	engine, err := alertsapp.NewEngine(ruleRepo, alertRepo, historyRepo,
		alertsapp.WithNotifier(notify.NewMultiNotifier(logger, notifiers...)),
		alertsapp.WithEscalateAfter(cfg.Alerts.EscalateAfter),
		alertsapp.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	queries, err := alertsapp.NewQueries(ruleRepo, alertRepo, historyRepo,
		alertsapp.WithDefaultCooldown(cfg.Alerts.DefaultCooldown))
	if err != nil {
		return err
	}

	pipeline, err := monitor.NewPipeline(reconciler, engine, telemetryStore,
		monitor.WithOfflineGrace(cfg.Health.OfflineGrace),
		monitor.WithRuleStore(queries),
		monitor.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	client, err := deviceclient.New(deviceclient.WithTimeout(cfg.Polling.RequestTimeout))
	if err != nil {
		return err
	}
	coordinator, err := pollingapp.NewCoordinator(client, pipeline, catalog, polling.Intervals{
		Status: cfg.Polling.StatusInterval,
		Data:   cfg.Polling.DataInterval,
		Energy: cfg.Polling.EnergyInterval,
	}, pollingapp.WithMaxBackoff(cfg.Polling.MaxBackoff), pollingapp.WithLogger(logger))
	if err != nil {
		return err
	}
	pipeline.AttachScheduler(coordinator)

	registry, err := devicesapp.NewRegistry(deviceRepo, catalog,
		devicesapp.WithLifecycle(pipeline),
		devicesapp.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	existing, err := registry.List(ctx)
	if err != nil {
		return err
	}
	for _, device := range existing {
		if err := pipeline.DeviceRegistered(ctx, device); err != nil {
			logger.Error().Err(err).Str("device_id", device.ID).Msg("resume monitoring")
		}
	}
	logger.Info().Int("devices", len(existing)).Msg("device registry loaded")

	commands, err := commandsapp.NewService(registry, catalog, client, commandsapp.WithLogger(logger))
	if err != nil {
		return err
	}

	devicesHandler, err := deviceshttp.NewHandler(registry, reconciler, coordinator)
	if err != nil {
		return err
	}
	telemetryHandler, err := telemetryhttp.NewHandler(telemetryStore, registry)
	if err != nil {
		return err
	}
	commandsHandler, err := commandshttp.NewHandler(commands)
	if err != nil {
		return err
	}
	alertsHandler, err := alertshttp.NewHandler(queries, pipeline)
	if err != nil {
		return err
	}
	router, err := apihttp.NewRouter(apihttp.Dependencies{
		Devices:   devicesHandler,
		Telemetry: telemetryHandler,
		Commands:  commandsHandler,
		Alerts:    alertsHandler,
		Stream:    alertshttp.NewStreamHandler(broker),
		DB:        db,
		Metrics:   promhttp.Handler(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	coordinator.Start(ctx)
	sweeper, err := monitor.NewSweeper(pipeline, cfg.Health.SweepSchedule, sweepTimeout, logger)
	if err != nil {
		coordinator.Stop()
		return err
	}
	sweeper.Start()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error().Err(shutdownErr).Msg("http shutdown")
	}
	sweeper.Stop()
	coordinator.Stop()
	webhook.Close()
	return err
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Str("service", "homewatch").Logger()
}

func deviceNamer(repo devices.Repository) notify.DeviceNamer {
	return func(ctx context.Context, deviceID string) string {
		device, err := repo.Get(ctx, deviceID)
		if err != nil || device == nil {
			return ""
		}
		return device.Name
	}
}
