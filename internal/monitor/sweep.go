package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	alerts "homewatch/internal/alerts/domain"
	health "homewatch/internal/health/domain"
)

// Sweep applies time-driven rules to every tracked device: staleness,
// escalation, orphaned alerts and pausing of long-offline devices.
func (p *Pipeline) Sweep(ctx context.Context) {
	now := p.clock.Now()
	for _, device := range p.Devices() {
		if ctx.Err() != nil {
			return
		}
		p.sweepDevice(ctx, device.ID, now)
	}
}

func (p *Pipeline) sweepDevice(ctx context.Context, deviceID string, now time.Time) {
	unlock := p.locks.Lock(deviceID)
	defer unlock()

	device, ok := p.lookup(deviceID)
	if !ok {
		return
	}
	log := p.logger.With().Str("device_id", deviceID).Logger()

	tr, err := p.reconciler.Sweep(ctx, deviceID, now)
	if err != nil {
		log.Error().Err(err).Msg("sweep device status")
	}
	if tr != nil {
		p.onTransition(ctx, device, *tr)
	}
	if err := p.engine.EscalateDevice(ctx, deviceID, now); err != nil {
		log.Error().Err(err).Msg("escalate alerts")
	}
	if err := p.engine.ResolveOrphaned(ctx, deviceID); err != nil {
		log.Error().Err(err).Msg("resolve orphaned alerts")
	}

	if p.offlineGrace <= 0 {
		return
	}
	rec, err := p.reconciler.Get(ctx, deviceID)
	if err != nil {
		return
	}
	if rec.Status == health.StatusOffline && now.Sub(rec.ChangedAt) >= p.offlineGrace {
		p.setPaused(deviceID, true)
	}
}

// RuleStore is the rule side of the alert queries used for deletion.
type RuleStore interface {
	DeleteRule(ctx context.Context, id string) error
	ListAlerts(ctx context.Context, filter alerts.AlertFilter) ([]alerts.Alert, error)
}

// DeleteRule removes a rule and resolves its open alerts under each affected
// device's lock.
func (p *Pipeline) DeleteRule(ctx context.Context, ruleID string) error {
	if p.rules == nil {
		return errors.New("monitor: rule store not configured")
	}
	if err := p.rules.DeleteRule(ctx, ruleID); err != nil {
		return err
	}
	open, err := p.rules.ListAlerts(ctx, alerts.AlertFilter{RuleID: ruleID, OpenOnly: true})
	if err != nil {
		return fmt.Errorf("monitor: list open alerts: %w", err)
	}
	seen := make(map[string]struct{}, len(open))
	var errs []error
	for _, alert := range open {
		if _, ok := seen[alert.DeviceID]; ok {
			continue
		}
		seen[alert.DeviceID] = struct{}{}
		unlock := p.locks.Lock(alert.DeviceID)
		errs = append(errs, p.engine.ResolveOrphaned(ctx, alert.DeviceID))
		unlock()
	}
	return errors.Join(errs...)
}

// Sweeper runs Pipeline.Sweep on a cron schedule.
type Sweeper struct {
	cron     *cron.Cron
	pipeline *Pipeline
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewSweeper schedules the sweep. Six-field expressions enable seconds.
func NewSweeper(pipeline *Pipeline, schedule string, timeout time.Duration, logger zerolog.Logger) (*Sweeper, error) {
	if pipeline == nil {
		return nil, errors.New("monitor: nil pipeline")
	}
	logger = logger.With().Str("component", "sweeper").Logger()
	cronLogger := cronLog{logger: logger}
	opts := []cron.Option{
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	}
	if strings.Count(strings.TrimSpace(schedule), " ") == 5 {
		opts = append(opts, cron.WithSeconds())
	}
	s := &Sweeper{
		cron:     cron.New(opts...),
		pipeline: pipeline,
		timeout:  timeout,
		logger:   logger,
	}
	if _, err := s.cron.AddJob(schedule, s); err != nil {
		return nil, fmt.Errorf("monitor: sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Run implements cron.Job.
func (s *Sweeper) Run() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	started := time.Now()
	s.pipeline.Sweep(ctx)
	s.logger.Debug().Dur("elapsed", time.Since(started)).Msg("sweep finished")
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

type cronLog struct {
	logger zerolog.Logger
}

func (l cronLog) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLog) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
