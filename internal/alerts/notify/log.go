package notify

import (
	"context"

	"github.com/rs/zerolog"

	alertapp "homewatch/internal/alerts/application"
)

// LogNotifier writes alert events to the service log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the event.
func (l *LogNotifier) Notify(_ context.Context, event alertapp.Event) {
	if l == nil {
		return
	}
	entry := l.logger.Info()
	if event.Type == alertapp.EventEscalated {
		entry = l.logger.Warn()
	}
	entry.
		Str("event", event.Type).
		Str("alert_id", event.Alert.ID).
		Str("rule_id", event.Alert.RuleID).
		Str("rule", event.Rule.Name).
		Str("device_id", event.Alert.DeviceID).
		Str("category", event.Alert.Category).
		Str("severity", string(event.Alert.Severity)).
		Float64("value", event.Alert.Value).
		Str("reason", event.Alert.ResolveReason).
		Msg("alert")
}
