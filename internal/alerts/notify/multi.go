package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	alertapp "homewatch/internal/alerts/application"
)

// MultiNotifier fans an event out to several notifiers. A notifier that
// panics is logged and skipped; the rest still receive the event.
type MultiNotifier struct {
	notifiers []alertapp.Notifier
	logger    zerolog.Logger
}

// NewMultiNotifier drops nil entries.
func NewMultiNotifier(logger zerolog.Logger, notifiers ...alertapp.Notifier) *MultiNotifier {
	kept := make([]alertapp.Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			kept = append(kept, notifier)
		}
	}
	return &MultiNotifier{
		notifiers: kept,
		logger:    logger.With().Str("component", "notify_fanout").Logger(),
	}
}

// Notify implements alertapp.Notifier.
func (m *MultiNotifier) Notify(ctx context.Context, event alertapp.Event) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		m.deliver(ctx, notifier, event)
	}
}

func (m *MultiNotifier) deliver(ctx context.Context, notifier alertapp.Notifier, event alertapp.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("notifier", fmt.Sprintf("%T", notifier)).
				Str("alert_id", event.Alert.ID).
				Str("event", event.Type).
				Interface("panic", r).
				Msg("notifier panicked")
		}
	}()
	notifier.Notify(ctx, event)
}
