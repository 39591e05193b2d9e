package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	alertapp "homewatch/internal/alerts/application"
	alerts "homewatch/internal/alerts/domain"
)

// DeviceNamer resolves a display name for a device.
type DeviceNamer func(ctx context.Context, deviceID string) string

// Clock provides time for cooldown bookkeeping.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alert events and delivers them through a channel.
// Delivery runs off the caller's goroutine so a slow endpoint never holds up
// evaluation.
type Notifier struct {
	channel        Channel
	template       *Template
	clock          Clock
	logger         zerolog.Logger
	deviceName     DeviceNamer
	mu             sync.Mutex
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration
	wg             sync.WaitGroup
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout bounds each delivery.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alert and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithDeviceNamer injects a device display-name resolver.
func WithDeviceNamer(namer DeviceNamer) Option {
	return func(n *Notifier) {
		if namer != nil {
			n.deviceName = namer
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		logger:         zerolog.Nop(),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With().Str("component", "notifier").Logger()
	return n, nil
}

// Notify implements alertapp.Notifier.
func (n *Notifier) Notify(ctx context.Context, event alertapp.Event) {
	if n == nil || n.channel == nil {
		return
	}
	device := event.Alert.DeviceID
	if n.deviceName != nil {
		if name := n.deviceName(ctx, event.Alert.DeviceID); name != "" {
			device = name
		}
	}
	content, err := n.template.Render(buildTemplateData(event, device))
	if err != nil {
		n.logger.Error().Err(err).Str("alert_id", event.Alert.ID).Msg("render notification")
		return
	}
	release, ok := n.reserve(event.Alert.ID, event.Type, content)
	if !ok {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if !n.dispatch(Message{Event: event, Text: content}) {
			release()
		}
	}()
}

// Close waits for in-flight deliveries.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

func (n *Notifier) dispatch(msg Message) bool {
	ctx, cancel := context.WithTimeout(context.Background(), n.requestTimeout)
	defer cancel()
	if err := n.channel.Send(ctx, msg); err != nil {
		n.logger.Warn().
			Err(err).
			Str("alert_id", msg.Event.Alert.ID).
			Str("event", msg.Event.Type).
			Msg("notification delivery failed")
		return false
	}
	return true
}

func buildTemplateData(event alertapp.Event, device string) TemplateData {
	alert := event.Alert
	rule := event.Rule
	ruleName := alert.RuleID
	if rule.Name != "" {
		ruleName = rule.Name
	}
	threshold := ""
	if rule.Comparator != "" {
		threshold = fmt.Sprintf("%s %s", rule.Comparator, formatFloat(rule.Threshold))
	}
	status := "open"
	if !alert.Open() {
		status = "resolved"
	}
	return TemplateData{
		Device:       device,
		DeviceID:     alert.DeviceID,
		Rule:         ruleName,
		RuleID:       alert.RuleID,
		Category:     alert.Category,
		TriggerValue: formatFloat(alert.Value),
		Threshold:    threshold,
		StartTime:    alert.TriggeredAt.UTC().Format(time.RFC3339),
		Status:       status,
		Severity:     string(alert.Severity),
		Reason:       alert.ResolveReason,
		Suggestion:   suggestionFor(alert),
		Event:        event.Type,
		EventLabel:   eventLabel(event.Type),
	}
}

func eventLabel(event string) string {
	switch event {
	case alertapp.EventOpened:
		return "Triggered"
	case alertapp.EventResolved:
		return "Resolved"
	case alertapp.EventEscalated:
		return "Escalated"
	default:
		return event
	}
}

func suggestionFor(alert alerts.Alert) string {
	switch alert.Category {
	case "status":
		return "Check that the device is powered and reachable on the network."
	}
	switch alert.Severity {
	case alerts.SeverityCritical, alerts.SeverityHigh:
		return "Investigate immediately."
	case alerts.SeverityMedium:
		return "Verify the reading and act if needed."
	default:
		return "Keep an eye on the device."
	}
}

func formatFloat(value float64) string {
	return fmt.Sprintf("%.2f", value)
}

// reserve applies cooldown and dedupe and claims the slot of this send under
// the lock, so back-to-back events cannot both pass. The returned release
// restores the previous slot when delivery fails.
func (n *Notifier) reserve(alertID, eventType, content string) (func(), bool) {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return func() {}, true
	}
	key := notificationKey(alertID, eventType)
	now := n.clock.Now().UTC()
	claimed := sendRecord{at: now, hash: hashContent(content)}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.prune(now)
	previous, had := n.sent[key]
	if had {
		if n.cooldown > 0 && now.Sub(previous.at) < n.cooldown {
			return nil, false
		}
		if n.dedupeWindow > 0 && previous.hash == claimed.hash && now.Sub(previous.at) < n.dedupeWindow {
			return nil, false
		}
	}
	n.sent[key] = claimed
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.sent[key] != claimed {
			return
		}
		if had {
			n.sent[key] = previous
		} else {
			delete(n.sent, key)
		}
	}, true
}

// prune drops slots that no longer suppress anything. Callers hold n.mu.
func (n *Notifier) prune(now time.Time) {
	retention := max(n.cooldown, n.dedupeWindow)
	for key, record := range n.sent {
		if now.Sub(record.at) >= retention {
			delete(n.sent, key)
		}
	}
}

func notificationKey(alertID, eventType string) string {
	return alertID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
