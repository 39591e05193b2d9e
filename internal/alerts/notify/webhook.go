package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	alertapp "homewatch/internal/alerts/application"
	alerts "homewatch/internal/alerts/domain"
)

// EventSource is the CloudEvents source of every alert notification.
const EventSource = "homewatch/alerts"

// EventTypePrefix prefixes the CloudEvents type, e.g. io.homewatch.alert.opened.
const EventTypePrefix = "io.homewatch.alert."

// Message is a rendered notification.
type Message struct {
	Event alertapp.Event
	Text  string
}

// Channel delivers rendered notifications.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// WebhookData is the CloudEvents data of a webhook notification.
type WebhookData struct {
	Text  string       `json:"text"`
	Alert alerts.Alert `json:"alert"`
	Rule  alerts.Rule  `json:"rule"`
}

// WebhookChannel posts notifications as structured CloudEvents.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// NewCloudEvent wraps a message in a CloudEvents envelope.
func NewCloudEvent(msg Message) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(EventSource)
	event.SetType(EventTypePrefix + msg.Event.Type)
	event.SetSubject(msg.Event.Alert.DeviceID)
	event.SetTime(msg.Event.Alert.UpdatedAt)
	if event.Time().IsZero() {
		event.SetTime(time.Now().UTC())
	}
	err := event.SetData(cloudevents.ApplicationJSON, WebhookData{
		Text:  msg.Text,
		Alert: msg.Event.Alert,
		Rule:  msg.Event.Rule,
	})
	if err != nil {
		return cloudevents.Event{}, err
	}
	if err := event.Validate(); err != nil {
		return cloudevents.Event{}, err
	}
	return event, nil
}

// Send posts the CloudEvent.
func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	event, err := NewCloudEvent(msg)
	if err != nil {
		return fmt.Errorf("webhook channel: build event: %w", err)
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/cloudevents+json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
