package deviceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	devices "homewatch/internal/devices/domain"
	polling "homewatch/internal/polling/domain"
)

const maxBodyBytes = 1 << 20

// Client talks to devices over their local HTTP API.
type Client struct {
	http    *http.Client
	timeout time.Duration
	schemas map[devices.Category]*jsonschema.Schema
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithTimeout bounds every request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// New constructs a device client with the payload schemas compiled.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		http:    &http.Client{},
		timeout: 5 * time.Second,
		schemas: make(map[devices.Category]*jsonschema.Schema, len(payloadSchemas)),
	}
	for _, opt := range opts {
		opt(c)
	}
	compiler := jsonschema.NewCompiler()
	for category, doc := range payloadSchemas {
		schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
		if err != nil {
			return nil, fmt.Errorf("device client: parse %s schema: %w", category, err)
		}
		name := string(category) + ".json"
		if err := compiler.AddResource(name, schemaDoc); err != nil {
			return nil, fmt.Errorf("device client: add %s schema: %w", category, err)
		}
		compiled, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("device client: compile %s schema: %w", category, err)
		}
		c.schemas[category] = compiled
	}
	return c, nil
}

type payload struct {
	Power       *float64 `json:"power"`
	Voltage     *float64 `json:"voltage"`
	Current     *float64 `json:"current"`
	EnergyWh    *float64 `json:"energy_wh"`
	Motion      *bool    `json:"motion"`
	Lux         *float64 `json:"lux"`
	Temperature *float64 `json:"temperature"`
	Battery     *float64 `json:"battery"`
	TS          *float64 `json:"ts"`
}

// Fetch polls one category of a device. Failures wrap
// polling.ErrTransientNetwork or polling.ErrMalformedResponse.
func (c *Client) Fetch(ctx context.Context, key polling.Key, address, endpoint string) (polling.Result, error) {
	schema, ok := c.schemas[key.Category]
	if !ok {
		return polling.Result{}, fmt.Errorf("%w: no schema for category %s", polling.ErrMalformedResponse, key.Category)
	}
	body, err := c.get(ctx, address, endpoint, nil)
	if err != nil {
		return polling.Result{}, err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return polling.Result{}, fmt.Errorf("%w: invalid json: %v", polling.ErrMalformedResponse, err)
	}
	if err := schema.Validate(doc); err != nil {
		return polling.Result{}, fmt.Errorf("%w: %s payload: %v", polling.ErrMalformedResponse, key.Category, err)
	}
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return polling.Result{}, fmt.Errorf("%w: decode: %v", polling.ErrMalformedResponse, err)
	}
	return decode(key, p), nil
}

// Command issues a control command. value feeds control.ValueParam when set.
func (c *Client) Command(ctx context.Context, address string, control devices.Control, value *int) error {
	query := url.Values{}
	for k, v := range control.Params {
		query.Set(k, v)
	}
	if control.ValueParam != "" {
		if value == nil {
			return fmt.Errorf("device client: %s requires a value", control.Action)
		}
		query.Set(control.ValueParam, strconv.Itoa(*value))
	}
	_, err := c.get(ctx, address, control.Endpoint, query)
	return err
}

func (c *Client) get(ctx context.Context, address, endpoint string, query url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := url.URL{Scheme: "http", Host: address, Path: endpoint}
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", polling.ErrMalformedResponse, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", polling.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", polling.ErrTransientNetwork, err)
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", polling.ErrTransientNetwork, resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: status %d", polling.ErrMalformedResponse, resp.StatusCode)
	}
	return body, nil
}

func decode(key polling.Key, p payload) polling.Result {
	result := polling.Result{Key: key}
	ts := unixTime(p.TS)
	switch key.Category {
	case devices.CategoryPower:
		result.Power = &polling.PowerSample{TS: ts, Watts: deref(p.Power), Voltage: p.Voltage, Current: p.Current}
	case devices.CategoryEnergy:
		result.Energy = &polling.EnergySample{TS: ts, TotalWh: deref(p.EnergyWh)}
	case devices.CategoryMotion:
		detected := p.Motion != nil && *p.Motion
		result.Motion = &polling.MotionSample{TS: ts, Detected: detected, Lux: p.Lux, Temperature: p.Temperature}
	case devices.CategoryBattery:
		result.Battery = &polling.BatterySample{TS: ts, Percent: deref(p.Battery)}
	}
	return result
}

func unixTime(ts *float64) time.Time {
	if ts == nil || *ts <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(*ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
