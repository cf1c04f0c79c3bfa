// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package challenge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/keyward/keyward/lib/netutil"
)

// Publisher delivers a serialized challenge to the paired device's
// notification topic. Delivery is at-most-once and best-effort: no
// acknowledgment is assumed, and the round's correctness never depends
// on the notification arriving. The callback listener is the
// authoritative channel.
type Publisher interface {
	Publish(ctx context.Context, topic string, notification Notification) error
}

// Notification is the JSON message published to the notification
// topic. It carries everything the companion app needs to render the
// approval prompt and to produce the signature: the human-readable
// request fields plus the exact payload bytes to sign.
type Notification struct {
	Nonce     string    `json:"nonce"`
	Command   string    `json:"command"`
	User      string    `json:"user"`
	Host      string    `json:"host"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Payload is the base64 canonical CBOR signature input. The
	// device signs these exact bytes (wrapped in the verdict
	// envelope) rather than re-encoding the JSON fields.
	Payload string `json:"payload"`

	// CallbackPort is where the device posts its signed verdict.
	CallbackPort int `json:"callback_port"`
}

// NewNotification builds the published message for a challenge.
func NewNotification(c *Challenge, payload []byte, callbackPort int) Notification {
	return Notification{
		Nonce:        c.Nonce,
		Command:      c.Command,
		User:         c.User,
		Host:         c.Host,
		IssuedAt:     c.IssuedAt,
		ExpiresAt:    c.ExpiresAt(),
		Payload:      base64.StdEncoding.EncodeToString(payload),
		CallbackPort: callbackPort,
	}
}

// HTTPPublisher publishes challenges by POSTing JSON to a
// push-gateway topic URL (gateway base URL + "/" + topic). Gateways
// with this shape fan the message out to the subscribed device as a
// push notification.
type HTTPPublisher struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// HTTPPublisherConfig configures an HTTPPublisher.
type HTTPPublisherConfig struct {
	// GatewayURL is the push gateway base URL. Required.
	GatewayURL string

	// HTTPClient is used for all requests. If nil, a client with a
	// short timeout is used; a slow gateway must not eat the
	// challenge TTL.
	HTTPClient *http.Client

	// Logger is the structured logger. If nil, slog.Default().
	Logger *slog.Logger
}

// NewHTTPPublisher creates an HTTPPublisher.
func NewHTTPPublisher(config HTTPPublisherConfig) (*HTTPPublisher, error) {
	if config.GatewayURL == "" {
		return nil, fmt.Errorf("challenge: GatewayURL is required")
	}
	if _, err := url.Parse(config.GatewayURL); err != nil {
		return nil, fmt.Errorf("challenge: invalid GatewayURL %q: %w", config.GatewayURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPPublisher{
		baseURL:    strings.TrimRight(config.GatewayURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Publish POSTs the notification to the topic. A non-2xx status is an
// error, but callers treat any publish failure as a logged anomaly,
// not a round failure.
func (p *HTTPPublisher) Publish(ctx context.Context, topic string, notification Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("challenge: encoding notification: %w", err)
	}

	endpoint := p.baseURL + "/" + url.PathEscape(topic)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("challenge: building publish request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := p.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("challenge: publishing to topic: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("challenge: publish returned %d: %s",
			response.StatusCode, netutil.ErrorBody(response.Body))
	}

	p.logger.Debug("published challenge notification", "topic", topic, "nonce", notification.Nonce)
	return nil
}
