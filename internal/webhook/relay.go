// Package webhook signs and forwards parsed transaction payloads to
// user-configured third-party endpoints. Delivery outcomes are logged
// append-only through the store; logging never blocks or changes the
// relay's return value.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogger allows setting a configured logger
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// maxLoggedResponse caps how much of a destination's response body lands in
// the delivery log.
const maxLoggedResponse = 512

// Destination is one user-configured webhook endpoint.
type Destination struct {
	Name   string `mapstructure:"name" yaml:"name"`
	URL    string `mapstructure:"url" yaml:"url"`
	Secret string `mapstructure:"secret" yaml:"secret"`
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	Active bool   `mapstructure:"active" yaml:"active"`
}

// Payload is the canonical JSON body relayed to destinations. Field order
// is fixed by the struct, and the signature is computed over the exact
// bytes transmitted.
type Payload struct {
	LocalID      string `json:"localId"`
	Sender       string `json:"sender"`
	Amount       string `json:"amount,omitempty"`
	Currency     string `json:"currency,omitempty"`
	Direction    string `json:"direction"`
	Counterparty string `json:"counterparty,omitempty"`
	Reference    string `json:"reference,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// DeliveryResult reports one relay attempt.
type DeliveryResult struct {
	// Delivered is true when the destination acknowledged with a 2xx.
	Delivered bool
	// Skipped is true when the destination was inactive and no HTTP call
	// was made. A skipped relay is a success, not an error.
	Skipped    bool
	StatusCode int
	Latency    time.Duration
	Err        error
}

// DeliveryLogger records delivery outcomes. Implemented by the store.
type DeliveryLogger interface {
	LogDelivery(destination, url string, statusCode int, response string, latency time.Duration) error
}

// Relay performs signed webhook deliveries.
type Relay struct {
	client *http.Client
	logs   DeliveryLogger
}

// New creates a Relay. logs may be nil, in which case outcomes are only
// written to the application log.
func New(logs DeliveryLogger, timeout time.Duration) *Relay {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Relay{
		client: &http.Client{Timeout: timeout},
		logs:   logs,
	}
}

// Relay posts the payload to one destination. Inactive destinations are a
// no-op success with no HTTP call and no delivery log row, so batch callers
// need no special-casing. Every attempted delivery gets a log row whether
// it succeeded or not.
func (r *Relay) Relay(ctx context.Context, dest Destination, payload Payload) DeliveryResult {
	if !dest.Active {
		log.WithField("destination", dest.Name).Debug("Destination inactive, skipping relay")
		return DeliveryResult{Skipped: true}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).WithField("destination", dest.Name).Error("Failed to encode webhook payload")
		return DeliveryResult{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, bytes.NewReader(body))
	if err != nil {
		log.WithError(err).WithField("destination", dest.Name).Error("Failed to build webhook request")
		return DeliveryResult{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", Sign(dest.Secret, body))
	req.Header.Set("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339))
	if dest.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+dest.APIKey)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		r.logOutcome(dest, 0, truncate(err.Error(), maxLoggedResponse), latency)
		log.WithError(err).WithFields(logrus.Fields{
			"destination": dest.Name,
			"latency_ms":  latency.Milliseconds(),
		}).Warn("Webhook delivery failed")
		return DeliveryResult{Latency: latency, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedResponse))
	r.logOutcome(dest, resp.StatusCode, string(respBody), latency)

	delivered := resp.StatusCode >= 200 && resp.StatusCode < 300
	entry := log.WithFields(logrus.Fields{
		"destination": dest.Name,
		"status":      resp.StatusCode,
		"latency_ms":  latency.Milliseconds(),
	})
	if delivered {
		entry.Info("Webhook delivered")
	} else {
		entry.Warn("Webhook rejected by destination")
	}

	return DeliveryResult{
		Delivered:  delivered,
		StatusCode: resp.StatusCode,
		Latency:    latency,
	}
}

// logOutcome appends the delivery log row; failures are absorbed so logging
// can never block the relay's result.
func (r *Relay) logOutcome(dest Destination, status int, response string, latency time.Duration) {
	if r.logs == nil {
		return
	}
	if err := r.logs.LogDelivery(dest.Name, dest.URL, status, response, latency); err != nil {
		log.WithError(err).WithField("destination", dest.Name).Warn("Failed to append delivery log")
	}
}

// Sign computes the hex HMAC-SHA256 signature of the payload bytes under
// the destination secret. Exported so receivers (and tests) can verify.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
