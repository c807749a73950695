package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	testLogger := logrus.New()
	testLogger.SetLevel(logrus.DebugLevel)
	SetLogger(testLogger)
}

// logRecorder captures delivery log rows in memory.
type logRecorder struct {
	rows []logRow
	err  error
}

type logRow struct {
	destination string
	url         string
	statusCode  int
	response    string
	latency     time.Duration
}

func (l *logRecorder) LogDelivery(destination, url string, statusCode int, response string, latency time.Duration) error {
	l.rows = append(l.rows, logRow{destination, url, statusCode, response, latency})
	return l.err
}

func samplePayload() Payload {
	return Payload{
		LocalID:      "rec-1",
		Sender:       "M-Money",
		Amount:       "5000",
		Currency:     "RWF",
		Direction:    "RECEIVED",
		Counterparty: "0788123456",
		Timestamp:    "2025-03-10T09:15:00Z",
	}
}

func TestRelaySignsAndDelivers(t *testing.T) {
	const secret = "webhook-secret"

	var gotBody []byte
	var gotSignature, gotTimestamp, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotTimestamp = r.Header.Get("X-Webhook-Timestamp")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	logs := &logRecorder{}
	relay := New(logs, 5*time.Second)
	dest := Destination{Name: "ledger-hook", URL: srv.URL, Secret: secret, APIKey: "hook-key", Active: true}

	result := relay.Relay(context.Background(), dest, samplePayload())
	assert.True(t, result.Delivered, "2xx acknowledgement must count as delivered")
	assert.False(t, result.Skipped)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.NoError(t, result.Err)

	// The signature must verify against the exact bytes on the wire.
	assert.Equal(t, Sign(secret, gotBody), gotSignature, "Signature must match the transmitted bytes")
	_, err := time.Parse(time.RFC3339, gotTimestamp)
	assert.NoError(t, err, "Timestamp header must be RFC3339")
	assert.Equal(t, "Bearer hook-key", gotAuth)

	var received Payload
	require.NoError(t, json.Unmarshal(gotBody, &received))
	assert.Equal(t, samplePayload(), received)

	require.Len(t, logs.rows, 1, "Every attempted delivery gets a log row")
	assert.Equal(t, "ledger-hook", logs.rows[0].destination)
	assert.Equal(t, http.StatusOK, logs.rows[0].statusCode)
	assert.Equal(t, `{"accepted":true}`, logs.rows[0].response)
}

func TestRelayInactiveDestination(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	logs := &logRecorder{}
	relay := New(logs, 5*time.Second)
	dest := Destination{Name: "paused", URL: srv.URL, Secret: "s", Active: false}

	result := relay.Relay(context.Background(), dest, samplePayload())
	assert.True(t, result.Skipped, "Inactive destinations are skipped")
	assert.False(t, result.Delivered)
	assert.NoError(t, result.Err)
	assert.Equal(t, int64(0), calls.Load(), "No HTTP call for an inactive destination")
	assert.Empty(t, logs.rows, "No delivery log row for a skipped relay")
}

func TestRelayRejectedDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("bad signature"))
	}))
	defer srv.Close()

	logs := &logRecorder{}
	relay := New(logs, 5*time.Second)
	dest := Destination{Name: "strict", URL: srv.URL, Secret: "s", Active: true}

	result := relay.Relay(context.Background(), dest, samplePayload())
	assert.False(t, result.Delivered)
	assert.Equal(t, http.StatusForbidden, result.StatusCode)
	assert.NoError(t, result.Err, "A non-2xx is a rejection, not a transport error")

	require.Len(t, logs.rows, 1, "Rejected deliveries are logged too")
	assert.Equal(t, http.StatusForbidden, logs.rows[0].statusCode)
	assert.Equal(t, "bad signature", logs.rows[0].response)
}

func TestRelayTransportError(t *testing.T) {
	logs := &logRecorder{}
	relay := New(logs, time.Second)
	dest := Destination{Name: "gone", URL: "http://127.0.0.1:1", Secret: "s", Active: true}

	result := relay.Relay(context.Background(), dest, samplePayload())
	assert.False(t, result.Delivered)
	assert.Error(t, result.Err)

	require.Len(t, logs.rows, 1, "Transport failures still get a log row")
	assert.Equal(t, 0, logs.rows[0].statusCode)
	assert.NotEmpty(t, logs.rows[0].response)
}

func TestRelayAbsorbsLoggerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logs := &logRecorder{err: assert.AnError}
	relay := New(logs, 5*time.Second)
	dest := Destination{Name: "hook", URL: srv.URL, Secret: "s", Active: true}

	result := relay.Relay(context.Background(), dest, samplePayload())
	assert.True(t, result.Delivered, "A failing delivery log must not fail the relay")
	assert.NoError(t, result.Err)
}

func TestSignIsDeterministic(t *testing.T) {
	body := []byte(`{"localId":"rec-1"}`)
	assert.Equal(t, Sign("secret", body), Sign("secret", body))
	assert.NotEqual(t, Sign("secret", body), Sign("other", body),
		"Different secrets must produce different signatures")
	assert.NotEqual(t, Sign("secret", body), Sign("secret", []byte(`{"localId":"rec-2"}`)),
		"Different payloads must produce different signatures")
}

func TestTruncateCapsResponse(t *testing.T) {
	long := make([]byte, maxLoggedResponse*2)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, truncate(string(long), maxLoggedResponse), maxLoggedResponse)
	assert.Equal(t, "short", truncate("short", maxLoggedResponse))
}
