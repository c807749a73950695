package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"fjacquet/smspipe/internal/models"
	"fjacquet/smspipe/internal/store"
	"fjacquet/smspipe/internal/wallet"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	testLogger := logrus.New()
	testLogger.SetLevel(logrus.DebugLevel)
	SetLogger(testLogger)
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "Failed to open test store")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func enqueue(t *testing.T, s *store.Store, body string, direction models.Direction) string {
	t.Helper()
	raw := models.RawMessage{Sender: "M-Money", Body: body, ReceivedAt: time.Now()}
	parsed := models.ParsedTransaction{
		Amount:     models.NewMoney(decimal.NewFromInt(5000), "RWF"),
		Direction:  direction,
		Confidence: 1.0,
		Parser:     models.ParserPattern,
		Provider:   "mtn-momo",
	}
	id, err := s.Enqueue(models.NewTransactionRecord(raw, parsed))
	require.NoError(t, err)
	return id
}

// statusByBody serves a canned status per payload body, mimicking a backend
// that accepts some records and rejects others.
func statusByBody(t *testing.T, statuses map[string]int, calls *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		var payload struct {
			LocalID string `json:"localId"`
			Body    string `json:"body"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, payload.LocalID, r.Header.Get("Idempotency-Key"),
			"Client record id must travel as the idempotency key")

		status, ok := statuses[payload.Body]
		if !ok {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		if status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "remote-" + payload.Body})
		}
	}
}

func TestRunMixedBatch(t *testing.T) {
	s := openTestStore(t)
	okID := enqueue(t, s, "one", models.DirectionSent)
	transientID := enqueue(t, s, "two", models.DirectionSent)
	rejectedID := enqueue(t, s, "three", models.DirectionSent)

	srv := httptest.NewServer(statusByBody(t, map[string]int{
		"one":   http.StatusOK,
		"two":   http.StatusServiceUnavailable,
		"three": http.StatusNotFound,
	}, nil))
	defer srv.Close()

	engine := New(s, Config{Endpoint: srv.URL})
	outcome, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome, "At least one record synced")

	got, err := s.Get(okID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSynced, got.State)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.RemoteID)
	assert.Equal(t, "remote-one", *got.RemoteID)

	got, err = s.Get(transientID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, got.State, "5xx re-arms the record")
	assert.Equal(t, 1, got.RetryCount)

	got, err = s.Get(rejectedID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, got.State, "4xx is a permanent rejection")
	assert.Equal(t, 1, got.RetryCount)
	assert.Contains(t, got.LastError, "404")
}

func TestRejectedRecordIsNeverRetried(t *testing.T) {
	s := openTestStore(t)
	enqueue(t, s, "bad", models.DirectionSent)

	var calls atomic.Int64
	srv := httptest.NewServer(statusByBody(t, map[string]int{"bad": http.StatusBadRequest}, &calls))
	defer srv.Close()

	engine := New(s, Config{Endpoint: srv.URL})

	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())

	// Subsequent invocations must not pick the record up again.
	outcome, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome, "Nothing pending is trivially successful")
	assert.Equal(t, int64(1), calls.Load(), "4xx records get exactly one attempt")
}

func TestRetryCeilingEndsTerminal(t *testing.T) {
	s := openTestStore(t)
	id := enqueue(t, s, "flaky", models.DirectionSent)

	var calls atomic.Int64
	srv := httptest.NewServer(statusByBody(t, map[string]int{"flaky": http.StatusInternalServerError}, &calls))
	defer srv.Close()

	engine := New(s, Config{Endpoint: srv.URL, MaxRetry: 3})

	for i := 0; i < 2; i++ {
		outcome, err := engine.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeRetry, outcome, "Failures under the ceiling request a retry")
	}

	outcome, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, outcome, "The last allowed attempt ends terminal")

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, got.State)
	assert.Equal(t, 3, got.RetryCount)

	// Terminal records are invisible to later invocations.
	outcome, err = engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, int64(3), calls.Load(), "No attempts beyond the ceiling")
}

func TestNetworkErrorIsTransient(t *testing.T) {
	s := openTestStore(t)
	id := enqueue(t, s, "unreachable", models.DirectionSent)

	// Nothing listens here; every call fails at the transport level.
	engine := New(s, Config{Endpoint: "http://127.0.0.1:1", Timeout: time.Second})

	outcome, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetry, outcome)

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, got.State)
	assert.Equal(t, 1, got.RetryCount)
	assert.NotEmpty(t, got.LastError)
}

func TestWalletCreditedOncePerRecord(t *testing.T) {
	s := openTestStore(t)
	id := enqueue(t, s, "payment", models.DirectionReceived)

	srv := httptest.NewServer(statusByBody(t, nil, nil))
	defer srv.Close()

	ledger := &wallet.Recorder{}
	engine := New(s, Config{Endpoint: srv.URL, Ledger: ledger})

	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, ledger.Credits(), 1, "Received payment must credit the wallet")
	credit := ledger.Credits()[0]
	assert.Equal(t, id, credit.SourceRef)
	assert.Equal(t, wallet.SourceSMSReceived, credit.SourceType)
	assert.Equal(t, "5000 RWF", credit.Amount.String())

	// Simulate a crash between remote-success and local commit: the record
	// is forced back through the engine and acknowledged a second time.
	require.NoError(t, s.UpdateState(id, models.StatePending, store.StateUpdate{RetryCount: new(int)}))
	_, err = engine.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, ledger.Credits(), 1, "The wallet is credited at most once per record")
}

func TestSentRecordsDoNotCreditWallet(t *testing.T) {
	s := openTestStore(t)
	enqueue(t, s, "outgoing", models.DirectionSent)

	srv := httptest.NewServer(statusByBody(t, nil, nil))
	defer srv.Close()

	ledger := &wallet.Recorder{}
	engine := New(s, Config{Endpoint: srv.URL, Ledger: ledger})

	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ledger.Credits(), "Only received payments credit the wallet")
}

func TestZeroPendingIsSuccess(t *testing.T) {
	s := openTestStore(t)
	engine := New(s, Config{Endpoint: "http://unused.invalid"})

	outcome, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
}

func TestCancellationLeavesBatchRecoverable(t *testing.T) {
	s := openTestStore(t)
	id := enqueue(t, s, "inflight", models.DirectionSent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := New(s, Config{Endpoint: "http://unused.invalid"})
	outcome, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetry, outcome, "A cancelled batch asks to be rescheduled")

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, got.State, "Nothing was attempted")
	assert.Equal(t, 0, got.RetryCount)

	// The record is still selectable afterwards.
	recs, err := s.ListSyncable(DefaultMaxRetry)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
