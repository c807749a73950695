// Package syncer pushes pending transaction records to the remote ledger
// and drives the delivery state machine: PENDING → SYNCING → SYNCED or
// FAILED, with transient failures re-armed to PENDING until the retry
// ceiling. The engine exposes a single idempotent Run entry point; when and
// how often it runs is the caller's business (a timer, an on-demand
// trigger), never the engine's.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fjacquet/smspipe/internal/models"
	"fjacquet/smspipe/internal/store"
	"fjacquet/smspipe/internal/wallet"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogger allows setting a configured logger
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

const (
	// DefaultMaxRetry is the canonical attempt ceiling for transient
	// failures. 4xx rejections never retry regardless.
	DefaultMaxRetry = 3

	// DefaultTimeout bounds one outbound sync call.
	DefaultTimeout = 30 * time.Second
)

// Outcome is the tri-state result of one engine invocation, shaped to map
// directly onto whatever scheduling primitive drives the engine.
type Outcome int

const (
	// OutcomeSuccess: at least one record synced, or nothing was pending.
	OutcomeSuccess Outcome = iota
	// OutcomeRetry: no record synced but some were re-armed for another
	// attempt under the ceiling.
	OutcomeRetry
	// OutcomeFailure: every attempted record ended terminal.
	OutcomeFailure
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// RecordStore is the slice of the store the engine needs.
type RecordStore interface {
	ListSyncable(maxRetry int) ([]models.TransactionRecord, error)
	UpdateState(id string, state models.DeliveryState, upd store.StateUpdate) error
	MarkWalletCredited(id string) (bool, error)
}

// Config carries the engine's construction parameters.
type Config struct {
	// Endpoint is the remote sync URL.
	Endpoint string

	// APIKey, when set, is sent as a bearer credential.
	APIKey string

	// MaxRetry is the transient-failure attempt ceiling. Defaults to
	// DefaultMaxRetry.
	MaxRetry int

	// Timeout bounds one outbound call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Ledger receives wallet credits for received payments. Defaults to a
	// no-op ledger.
	Ledger wallet.Ledger

	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Engine is the sync/retry worker.
type Engine struct {
	store    RecordStore
	ledger   wallet.Ledger
	client   *http.Client
	endpoint string
	apiKey   string
	maxRetry int
}

// New creates a sync engine over the given store.
func New(st RecordStore, cfg Config) *Engine {
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = DefaultMaxRetry
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Ledger == nil {
		cfg.Ledger = wallet.Noop{}
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Engine{
		store:    st,
		ledger:   cfg.Ledger,
		client:   client,
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		maxRetry: cfg.MaxRetry,
	}
}

// syncPayload is the wire shape of one outbound record.
type syncPayload struct {
	LocalID       string `json:"localId"`
	Sender        string `json:"sender"`
	Body          string `json:"body"`
	Timestamp     string `json:"timestamp"`
	Status        string `json:"status"`
	Amount        string `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	MerchantCode  string `json:"merchantCode,omitempty"`
	Provider      string `json:"provider,omitempty"`
	ProviderType  string `json:"providerType,omitempty"`
}

// syncResponse is the acknowledgement body on 2xx.
type syncResponse struct {
	ID string `json:"id"`
}

// Run performs one sync invocation: select the batch, push each record
// sequentially in insertion order, and fold the per-record results into a
// tri-state outcome. A store failure aborts the invocation; everything
// else degrades per record. Cancelling the context mid-batch leaves
// in-flight SYNCING records as-is; they self-heal on the next invocation.
func (e *Engine) Run(ctx context.Context) (Outcome, error) {
	records, err := e.store.ListSyncable(e.maxRetry)
	if err != nil {
		return OutcomeFailure, err
	}
	if len(records) == 0 {
		log.Debug("No records pending sync")
		return OutcomeSuccess, nil
	}

	log.WithField("count", len(records)).Info("Starting sync invocation")

	var synced, rearmed, terminal int
	for i := range records {
		if ctx.Err() != nil {
			log.Warn("Sync invocation cancelled mid-batch")
			break
		}
		rec := &records[i]
		if err := e.syncOne(ctx, rec, &synced, &rearmed, &terminal); err != nil {
			// Only the store can produce this error class; losing the
			// durability guarantee outranks any network failure.
			return OutcomeFailure, err
		}
	}

	outcome := OutcomeFailure
	switch {
	case synced > 0:
		outcome = OutcomeSuccess
	case rearmed > 0:
		outcome = OutcomeRetry
	case terminal == 0:
		// Cancelled before anything completed; the batch is still intact.
		outcome = OutcomeRetry
	}

	log.WithFields(logrus.Fields{
		"synced":   synced,
		"rearmed":  rearmed,
		"terminal": terminal,
		"outcome":  outcome.String(),
	}).Info("Sync invocation finished")
	return outcome, nil
}

// syncOne drives a single record through one attempt. Returned errors are
// store errors; delivery errors are folded into the counters.
func (e *Engine) syncOne(ctx context.Context, rec *models.TransactionRecord, synced, rearmed, terminal *int) error {
	// Mark in-flight before the network call so a crash mid-call leaves the
	// record recoverable.
	if err := e.store.UpdateState(rec.ID, models.StateSyncing, store.StateUpdate{}); err != nil {
		return err
	}

	status, remoteID, pushErr := e.push(ctx, rec)
	attempts := rec.RetryCount + 1

	switch {
	case pushErr == nil && status >= 200 && status < 300:
		upd := store.StateUpdate{RetryCount: &attempts}
		if remoteID != "" {
			upd.RemoteID = &remoteID
		}
		if err := e.store.UpdateState(rec.ID, models.StateSynced, upd); err != nil {
			return err
		}
		*synced++
		e.creditWallet(ctx, rec)
		return nil

	case pushErr == nil && status >= 400 && status < 500:
		// Permanent rejection: the same bytes will not start succeeding, so
		// the record is not re-armed.
		msg := fmt.Sprintf("remote rejected with HTTP %d", status)
		if err := e.store.UpdateState(rec.ID, models.StateFailed, store.StateUpdate{
			LastError:  &msg,
			RetryCount: &attempts,
		}); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"id": rec.ID, "status": status}).
			Warn("Record permanently rejected by backend")
		*terminal++
		return nil

	default:
		// 5xx, network error or timeout: transient.
		msg := fmt.Sprintf("remote returned HTTP %d", status)
		if pushErr != nil {
			msg = pushErr.Error()
		}
		next := models.StatePending
		if attempts >= e.maxRetry {
			next = models.StateFailed
		}
		if err := e.store.UpdateState(rec.ID, next, store.StateUpdate{
			LastError:  &msg,
			RetryCount: &attempts,
		}); err != nil {
			return err
		}
		if next == models.StateFailed {
			log.WithFields(logrus.Fields{"id": rec.ID, "attempts": attempts}).
				Warn("Record exhausted its retry ceiling")
			*terminal++
		} else {
			log.WithFields(logrus.Fields{"id": rec.ID, "attempts": attempts}).
				Info("Transient sync failure, record re-armed")
			*rearmed++
		}
		return nil
	}
}

// push performs the outbound HTTP call for one record and decodes the
// acknowledgement.
func (e *Engine) push(ctx context.Context, rec *models.TransactionRecord) (int, string, error) {
	payload := syncPayload{
		LocalID:       rec.ID,
		Sender:        rec.Sender,
		Body:          rec.Body,
		Timestamp:     rec.ReceivedAt.UTC().Format(time.RFC3339),
		Status:        string(rec.Direction),
		Provider:      rec.Provider,
		ProviderType:  rec.ProviderType,
		TransactionID: rec.Reference,
		MerchantCode:  rec.Counterparty,
	}
	if !rec.Amount.IsZero() {
		payload.Amount = rec.Amount.String()
		payload.Currency = rec.Currency
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("failed to encode sync payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("failed to build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// The client-generated id doubles as the backend's de-duplication key.
	req.Header.Set("Idempotency-Key", rec.ID)
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	var ack syncResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if len(data) > 0 {
		// A 2xx with an unreadable body is still a success; the remote id
		// just stays unset.
		_ = json.Unmarshal(data, &ack)
	}
	return resp.StatusCode, ack.ID, nil
}

// creditWallet applies the at-most-once wallet credit for a received
// payment. The flag flip happens before the ledger call: if two attempts
// race (or a crash splits remote-success from local commit), only the flip
// winner calls the ledger. A ledger failure after the flip is logged for
// manual reconciliation rather than retried.
func (e *Engine) creditWallet(ctx context.Context, rec *models.TransactionRecord) {
	if rec.Direction != models.DirectionReceived || rec.Amount.IsZero() {
		return
	}
	won, err := e.store.MarkWalletCredited(rec.ID)
	if err != nil {
		log.WithError(err).WithField("id", rec.ID).Error("Failed to mark wallet credit")
		return
	}
	if !won {
		return
	}
	amount := models.NewMoney(rec.Amount, rec.Currency)
	if err := e.ledger.AddToken(ctx, amount, rec.ID, wallet.SourceSMSReceived); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"id":     rec.ID,
			"amount": amount.String(),
		}).Error("Wallet credit failed after flag was set, needs manual reconciliation")
		return
	}
	log.WithFields(logrus.Fields{
		"id":     rec.ID,
		"amount": amount.String(),
	}).Info("Wallet credited for received payment")
}
