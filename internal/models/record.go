package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DeliveryState is the lifecycle stage of a TransactionRecord in the sync
// state machine.
type DeliveryState string

const (
	// StatePending means the record is waiting for its next sync attempt.
	StatePending DeliveryState = "PENDING"
	// StateSyncing means a sync attempt is in flight. A record observed in
	// this state at selection time is treated like PENDING: a crash mid-call
	// leaves it recoverable, not stuck.
	StateSyncing DeliveryState = "SYNCING"
	// StateSynced means the remote ledger acknowledged the record. Terminal.
	StateSynced DeliveryState = "SYNCED"
	// StateFailed means the record was permanently rejected (4xx) or the
	// retry ceiling was reached. Terminal.
	StateFailed DeliveryState = "FAILED"
)

// TransactionRecord is the persisted unit of the pipeline: the verbatim raw
// message plus the fields extracted from it and its delivery state. It is
// the local source of truth until the remote ledger acknowledges it.
type TransactionRecord struct {
	// ID is generated client-side and stays stable across retries. It is
	// forwarded to the backend as the idempotency key.
	ID string `gorm:"primaryKey"`

	// ContentRef enforces one record per raw message (see RawMessage.ContentRef).
	ContentRef string `gorm:"uniqueIndex"`

	// Raw message fields, kept verbatim for audit and manual reprocessing.
	Sender     string
	Body       string
	ReceivedAt time.Time
	Slot       int

	// Parsed fields.
	Amount       decimal.Decimal `gorm:"type:numeric"`
	Currency     string
	Counterparty string
	Reference    string
	Balance      decimal.NullDecimal `gorm:"type:numeric"`
	Direction    Direction
	Confidence   float64
	Parser       ParserKind
	Provider     string
	ProviderType string

	// Delivery state machine fields, mutated only through the store.
	State      DeliveryState `gorm:"index"`
	RetryCount int
	LastError  string

	// RemoteID is assigned by the backend on acknowledgement. Set at most
	// once, never overwritten.
	RemoteID *string

	// WalletCredited guards the token ledger credit. Set at most once.
	WalletCredited bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTransactionRecord builds a PENDING record from a raw message and its
// parse result.
func NewTransactionRecord(raw RawMessage, parsed ParsedTransaction) *TransactionRecord {
	rec := &TransactionRecord{
		ID:           uuid.NewString(),
		ContentRef:   raw.ContentRef(),
		Sender:       raw.Sender,
		Body:         raw.Body,
		ReceivedAt:   raw.ReceivedAt,
		Slot:         raw.Slot,
		Amount:       parsed.Amount.Amount,
		Currency:     parsed.Amount.Currency,
		Counterparty: parsed.Counterparty,
		Reference:    parsed.Reference,
		Direction:    parsed.Direction,
		Confidence:   parsed.Confidence,
		Parser:       parsed.Parser,
		Provider:     parsed.Provider,
		ProviderType: parsed.ProviderType,
		State:        StatePending,
	}
	if parsed.Balance != nil {
		rec.Balance = decimal.NewNullDecimal(*parsed.Balance)
	}
	return rec
}

// Terminal reports whether the record has left the retry pool for good.
func (r *TransactionRecord) Terminal() bool {
	return r.State == StateSynced || r.State == StateFailed
}
