// Package models defines the core data types shared across the pipeline:
// raw messages, parsed transactions, persisted transaction records and the
// delivery state machine they move through.
package models

import "github.com/shopspring/decimal"

// Direction classifies what a notification says happened to the money.
type Direction string

const (
	DirectionReceived Direction = "RECEIVED"
	DirectionSent     Direction = "SENT"
	DirectionCashOut  Direction = "CASH_OUT"
	DirectionAirtime  Direction = "AIRTIME"
	DirectionDeposit  Direction = "DEPOSIT"
	DirectionUnknown  Direction = "UNKNOWN"
)

// ParserKind identifies which parser produced a ParsedTransaction.
type ParserKind string

const (
	// ParserPattern means an exact provider pattern matched (confidence 1.0).
	ParserPattern ParserKind = "pattern"
	// ParserHeuristic means the keyword/regex fallback produced the result.
	ParserHeuristic ParserKind = "heuristic"
	// ParserAI means the Gemini fallback produced the result.
	ParserAI ParserKind = "ai"
	// ParserNone means nothing could extract fields; only the raw evidence
	// is preserved.
	ParserNone ParserKind = "none"
)

// ParsedTransaction holds the structured fields extracted from a RawMessage.
type ParsedTransaction struct {
	// Amount carries the transaction amount and the ISO 4217 currency code.
	// The currency always comes from the provider configuration, never from
	// the message text.
	Amount Money `json:"amount"`

	// Counterparty is the other party's label as it appeared in the message,
	// trimmed and whitespace-normalized.
	Counterparty string `json:"counterparty,omitempty"`

	// Reference is the provider-assigned transaction id, when present.
	Reference string `json:"reference,omitempty"`

	// Balance is the post-transaction balance, when the message reports one.
	Balance *decimal.Decimal `json:"balance,omitempty"`

	Direction Direction `json:"direction"`

	// Confidence is 1.0 for an exact provider pattern match and lower for
	// fallback parsers. A record with an unparseable amount is capped at 0.3.
	Confidence float64 `json:"confidence"`

	Parser ParserKind `json:"parser"`

	// Provider is the provider code resolved from the registry.
	Provider string `json:"provider,omitempty"`

	// ProviderType distinguishes provider categories (e.g. "mobile_money").
	ProviderType string `json:"provider_type,omitempty"`
}
