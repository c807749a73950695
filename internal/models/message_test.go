package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContentRefDeduplicatesCarrierRetries(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 15, 10, 0, time.UTC)

	first := RawMessage{Sender: "M-Money", Body: "You have received RWF 5,000", ReceivedAt: base}
	// Same message redelivered by the carrier a few seconds later, same minute.
	retry := RawMessage{Sender: "M-Money", Body: "You have received RWF 5,000", ReceivedAt: base.Add(20 * time.Second)}

	assert.Equal(t, first.ContentRef(), retry.ContentRef(),
		"Duplicate delivery within the same minute must map to the same reference")
}

func TestContentRefSeparatesDistinctMessages(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 15, 0, 0, time.UTC)

	a := RawMessage{Sender: "M-Money", Body: "You have received RWF 5,000", ReceivedAt: base}
	b := RawMessage{Sender: "M-Money", Body: "You have received RWF 9,000", ReceivedAt: base}
	assert.NotEqual(t, a.ContentRef(), b.ContentRef(), "Different bodies must produce different references")

	// Identical body but a genuinely later transaction.
	later := RawMessage{Sender: "M-Money", Body: a.Body, ReceivedAt: base.Add(5 * time.Minute)}
	assert.NotEqual(t, a.ContentRef(), later.ContentRef(),
		"A repeat transaction minutes later must produce a new reference")
}

func TestNewTransactionRecord(t *testing.T) {
	raw := RawMessage{Sender: "M-Money", Body: "body", ReceivedAt: time.Now(), Slot: 1}
	parsed := ParsedTransaction{
		Amount:     ZeroMoney("RWF"),
		Direction:  DirectionReceived,
		Confidence: 1.0,
		Parser:     ParserPattern,
	}

	rec := NewTransactionRecord(raw, parsed)
	assert.NotEmpty(t, rec.ID, "Record id must be generated client-side")
	assert.Equal(t, raw.ContentRef(), rec.ContentRef)
	assert.Equal(t, StatePending, rec.State, "New records start PENDING")
	assert.Equal(t, 0, rec.RetryCount)
	assert.Nil(t, rec.RemoteID)
	assert.False(t, rec.WalletCredited)
	assert.False(t, rec.Terminal())
}
