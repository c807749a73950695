package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// RawMessage is an inbound SMS notification exactly as it arrived from the
// device. It is immutable once captured and is the sole input to
// classification.
type RawMessage struct {
	// Sender is the originating identifier (short code or alphanumeric
	// sender id such as "M-Money").
	Sender string `json:"sender"`

	// Body is the verbatim message text.
	Body string `json:"body"`

	// ReceivedAt is the arrival timestamp on the device.
	ReceivedAt time.Time `json:"received_at"`

	// Slot is the SIM slot the message arrived on (0 for single-SIM devices).
	Slot int `json:"slot"`
}

// ContentRef returns a stable content-derived reference for deduplication.
// The timestamp is bucketed to the minute so that a benign duplicate
// delivery of the same message by the carrier (typically seconds apart)
// maps to the same reference, while a genuine repeat transaction with an
// identical body later in the day does not.
func (m RawMessage) ContentRef() string {
	bucket := m.ReceivedAt.UTC().Truncate(time.Minute).Format(time.RFC3339)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", m.Sender, m.Body, bucket)))
	return hex.EncodeToString(sum[:])
}
