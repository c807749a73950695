// Package wallet defines the token ledger boundary. The ledger itself is
// an external collaborator; the pipeline only credits it, at most once per
// record, when a received payment has been captured.
package wallet

import (
	"context"
	"sync"

	"fjacquet/smspipe/internal/models"
)

// SourceType tags where a credit originated.
type SourceType string

// SourceSMSReceived marks credits coming from a classified received-payment SMS.
const SourceSMSReceived SourceType = "SMS_RECEIVED"

// Ledger is the consumed wallet interface.
type Ledger interface {
	// AddToken credits the wallet. sourceRef is the transaction record id,
	// which doubles as the idempotency key on the ledger side.
	AddToken(ctx context.Context, amount models.Money, sourceRef string, sourceType SourceType) error
}

// Noop is a Ledger that accepts every credit without doing anything. Used
// when no wallet integration is configured.
type Noop struct{}

// AddToken implements Ledger.
func (Noop) AddToken(context.Context, models.Money, string, SourceType) error {
	return nil
}

// Credit is one recorded AddToken call.
type Credit struct {
	Amount     models.Money
	SourceRef  string
	SourceType SourceType
}

// Recorder is a Ledger test double that records every credit and can be
// told to fail.
type Recorder struct {
	mu      sync.Mutex
	credits []Credit

	// Err, when set, is returned by every AddToken call.
	Err error
}

// AddToken implements Ledger.
func (r *Recorder) AddToken(_ context.Context, amount models.Money, sourceRef string, sourceType SourceType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.credits = append(r.credits, Credit{Amount: amount, SourceRef: sourceRef, SourceType: sourceType})
	return nil
}

// Credits returns a copy of the recorded credits.
func (r *Recorder) Credits() []Credit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Credit, len(r.credits))
	copy(out, r.credits)
	return out
}
