// Package pipeline wires the capture path end to end: classify an inbound
// message, persist it durably in the same step, fan out webhooks, and
// expose the idempotent sync entry point the external scheduler calls.
package pipeline

import (
	"context"
	"time"

	"fjacquet/smspipe/internal/classifier"
	"fjacquet/smspipe/internal/config"
	"fjacquet/smspipe/internal/models"
	"fjacquet/smspipe/internal/registry"
	"fjacquet/smspipe/internal/store"
	"fjacquet/smspipe/internal/syncer"
	"fjacquet/smspipe/internal/wallet"
	"fjacquet/smspipe/internal/webhook"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogger allows setting a configured logger
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// Pipeline owns the classify → persist → deliver flow. All collaborators
// are injected at construction; there is no ambient global state.
type Pipeline struct {
	classifier   *classifier.Classifier
	store        *store.Store
	engine       *syncer.Engine
	relay        *webhook.Relay
	destinations []webhook.Destination
	country      string
}

// New assembles a pipeline from already-constructed collaborators.
func New(cls *classifier.Classifier, st *store.Store, engine *syncer.Engine, relay *webhook.Relay, destinations []webhook.Destination, country string) *Pipeline {
	return &Pipeline{
		classifier:   cls,
		store:        st,
		engine:       engine,
		relay:        relay,
		destinations: destinations,
		country:      country,
	}
}

// Build constructs the full pipeline from configuration: provider registry,
// classifier with its fallback chain, sync engine and webhook relay, all
// sharing the given store handle.
func Build(cfg *config.Config, st *store.Store, ledger wallet.Ledger) (*Pipeline, error) {
	reg, err := registry.LoadFile(cfg.Registry.ProvidersFile)
	if err != nil {
		return nil, err
	}

	fallbacks := []classifier.FallbackParser{classifier.NewHeuristicParser()}
	if cfg.AI.Enabled {
		gemini, err := classifier.NewGeminiParser(context.Background(), cfg.AI.APIKey, cfg.AI.Model)
		if err != nil {
			// The AI parser is a best-effort enrichment; the pipeline still
			// works with pattern and heuristic parsing alone.
			log.WithError(err).Warn("AI fallback parser unavailable, continuing without it")
		} else {
			fallbacks = append(fallbacks, gemini)
		}
	}

	engine := syncer.New(st, syncer.Config{
		Endpoint: cfg.Sync.Endpoint,
		APIKey:   cfg.Sync.APIKey,
		MaxRetry: cfg.Sync.MaxRetry,
		Timeout:  time.Duration(cfg.Sync.TimeoutSeconds) * time.Second,
		Ledger:   ledger,
	})

	relay := webhook.New(st, time.Duration(cfg.Sync.TimeoutSeconds)*time.Second)

	destinations := make([]webhook.Destination, 0, len(cfg.Webhooks))
	for _, wh := range cfg.Webhooks {
		destinations = append(destinations, webhook.Destination{
			Name:   wh.Name,
			URL:    wh.URL,
			Secret: wh.Secret,
			APIKey: wh.APIKey,
			Active: wh.Active,
		})
	}

	return New(classifier.New(reg, fallbacks...), st, engine, relay, destinations, cfg.Country), nil
}

// Capture runs one inbound message through classification and, when it is a
// financial notification, persists it as a PENDING record and relays it to
// the configured webhooks. Non-financial messages return ok=false and leave
// no trace. The only error class that escapes is a persistence failure.
func (p *Pipeline) Capture(ctx context.Context, raw models.RawMessage) (*models.TransactionRecord, bool, error) {
	parsed, ok := p.classifier.Classify(ctx, p.country, raw.Sender, raw.Body)
	if !ok {
		return nil, false, nil
	}

	rec := models.NewTransactionRecord(raw, *parsed)
	id, err := p.store.Enqueue(rec)
	if err != nil {
		return nil, false, err
	}
	if id != rec.ID {
		// Duplicate delivery of the same message; the original record wins.
		rec, err = p.store.Get(id)
		if err != nil {
			return nil, false, err
		}
		return rec, true, nil
	}

	p.notifyWebhooks(ctx, rec)
	return rec, true, nil
}

// RunSyncOnce performs one sync invocation. It is idempotent and safe to
// call from a timer or immediately after a capture.
func (p *Pipeline) RunSyncOnce(ctx context.Context) (syncer.Outcome, error) {
	return p.engine.Run(ctx)
}

// Relay exposes the webhook relay for one-off deliveries.
func (p *Pipeline) Relay(ctx context.Context, dest webhook.Destination, rec *models.TransactionRecord) webhook.DeliveryResult {
	return p.relay.Relay(ctx, dest, PayloadFor(rec))
}

// Destinations returns the configured webhook destinations.
func (p *Pipeline) Destinations() []webhook.Destination {
	return p.destinations
}

// notifyWebhooks fans a freshly captured record out to every configured
// destination. Relay outcomes are absorbed: a dead webhook must not affect
// capture.
func (p *Pipeline) notifyWebhooks(ctx context.Context, rec *models.TransactionRecord) {
	if len(p.destinations) == 0 {
		return
	}
	payload := PayloadFor(rec)
	for _, dest := range p.destinations {
		result := p.relay.Relay(ctx, dest, payload)
		if result.Err != nil {
			log.WithError(result.Err).WithField("destination", dest.Name).
				Warn("Webhook relay failed during capture")
		}
	}
}

// PayloadFor builds the canonical webhook payload for a record.
func PayloadFor(rec *models.TransactionRecord) webhook.Payload {
	payload := webhook.Payload{
		LocalID:      rec.ID,
		Sender:       rec.Sender,
		Direction:    string(rec.Direction),
		Counterparty: rec.Counterparty,
		Reference:    rec.Reference,
		Timestamp:    rec.ReceivedAt.UTC().Format(time.RFC3339),
	}
	if !rec.Amount.IsZero() {
		payload.Amount = rec.Amount.String()
		payload.Currency = rec.Currency
	}
	return payload
}
