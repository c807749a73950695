// Package classifier decides whether an inbound SMS is a financial
// notification and extracts structured fields from it. Provider patterns
// are tried first; unmatched provider messages fall through a chain of
// fallback parsers, mirroring the strategy order direct-pattern → heuristic
// → AI. Parser failures never escape this package: a message from a known
// provider that nothing can parse is still returned as UNKNOWN with
// confidence 0 so the raw evidence is preserved for manual reconciliation.
package classifier

import (
	"context"
	"strings"

	"fjacquet/smspipe/internal/models"
	"fjacquet/smspipe/internal/registry"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogger allows setting a configured logger
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// unparseableAmountConfidence caps the confidence of a pattern match whose
// amount group could not be parsed as a decimal.
const unparseableAmountConfidence = 0.3

// FallbackParser is a secondary parser consulted when no provider pattern
// matches. Implementations return ok=false when they cannot produce a
// result; errors are absorbed and logged by the classifier.
type FallbackParser interface {
	// Name identifies the parser for logging purposes.
	Name() string

	// Parse attempts to extract a transaction from the raw message body.
	Parse(ctx context.Context, body string) (*models.ParsedTransaction, bool, error)
}

// Classifier resolves providers through the registry and runs the
// extraction pipeline over a message body.
type Classifier struct {
	registry  *registry.Registry
	fallbacks []FallbackParser
}

// New creates a Classifier. Fallback parsers are consulted in the order
// given.
func New(reg *registry.Registry, fallbacks ...FallbackParser) *Classifier {
	return &Classifier{
		registry:  reg,
		fallbacks: fallbacks,
	}
}

// Classify determines whether the message is a financial notification and
// extracts its fields. It returns ok=false only when the sender does not
// resolve to a configured provider; callers must not persist a record in
// that case.
func (c *Classifier) Classify(ctx context.Context, countryCode, senderID, body string) (*models.ParsedTransaction, bool) {
	provider, ok := c.registry.DetectProvider(countryCode, senderID)
	if !ok {
		log.WithFields(logrus.Fields{
			"country": countryCode,
			"sender":  senderID,
		}).Debug("Sender does not match any configured provider")
		return nil, false
	}

	// First matching direction pattern wins, in received→sent priority order.
	for _, dp := range provider.DirectionPatterns() {
		match := dp.Pattern.FindStringSubmatch(body)
		if match == nil {
			continue
		}
		parsed := c.extract(provider, dp, match, body)
		log.WithFields(logrus.Fields{
			"provider":   provider.Provider,
			"direction":  parsed.Direction,
			"confidence": parsed.Confidence,
		}).Debug("Message matched provider pattern")
		return parsed, true
	}

	for _, fb := range c.fallbacks {
		parsed, ok, err := fb.Parse(ctx, body)
		if err != nil {
			log.WithError(err).WithField("parser", fb.Name()).Warn("Fallback parser failed")
			continue
		}
		if !ok {
			continue
		}
		// Currency always comes from the provider configuration, never from
		// the message text.
		parsed.Amount.Currency = provider.Currency
		parsed.Provider = provider.Provider
		parsed.ProviderType = provider.Type
		log.WithFields(logrus.Fields{
			"provider":   provider.Provider,
			"parser":     fb.Name(),
			"direction":  parsed.Direction,
			"confidence": parsed.Confidence,
		}).Debug("Message parsed by fallback parser")
		return parsed, true
	}

	// Known provider, nothing matched: keep the raw evidence rather than
	// dropping the message.
	log.WithFields(logrus.Fields{
		"provider": provider.Provider,
		"sender":   senderID,
	}).Info("Provider message did not match any pattern, storing as UNKNOWN")
	return &models.ParsedTransaction{
		Amount:       models.ZeroMoney(provider.Currency),
		Direction:    models.DirectionUnknown,
		Confidence:   0,
		Parser:       models.ParserNone,
		Provider:     provider.Provider,
		ProviderType: provider.Type,
	}, true
}

// extract pulls the named capture groups out of a direction pattern match
// and runs the secondary balance/reference patterns over the full body.
func (c *Classifier) extract(provider *registry.ProviderPattern, dp registry.DirectionPattern, match []string, body string) *models.ParsedTransaction {
	parsed := &models.ParsedTransaction{
		Direction:    dp.Direction,
		Confidence:   1.0,
		Parser:       models.ParserPattern,
		Provider:     provider.Provider,
		ProviderType: provider.Type,
		Amount:       models.ZeroMoney(provider.Currency),
	}

	for i, name := range dp.Pattern.SubexpNames() {
		if i == 0 || i >= len(match) {
			continue
		}
		switch name {
		case "amount":
			money, err := models.ParseMoney(match[i], provider.Currency)
			if err != nil {
				// An unparseable amount flags the record instead of failing
				// it; the raw body still holds the truth.
				log.WithError(err).WithField("provider", provider.Provider).
					Warn("Could not parse amount from matched pattern")
				parsed.Confidence = unparseableAmountConfidence
				continue
			}
			parsed.Amount = money
		case "party":
			parsed.Counterparty = normalizeParty(match[i])
		}
	}

	if re := provider.BalancePattern(); re != nil {
		if m := re.FindStringSubmatch(body); len(m) > 1 {
			if bal, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "")); err == nil {
				parsed.Balance = &bal
			}
		}
	}
	if re := provider.ReferencePattern(); re != nil {
		if m := re.FindStringSubmatch(body); len(m) > 1 {
			parsed.Reference = strings.TrimSpace(m[1])
		}
	}

	return parsed
}

// normalizeParty trims the captured party label and collapses runs of
// whitespace.
func normalizeParty(s string) string {
	return strings.Join(strings.Fields(strings.TrimSuffix(strings.TrimSpace(s), ".")), " ")
}
