// Package registry holds the per-country, per-provider extraction rules
// used to recognize mobile-money notifications. It is a pure, read-only
// lookup: patterns are compiled once at load time and the registry is safe
// for concurrent reads afterwards.
package registry

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"fjacquet/smspipe/internal/models"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var log = logrus.New()

// SetLogger allows setting a configured logger
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// ProviderPattern describes one mobile-money operator's notification
// formats for one country. The direction patterns use named capture groups
// "amount" and "party"; the optional balance and reference patterns use
// their first capture group.
type ProviderPattern struct {
	Country  string   `yaml:"country"`
	Provider string   `yaml:"provider"`
	Type     string   `yaml:"type"`
	Currency string   `yaml:"currency"`
	Senders  []string `yaml:"senders"`

	Received string `yaml:"received"`
	Sent     string `yaml:"sent"`
	CashOut  string `yaml:"cash_out"`
	Airtime  string `yaml:"airtime"`
	Deposit  string `yaml:"deposit"`

	Balance   string `yaml:"balance"`
	Reference string `yaml:"reference"`

	// USSD is the dial-code template for initiating payments to this
	// provider, e.g. "*182*8*1*{merchant}*{amount}#".
	USSD string `yaml:"ussd"`

	received  *regexp.Regexp
	sent      *regexp.Regexp
	cashOut   *regexp.Regexp
	airtime   *regexp.Regexp
	deposit   *regexp.Regexp
	balance   *regexp.Regexp
	reference *regexp.Regexp
}

// DirectionPattern pairs a compiled pattern with the direction it implies.
type DirectionPattern struct {
	Direction models.Direction
	Pattern   *regexp.Regexp
}

// compile validates the entry and compiles all its patterns. An entry with
// no usable direction pattern is rejected.
func (p *ProviderPattern) compile() error {
	if p.Country == "" || p.Provider == "" {
		return fmt.Errorf("provider entry missing country or provider code")
	}
	if p.Currency == "" {
		return fmt.Errorf("provider %s/%s missing currency", p.Country, p.Provider)
	}
	if len(p.Senders) == 0 {
		return fmt.Errorf("provider %s/%s has no sender aliases", p.Country, p.Provider)
	}

	var err error
	compileOpt := func(expr string) (*regexp.Regexp, error) {
		if expr == "" {
			return nil, nil
		}
		return regexp.Compile(expr)
	}

	if p.received, err = compileOpt(p.Received); err != nil {
		return fmt.Errorf("provider %s/%s received pattern: %w", p.Country, p.Provider, err)
	}
	if p.sent, err = compileOpt(p.Sent); err != nil {
		return fmt.Errorf("provider %s/%s sent pattern: %w", p.Country, p.Provider, err)
	}
	if p.cashOut, err = compileOpt(p.CashOut); err != nil {
		return fmt.Errorf("provider %s/%s cash_out pattern: %w", p.Country, p.Provider, err)
	}
	if p.airtime, err = compileOpt(p.Airtime); err != nil {
		return fmt.Errorf("provider %s/%s airtime pattern: %w", p.Country, p.Provider, err)
	}
	if p.deposit, err = compileOpt(p.Deposit); err != nil {
		return fmt.Errorf("provider %s/%s deposit pattern: %w", p.Country, p.Provider, err)
	}
	if p.balance, err = compileOpt(p.Balance); err != nil {
		return fmt.Errorf("provider %s/%s balance pattern: %w", p.Country, p.Provider, err)
	}
	if p.reference, err = compileOpt(p.Reference); err != nil {
		return fmt.Errorf("provider %s/%s reference pattern: %w", p.Country, p.Provider, err)
	}

	if p.received == nil && p.sent == nil && p.cashOut == nil && p.airtime == nil && p.deposit == nil {
		return fmt.Errorf("provider %s/%s has no direction patterns", p.Country, p.Provider)
	}
	return nil
}

// DirectionPatterns returns the compiled direction patterns in match
// priority order. Received comes first: a missed received payment is more
// costly than a missed sent one, and the first match wins.
func (p *ProviderPattern) DirectionPatterns() []DirectionPattern {
	ordered := []struct {
		dir models.Direction
		re  *regexp.Regexp
	}{
		{models.DirectionReceived, p.received},
		{models.DirectionSent, p.sent},
		{models.DirectionCashOut, p.cashOut},
		{models.DirectionAirtime, p.airtime},
		{models.DirectionDeposit, p.deposit},
	}
	var out []DirectionPattern
	for _, entry := range ordered {
		if entry.re != nil {
			out = append(out, DirectionPattern{Direction: entry.dir, Pattern: entry.re})
		}
	}
	return out
}

// BalancePattern returns the compiled post-transaction balance pattern, or nil.
func (p *ProviderPattern) BalancePattern() *regexp.Regexp { return p.balance }

// ReferencePattern returns the compiled transaction reference pattern, or nil.
func (p *ProviderPattern) ReferencePattern() *regexp.Regexp { return p.reference }

// MatchesSender reports whether the sender id matches one of the provider's
// aliases (case-insensitive).
func (p *ProviderPattern) MatchesSender(senderID string) bool {
	for _, alias := range p.Senders {
		if strings.EqualFold(alias, senderID) {
			return true
		}
	}
	return false
}

// Registry is the immutable provider lookup table.
type Registry struct {
	byCountry map[string][]*ProviderPattern
}

// New builds a registry from the given entries. Malformed entries are
// skipped with a warning, never fatal: one broken provider must not take
// down classification for every other provider.
func New(patterns []*ProviderPattern) *Registry {
	byCountry := make(map[string][]*ProviderPattern)
	for _, p := range patterns {
		if err := p.compile(); err != nil {
			log.WithError(err).Warn("Skipping malformed provider pattern")
			continue
		}
		key := strings.ToUpper(p.Country)
		byCountry[key] = append(byCountry[key], p)
	}
	return &Registry{byCountry: byCountry}
}

// providersFile is the on-disk shape of the provider configuration.
type providersFile struct {
	Providers []*ProviderPattern `yaml:"providers"`
}

// LoadFile loads provider patterns from a YAML file. A missing file yields
// an empty registry (classification simply recognizes nothing), matching
// how optional configuration is treated elsewhere.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("Provider patterns file not found: %s", path)
			return New(nil), nil
		}
		return nil, fmt.Errorf("error reading provider patterns file: %w", err)
	}

	var file providersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing provider patterns file: %w", err)
	}

	reg := New(file.Providers)
	log.WithField("count", len(file.Providers)).Debugf("Loaded provider patterns from %s", path)
	return reg, nil
}

// DetectProvider resolves the provider for a (country, sender) pair.
// Deterministic and side-effect free; returns false when no provider is
// configured for the country or the sender matches no alias.
func (r *Registry) DetectProvider(countryCode, senderID string) (*ProviderPattern, bool) {
	for _, p := range r.byCountry[strings.ToUpper(countryCode)] {
		if p.MatchesSender(senderID) {
			return p, true
		}
	}
	return nil, false
}

// Countries returns the configured country codes, mainly for diagnostics.
func (r *Registry) Countries() []string {
	out := make([]string, 0, len(r.byCountry))
	for c := range r.byCountry {
		out = append(out, c)
	}
	return out
}
