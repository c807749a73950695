package registry

import (
	"os"
	"path/filepath"
	"testing"

	"fjacquet/smspipe/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	testLogger := logrus.New()
	testLogger.SetLevel(logrus.DebugLevel)
	SetLogger(testLogger)
}

func rwandaPattern() *ProviderPattern {
	return &ProviderPattern{
		Country:  "RW",
		Provider: "mtn-momo",
		Type:     "mobile_money",
		Currency: "RWF",
		Senders:  []string{"M-Money", "MTN"},
		Received: `You have received RWF (?P<amount>[\d,]+(?:\.\d+)?) from (?P<party>\d+)`,
		Sent:     `You have sent RWF (?P<amount>[\d,]+(?:\.\d+)?) to (?P<party>\d+)`,
		Balance:  `(?i)balance RWF ([\d,]+(?:\.\d+)?)`,
		USSD:     "*182*8*1*{merchant}*{amount}#",
	}
}

func TestDetectProvider(t *testing.T) {
	reg := New([]*ProviderPattern{rwandaPattern()})

	p, ok := reg.DetectProvider("RW", "M-Money")
	require.True(t, ok, "Expected configured sender to resolve")
	assert.Equal(t, "mtn-momo", p.Provider)
	assert.Equal(t, "RWF", p.Currency)

	// Sender matching is case-insensitive, country lookup too.
	_, ok = reg.DetectProvider("rw", "m-money")
	assert.True(t, ok, "Sender alias match must be case-insensitive")

	_, ok = reg.DetectProvider("RW", "SPAM-SENDER")
	assert.False(t, ok, "Unknown sender must not resolve")

	_, ok = reg.DetectProvider("KE", "M-Money")
	assert.False(t, ok, "Unconfigured country must not resolve")
}

func TestMalformedEntriesAreSkipped(t *testing.T) {
	broken := &ProviderPattern{
		Country:  "RW",
		Provider: "broken",
		Currency: "RWF",
		Senders:  []string{"BROKEN"},
		Received: `(unclosed`,
	}
	missingCurrency := &ProviderPattern{
		Country:  "RW",
		Provider: "nocurrency",
		Senders:  []string{"NOCCY"},
		Received: `received`,
	}

	reg := New([]*ProviderPattern{broken, rwandaPattern(), missingCurrency})

	_, ok := reg.DetectProvider("RW", "BROKEN")
	assert.False(t, ok, "Malformed entry must be skipped, not served")
	_, ok = reg.DetectProvider("RW", "NOCCY")
	assert.False(t, ok, "Entry without currency must be skipped")
	_, ok = reg.DetectProvider("RW", "M-Money")
	assert.True(t, ok, "A broken entry must not take down valid ones")
}

func TestDirectionPatternOrder(t *testing.T) {
	p := rwandaPattern()
	require.NoError(t, p.compile())

	patterns := p.DirectionPatterns()
	require.Len(t, patterns, 2)
	assert.Equal(t, models.DirectionReceived, patterns[0].Direction,
		"Received pattern must be tried before sent")
	assert.Equal(t, models.DirectionSent, patterns[1].Direction)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")

	content := `providers:
  - country: RW
    provider: mtn-momo
    type: mobile_money
    currency: RWF
    senders: ["M-Money"]
    received: 'You have received RWF (?P<amount>[\d,]+) from (?P<party>\d+)'
  - country: KE
    provider: mpesa
    currency: KES
    senders: ["MPESA"]
    received: '(bad-regex'
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	reg, err := LoadFile(path)
	require.NoError(t, err, "Failed to load providers file")

	_, ok := reg.DetectProvider("RW", "M-Money")
	assert.True(t, ok)
	_, ok = reg.DetectProvider("KE", "MPESA")
	assert.False(t, ok, "Entry with a broken regex must be skipped at load")
}

func TestLoadFileMissing(t *testing.T) {
	reg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err, "A missing providers file is not fatal")

	_, ok := reg.DetectProvider("RW", "M-Money")
	assert.False(t, ok, "Empty registry recognizes nothing")
}
