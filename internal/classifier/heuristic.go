package classifier

import (
	"context"
	"regexp"
	"strings"

	"fjacquet/smspipe/internal/models"

	"github.com/shopspring/decimal"
)

// heuristicConfidence is assigned to every heuristic result; it is below
// 1.0 so downstream consumers can tell it apart from an exact pattern match.
const heuristicConfidence = 0.6

// Keyword and field patterns shared by mobile-money notification formats.
// Amounts tolerate an optional currency token and thousands separators.
var (
	heuristicReceivedRe = regexp.MustCompile(`(?i)\b(received|credited|deposited into)\b`)
	heuristicSentRe     = regexp.MustCompile(`(?i)\b(sent|paid|transferred)\b`)
	heuristicCashOutRe  = regexp.MustCompile(`(?i)\b(withdrawn|cash\s?out)\b`)
	heuristicAirtimeRe  = regexp.MustCompile(`(?i)\bairtime\b`)

	// The boundaries keep alphanumeric reference codes like "QGH7TX12" from
	// being read as a currency token followed by an amount.
	heuristicAmountRe    = regexp.MustCompile(`(?i)\b(?:[A-Z]{2,3}|Ksh|USh|TSh|FRw|RF)\.?\s?([\d,]+(?:\.\d+)?)\b`)
	heuristicFromRe      = regexp.MustCompile(`(?i)\bfrom\s+([0-9A-Za-z .'\-]+?)(?:[.,]|\s+on\b|\s+at\b|$)`)
	heuristicToRe        = regexp.MustCompile(`(?i)\bto\s+([0-9A-Za-z .'\-]+?)(?:[.,]|\s+on\b|\s+at\b|$)`)
	heuristicBalanceRe   = regexp.MustCompile(`(?i)balance\D*([\d,]+(?:\.\d+)?)`)
	heuristicReferenceRe = regexp.MustCompile(`(?i)(?:ref(?:erence)?|txn\s?id|transaction\s?id)[:.\s#]*([A-Z0-9][A-Z0-9.\-]+)`)
)

// HeuristicParser extracts transactions from notification formats no
// provider pattern covers, using direction keywords and loose field
// patterns.
type HeuristicParser struct{}

// NewHeuristicParser creates the keyword-based fallback parser.
func NewHeuristicParser() *HeuristicParser {
	return &HeuristicParser{}
}

// Name identifies the parser for logging purposes.
func (p *HeuristicParser) Name() string {
	return "heuristic"
}

// Parse attempts a keyword-driven extraction. It reports ok=false when the
// body contains no recognizable direction keyword or no amount.
func (p *HeuristicParser) Parse(_ context.Context, body string) (*models.ParsedTransaction, bool, error) {
	direction := detectDirection(body)
	if direction == models.DirectionUnknown {
		return nil, false, nil
	}

	amountMatch := heuristicAmountRe.FindStringSubmatch(body)
	if amountMatch == nil {
		return nil, false, nil
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(amountMatch[1], ",", ""))
	if err != nil {
		return nil, false, nil
	}

	parsed := &models.ParsedTransaction{
		// Currency is filled in by the classifier from the provider config.
		Amount:     models.NewMoney(amount, ""),
		Direction:  direction,
		Confidence: heuristicConfidence,
		Parser:     models.ParserHeuristic,
	}

	partyRe := heuristicToRe
	if direction == models.DirectionReceived {
		partyRe = heuristicFromRe
	}
	if m := partyRe.FindStringSubmatch(body); len(m) > 1 {
		parsed.Counterparty = normalizeParty(m[1])
	}
	if m := heuristicBalanceRe.FindStringSubmatch(body); len(m) > 1 {
		if bal, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "")); err == nil {
			parsed.Balance = &bal
		}
	}
	if m := heuristicReferenceRe.FindStringSubmatch(body); len(m) > 1 {
		parsed.Reference = strings.TrimSpace(m[1])
	}

	return parsed, true, nil
}

// detectDirection maps keywords to a direction. Received is checked first
// for the same reason provider patterns are: a missed incoming payment
// costs more than a missed outgoing one.
func detectDirection(body string) models.Direction {
	switch {
	case heuristicReceivedRe.MatchString(body):
		return models.DirectionReceived
	case heuristicCashOutRe.MatchString(body):
		return models.DirectionCashOut
	case heuristicAirtimeRe.MatchString(body):
		return models.DirectionAirtime
	case heuristicSentRe.MatchString(body):
		return models.DirectionSent
	default:
		return models.DirectionUnknown
	}
}
