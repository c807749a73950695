package classifier

import (
	"context"
	"fmt"
	"strings"

	"fjacquet/smspipe/internal/models"

	"github.com/google/generative-ai-go/genai"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
)

// aiConfidence is assigned to Gemini results. It sits below the heuristic
// parser's confidence: the model sees formats the heuristics gave up on.
const aiConfidence = 0.5

// geminiPrompt asks for a line-oriented response that extractFields can
// parse without a JSON schema round-trip.
const geminiPrompt = `The following is an SMS notification from a mobile money provider.
Extract the transaction it describes.

Message: %s

Respond with exactly these lines:
Direction: [RECEIVED, SENT, CASH_OUT, AIRTIME, DEPOSIT or UNKNOWN]
Amount: [numeric amount without separators, or 0]
Party: [the other party's name or number, or empty]
Reference: [the provider transaction id, or empty]`

// GeminiParser is the AI fallback parser. It is consulted last, only when
// enabled in configuration, and its errors are absorbed by the classifier
// like any other fallback failure.
type GeminiParser struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiParser creates a Gemini-backed fallback parser.
func NewGeminiParser(ctx context.Context, apiKey, modelName string) (*GeminiParser, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiParser{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Name identifies the parser for logging purposes.
func (p *GeminiParser) Name() string {
	return "ai"
}

// Close releases the underlying API client.
func (p *GeminiParser) Close() error {
	return p.client.Close()
}

// Parse asks the model to extract the transaction fields from the body.
func (p *GeminiParser) Parse(ctx context.Context, body string) (*models.ParsedTransaction, bool, error) {
	resp, err := p.model.GenerateContent(ctx, genai.Text(fmt.Sprintf(geminiPrompt, body)))
	if err != nil {
		return nil, false, fmt.Errorf("Gemini API error: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, false, fmt.Errorf("no response from Gemini API")
	}

	text := fmt.Sprintf("%v", resp.Candidates[0].Content.Parts[0])
	parsed, ok := extractFields(text)
	if !ok {
		return nil, false, nil
	}
	return parsed, true, nil
}

// extractFields parses the line-oriented model response. An UNKNOWN or
// unusable direction means the model could not classify the message either.
func extractFields(response string) (*models.ParsedTransaction, bool) {
	var direction, amount, party, reference string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Direction:"):
			direction = strings.TrimSpace(strings.TrimPrefix(line, "Direction:"))
		case strings.HasPrefix(line, "Amount:"):
			amount = strings.TrimSpace(strings.TrimPrefix(line, "Amount:"))
		case strings.HasPrefix(line, "Party:"):
			party = strings.TrimSpace(strings.TrimPrefix(line, "Party:"))
		case strings.HasPrefix(line, "Reference:"):
			reference = strings.TrimSpace(strings.TrimPrefix(line, "Reference:"))
		}
	}

	dir := models.Direction(strings.ToUpper(direction))
	switch dir {
	case models.DirectionReceived, models.DirectionSent, models.DirectionCashOut,
		models.DirectionAirtime, models.DirectionDeposit:
	default:
		return nil, false
	}

	amt, err := decimal.NewFromString(strings.ReplaceAll(amount, ",", ""))
	if err != nil {
		amt = decimal.Zero
	}

	return &models.ParsedTransaction{
		Amount:       models.NewMoney(amt, ""),
		Counterparty: normalizeParty(party),
		Reference:    reference,
		Direction:    dir,
		Confidence:   aiConfidence,
		Parser:       models.ParserAI,
	}, true
}
