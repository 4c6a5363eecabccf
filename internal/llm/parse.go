package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoJSON is returned when a completion contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in llm response")

// ExtractJSON pulls a JSON object out of a completion that may be wrapped
// in markdown code fences or surrounded by prose.
func ExtractJSON(text string) ([]byte, error) {
	if strings.Contains(text, "```") {
		parts := strings.Split(text, "```")
		if len(parts) >= 2 {
			text = parts[1]
		}
		text = strings.TrimPrefix(strings.TrimSpace(text), "json")
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: %.80q", ErrNoJSON, text)
	}

	candidate := []byte(text[start : end+1])
	if !json.Valid(candidate) {
		return nil, fmt.Errorf("%w: invalid JSON %.80q", ErrNoJSON, candidate)
	}
	return candidate, nil
}

// WireDecision is the JSON shape both negotiating sides ask the model for.
type WireDecision struct {
	Action string           `json:"action"`
	Price  *decimal.Decimal `json:"price,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

// ParseDecision extracts and decodes an {action, price?, reason?} object.
func ParseDecision(text string) (WireDecision, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return WireDecision{}, err
	}
	var d WireDecision
	if err := json.Unmarshal(raw, &d); err != nil {
		return WireDecision{}, fmt.Errorf("decode decision: %w", err)
	}
	if d.Action == "" {
		return WireDecision{}, errors.New("decision missing action")
	}
	return d, nil
}
