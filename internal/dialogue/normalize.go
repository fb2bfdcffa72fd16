package dialogue

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/carebridge/go-oce/internal/domain/outreach"
)

// TypedValue is a normalized reply value. Exactly one of the typed fields
// is set; Text carries the raw reply when nothing stronger applied.
type TypedValue struct {
	Text    string
	Number  *float64
	Bool    *bool
	Choices []string
}

// Normalizer is the free-text interpretation fallback, backed by an
// external completion service. Forced-choice replies never require it.
type Normalizer interface {
	Normalize(ctx context.Context, question Question, rawReply string) (TypedValue, error)
}

var yesTokens = map[string]bool{
	"yes": true, "y": true, "yeah": true, "yep": true, "yea": true,
	"sure": true, "ok": true, "okay": true, "correct": true, "1": true,
}

var noTokens = map[string]bool{
	"no": true, "n": true, "nope": true, "nah": true, "negative": true, "2": true,
}

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// matchYesNo applies the affirmative/negative token tier. The token match
// strips trailing punctuation so "yep!" still counts.
func matchYesNo(raw string) (bool, bool) {
	token := strings.ToLower(strings.TrimSpace(raw))
	token = strings.TrimRight(token, ".!?,")
	if yesTokens[token] {
		return true, true
	}
	if noTokens[token] {
		return false, true
	}
	// First word fallback: "yes, a little" is still a yes.
	if first, _, ok := strings.Cut(token, " "); ok {
		first = strings.TrimRight(first, ".!?,")
		if yesTokens[first] {
			return true, true
		}
		if noTokens[first] {
			return false, true
		}
	}
	return false, false
}

// extractNumber pulls the first decimal number out of the reply
func extractNumber(raw string) (float64, bool) {
	match := numberPattern.FindString(raw)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// matchChoice compares the reply against the question's choice list,
// accepting the 1-based choice number as well
func matchChoice(raw string, choices []string) (string, bool) {
	reply := strings.ToLower(strings.TrimSpace(raw))
	for _, c := range choices {
		if strings.EqualFold(reply, c) {
			return c, true
		}
	}
	if idx, err := strconv.Atoi(reply); err == nil && idx >= 1 && idx <= len(choices) {
		return choices[idx-1], true
	}
	return "", false
}

// matchChoices collects every listed choice mentioned in the reply
func matchChoices(raw string, choices []string) []string {
	reply := strings.ToLower(raw)
	var matched []string
	for _, c := range choices {
		if strings.Contains(reply, strings.ToLower(c)) {
			matched = append(matched, c)
		}
	}
	return matched
}

// normalize resolves a raw reply into a typed value using the three-tier
// policy: token/pattern match first, completion-service fallback second,
// raw text last. The returned flag reports whether the fallback was used.
// Forced-choice questions must never block on an unreliable free-text
// parse, so the cheap tiers always run first.
func normalize(ctx context.Context, question Question, raw string, fallback Normalizer) (TypedValue, bool) {
	switch question.ResponseType {
	case outreach.ResponseYesNo:
		if v, ok := matchYesNo(raw); ok {
			return TypedValue{Bool: &v}, false
		}
	case outreach.ResponseNumeric:
		if v, ok := extractNumber(raw); ok {
			return TypedValue{Number: &v}, false
		}
	case outreach.ResponseSingleChoice:
		if c, ok := matchChoice(raw, question.Choices); ok {
			return TypedValue{Choices: []string{c}}, false
		}
	case outreach.ResponseMultiChoice:
		if matched := matchChoices(raw, question.Choices); len(matched) > 0 {
			return TypedValue{Choices: matched}, false
		}
	case outreach.ResponseText:
		return TypedValue{Text: raw}, false
	}

	if fallback != nil {
		if v, err := fallback.Normalize(ctx, question, raw); err == nil && !v.empty() {
			return v, true
		}
		// Malformed or missing model reply degrades to raw text.
		return TypedValue{Text: raw}, true
	}
	return TypedValue{Text: raw}, false
}

func (v TypedValue) empty() bool {
	return v.Text == "" && v.Number == nil && v.Bool == nil && len(v.Choices) == 0
}
