package suggestion

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/EddyChen/diagno-core/internal/model"
)

// Strategy names the parsing step that produced a Result.
type Strategy string

const (
	StrategyWhole     Strategy = "whole"
	StrategyEmbedded  Strategy = "embedded"
	StrategyFragments Strategy = "fragments"
	StrategyRaw       Strategy = "raw"
)

var (
	tagPattern      = regexp.MustCompile(`<[^>]*>`)
	embeddedPattern = regexp.MustCompile(`(?s)\[.*\]|\{.*\}`)
	fragmentPattern = regexp.MustCompile(`\{[^}]+\}`)
)

type Result struct {
	Suggestions []model.Suggestion
	Strategy    Strategy
}

// Degraded reports that no structured suggestions were found and the raw
// model text was returned instead.
func (r Result) Degraded() bool {
	return r.Strategy == StrategyRaw
}

type strategy struct {
	name    Strategy
	extract func(e *Extractor, cleaned string) ([]model.Suggestion, bool)
}

// strategies run in order; the first that yields at least one suggestion wins.
var strategies = []strategy{
	{StrategyWhole, (*Extractor).whole},
	{StrategyEmbedded, (*Extractor).embedded},
	{StrategyFragments, (*Extractor).fragments},
}

// Extractor turns free-form model output into suggestions. It never fails.
type Extractor struct {
	fallbackConfidence float64
}

func New(fallbackConfidence float64) *Extractor {
	return &Extractor{fallbackConfidence: clamp(fallbackConfidence)}
}

// Extract always returns at least one suggestion.
func (e *Extractor) Extract(raw string) Result {
	cleaned := StripTags(raw)

	for _, s := range strategies {
		if suggestions, ok := s.extract(e, cleaned); ok {
			return Result{Suggestions: suggestions, Strategy: s.name}
		}
	}

	return Result{
		Suggestions: []model.Suggestion{{Text: strings.TrimSpace(cleaned), Confidence: e.fallbackConfidence}},
		Strategy:    StrategyRaw,
	}
}

// StripTags removes every markup-tag-like substring such as <think> or </b>.
func StripTags(s string) string {
	return tagPattern.ReplaceAllString(s, "")
}

func (e *Extractor) whole(cleaned string) ([]model.Suggestion, bool) {
	return e.parse(strings.TrimSpace(cleaned))
}

func (e *Extractor) embedded(cleaned string) ([]model.Suggestion, bool) {
	match := embeddedPattern.FindString(cleaned)
	if match == "" {
		return nil, false
	}
	return e.parse(match)
}

func (e *Extractor) fragments(cleaned string) ([]model.Suggestion, bool) {
	var out []model.Suggestion
	for _, match := range fragmentPattern.FindAllString(cleaned, -1) {
		var v any
		if err := json.Unmarshal([]byte(match), &v); err != nil {
			continue
		}
		out = append(out, e.normalize(v)...)
	}
	return out, len(out) > 0
}

func (e *Extractor) parse(text string) ([]model.Suggestion, bool) {
	if text == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, false
	}
	out := e.normalize(v)
	return out, len(out) > 0
}

// normalize maps a decoded JSON value to suggestions. Arrays contribute each
// element, objects with a text field become one suggestion, objects wrapping
// a suggestions array are unwrapped and bare strings use the fallback confidence.
func (e *Extractor) normalize(v any) []model.Suggestion {
	switch val := v.(type) {
	case []any:
		var out []model.Suggestion
		for _, elem := range val {
			switch elem.(type) {
			case map[string]any, string:
				out = append(out, e.normalize(elem)...)
			}
		}
		return out
	case map[string]any:
		if text, ok := val["text"].(string); ok {
			if strings.TrimSpace(text) == "" {
				return nil
			}
			return []model.Suggestion{{Text: strings.TrimSpace(text), Confidence: e.confidence(val["confidence"])}}
		}
		if nested, ok := val["suggestions"].([]any); ok {
			return e.normalize(nested)
		}
		return nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		return []model.Suggestion{{Text: strings.TrimSpace(val), Confidence: e.fallbackConfidence}}
	default:
		return nil
	}
}

func (e *Extractor) confidence(v any) float64 {
	f, ok := v.(float64)
	if !ok {
		return e.fallbackConfidence
	}
	return clamp(f)
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
