package extraction

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/openscreen/triage/internal/fieldmap"
	"github.com/openscreen/triage/internal/strategy"
)

// PatternExtractor is the deterministic string/regex method family. Rules
// may carry an explicit regex in Body (first capture group wins, whole
// match otherwise); rules without one fall back to built-in recognizers
// for the medical vocabulary keyed off the field name.
type PatternExtractor struct {
	mu    sync.Mutex
	cache map[string]*regexp.Regexp // nil entry marks a pattern that failed to compile
}

func NewPatternExtractor() *PatternExtractor {
	return &PatternExtractor{cache: make(map[string]*regexp.Regexp)}
}

func (e *PatternExtractor) Method() strategy.ExtractionMethod { return strategy.MethodPattern }

func (e *PatternExtractor) Extract(_ context.Context, text string, rules []strategy.ExtractionRule) (map[string]fieldmap.Value, error) {
	out := make(map[string]fieldmap.Value)
	for _, rule := range rules {
		if _, done := out[rule.Field]; done {
			continue
		}
		var v fieldmap.Value
		var ok bool
		if strings.TrimSpace(rule.Body) != "" {
			v, ok = e.matchBody(rule.Body, text)
		} else {
			v, ok = matchBuiltin(rule.Field, text)
		}
		if ok && !v.IsZero() {
			out[rule.Field] = v
		}
	}
	return out, nil
}

func (e *PatternExtractor) matchBody(body, text string) (fieldmap.Value, bool) {
	re := e.compile(body)
	if re == nil {
		return fieldmap.Value{}, false
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return fieldmap.Value{}, false
	}
	raw := m[0]
	if len(m) > 1 && m[1] != "" {
		raw = m[1]
	}
	return coerce(raw), true
}

func (e *PatternExtractor) compile(body string) *regexp.Regexp {
	e.mu.Lock()
	defer e.mu.Unlock()
	if re, ok := e.cache[body]; ok {
		return re
	}
	re, err := regexp.Compile(body)
	if err != nil {
		re = nil
	}
	e.cache[body] = re
	return re
}

// matchBuiltin applies the vocabulary recognizer matching the field name.
func matchBuiltin(field, text string) (fieldmap.Value, bool) {
	name := strings.ToLower(field)
	switch {
	case strings.Contains(name, "age"):
		return matchAge(text)
	case strings.Contains(name, "history") || strings.Contains(name, "relative"):
		return matchFamilyHistory(text)
	case strings.Contains(name, "condition") || strings.Contains(name, "cancer") || strings.Contains(name, "diagnosis"):
		return matchCondition(text)
	default:
		return matchYesNo(text)
	}
}

func matchAge(text string) (fieldmap.Value, bool) {
	for _, re := range []*regexp.Regexp{ageExplicitPattern, ageStatedPattern} {
		if m := re.FindStringSubmatch(text); m != nil {
			if n, err := strconv.ParseFloat(m[1], 64); err == nil {
				return fieldmap.Number(n), true
			}
		}
	}
	return fieldmap.Value{}, false
}

// matchFamilyHistory prefers a concrete relation:condition pair over bare
// yes/no answers; "none in the family" style denials map to "none".
func matchFamilyHistory(text string) (fieldmap.Value, bool) {
	relation := ""
	if m := relationPattern.FindStringSubmatch(text); m != nil {
		relation = strings.ToLower(m[1])
	}
	condition := ""
	lower := strings.ToLower(text)
	for _, cc := range conditionCodes {
		if strings.Contains(lower, cc.Term) {
			condition = cc.Code
			break
		}
	}

	switch {
	case relation != "" && condition != "":
		return fieldmap.String(relation + ":" + condition), true
	case negatedHistoryPattern.MatchString(text) || noPattern.MatchString(text):
		return fieldmap.String("none"), true
	case relation != "":
		return fieldmap.String(relation), true
	}
	return fieldmap.Value{}, false
}

func matchCondition(text string) (fieldmap.Value, bool) {
	lower := strings.ToLower(text)
	for _, cc := range conditionCodes {
		if strings.Contains(lower, cc.Term) {
			return fieldmap.String(cc.Code), true
		}
	}
	return fieldmap.Value{}, false
}

func matchYesNo(text string) (fieldmap.Value, bool) {
	if yesPattern.MatchString(text) {
		return fieldmap.String("yes"), true
	}
	if noPattern.MatchString(text) {
		return fieldmap.String("no"), true
	}
	return fieldmap.Value{}, false
}

func coerce(raw string) fieldmap.Value {
	trimmed := strings.TrimSpace(raw)
	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return fieldmap.Number(n)
	}
	return fieldmap.String(trimmed)
}
