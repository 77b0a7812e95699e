package extraction

import (
	"context"
	"strconv"
	"strings"

	"github.com/openscreen/triage/internal/fieldmap"
	"github.com/openscreen/triage/internal/strategy"
)

// TaggerExtractor is the general entity-recognition family: it scans text
// for quantities, years, and person mentions and maps them into coarse
// buckets by field name. It is less literal than the pattern family and
// ranks below it in conflict resolution.
type TaggerExtractor struct{}

func NewTaggerExtractor() *TaggerExtractor { return &TaggerExtractor{} }

func (e *TaggerExtractor) Method() strategy.ExtractionMethod { return strategy.MethodTagger }

type taggedEntities struct {
	quantities []float64
	years      []string
	persons    []string
}

func (e *TaggerExtractor) Extract(_ context.Context, text string, rules []strategy.ExtractionRule) (map[string]fieldmap.Value, error) {
	entities := tag(text)
	out := make(map[string]fieldmap.Value)
	for _, rule := range rules {
		if _, done := out[rule.Field]; done {
			continue
		}
		if v, ok := bucketFor(rule.Field, entities); ok {
			out[rule.Field] = v
		}
	}
	return out, nil
}

func tag(text string) taggedEntities {
	var ents taggedEntities
	years := make(map[string]bool)
	for _, y := range yearPattern.FindAllString(text, -1) {
		if !years[y] {
			years[y] = true
			ents.years = append(ents.years, y)
		}
	}
	for _, raw := range numberPattern.FindAllString(text, -1) {
		if years[raw] {
			continue
		}
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			ents.quantities = append(ents.quantities, n)
		}
	}
	for _, m := range relationPattern.FindAllStringSubmatch(text, -1) {
		ents.persons = append(ents.persons, strings.ToLower(m[1]))
	}
	return ents
}

func bucketFor(field string, ents taggedEntities) (fieldmap.Value, bool) {
	name := strings.ToLower(field)
	switch {
	case strings.Contains(name, "age"):
		for _, q := range ents.quantities {
			if q >= 0 && q <= 120 {
				return fieldmap.Number(q), true
			}
		}
	case strings.Contains(name, "year") || strings.Contains(name, "date"):
		if len(ents.years) > 0 {
			return fieldmap.String(ents.years[0]), true
		}
	case strings.Contains(name, "history") || strings.Contains(name, "relative") || strings.Contains(name, "person"):
		if len(ents.persons) > 0 {
			return fieldmap.String(ents.persons[0]), true
		}
	case strings.Contains(name, "count") || strings.Contains(name, "number"):
		if len(ents.quantities) > 0 {
			return fieldmap.Number(ents.quantities[0]), true
		}
	}
	return fieldmap.Value{}, false
}
