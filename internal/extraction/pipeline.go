package extraction

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openscreen/triage/internal/fieldmap"
	"github.com/openscreen/triage/internal/observability"
	"github.com/openscreen/triage/internal/strategy"
)

// Pipeline runs the three method families over a patient message and
// merges their partial maps under the rule set's priority and conflict
// policy. Given identical text, rules, and prior context (and a
// deterministic completion client) its output is identical.
type Pipeline struct {
	families map[strategy.ExtractionMethod]Extractor
	metrics  *observability.Metrics
	log      *observability.Logger
}

func NewPipeline(pattern, tagger, model Extractor, metrics *observability.Metrics, log *observability.Logger) *Pipeline {
	return &Pipeline{
		families: map[strategy.ExtractionMethod]Extractor{
			strategy.MethodPattern: pattern,
			strategy.MethodTagger:  tagger,
			strategy.MethodModel:   model,
		},
		metrics: metrics,
		log:     log,
	}
}

// familyOrder fixes both execution order and the hybrid tie-break.
var familyOrder = []strategy.ExtractionMethod{
	strategy.MethodPattern,
	strategy.MethodTagger,
	strategy.MethodModel,
}

// Extract returns the field updates that survive validation and win
// against the prior context's provenance. Configuration problems surface
// as diagnostics, never as errors.
func (p *Pipeline) Extract(ctx context.Context, text string, rules []strategy.ExtractionRule, prior fieldmap.Map) (fieldmap.Map, []strategy.Diagnostic) {
	now := time.Now().UTC()
	var diags []strategy.Diagnostic

	active := make([]strategy.ExtractionRule, 0, len(rules))
	for _, rule := range rules {
		if !triggered(rule, prior) {
			continue
		}
		if rule.Method != strategy.MethodHybrid {
			if _, known := p.families[rule.Method]; !known {
				diags = append(diags, strategy.Diagnostic{
					Source: "extraction:" + rule.Field,
					Detail: fmt.Sprintf("unknown extraction method %q", rule.Method),
				})
				continue
			}
		}
		active = append(active, rule)
	}

	results := p.runFamilies(ctx, text, active)

	byField := make(map[string][]strategy.ExtractionRule)
	fields := make([]string, 0, len(active))
	for _, rule := range active {
		if _, seen := byField[rule.Field]; !seen {
			fields = append(fields, rule.Field)
		}
		byField[rule.Field] = append(byField[rule.Field], rule)
	}
	sort.Strings(fields)

	updates := fieldmap.Map{}
	for _, field := range fields {
		fieldRules := byField[field]
		sort.SliceStable(fieldRules, func(i, j int) bool { return fieldRules[i].Priority < fieldRules[j].Priority })

		cand, method, ok := resolveField(fieldRules, results)
		if !ok {
			continue
		}
		f := fieldmap.Field{
			Value: cand,
			Prov:  fieldmap.Provenance{Method: string(method), Rank: MethodRank(method), ObservedAt: now},
		}
		if existing, has := prior[field]; has && !existing.Value.IsZero() && existing.Prov.Rank <= f.Prov.Rank {
			continue
		}
		updates.Set(field, f)
		if p.metrics != nil {
			p.metrics.ExtractedFields.WithLabelValues(string(method)).Inc()
		}
	}
	return updates, diags
}

func (p *Pipeline) runFamilies(ctx context.Context, text string, active []strategy.ExtractionRule) map[strategy.ExtractionMethod]map[string]fieldmap.Value {
	perFamily := make(map[strategy.ExtractionMethod][]strategy.ExtractionRule)
	for _, rule := range active {
		if rule.Method == strategy.MethodHybrid {
			for _, m := range familyOrder {
				perFamily[m] = append(perFamily[m], rule)
			}
			continue
		}
		perFamily[rule.Method] = append(perFamily[rule.Method], rule)
	}

	results := make(map[strategy.ExtractionMethod]map[string]fieldmap.Value, len(familyOrder))
	for _, m := range familyOrder {
		rules := perFamily[m]
		if len(rules) == 0 {
			results[m] = map[string]fieldmap.Value{}
			continue
		}
		got, err := p.families[m].Extract(ctx, text, rules)
		if err != nil {
			// Method families degrade internally; an error here means a
			// programming bug, but the conversation still proceeds.
			p.log.Error("extraction family failed", "method", m, "error", err)
			got = map[string]fieldmap.Value{}
		}
		results[m] = got
	}
	return results
}

// resolveField walks the field's rules in priority order and returns the
// first valid value. A hybrid rule consults all families with the fixed
// pattern > tagger > model preference.
func resolveField(fieldRules []strategy.ExtractionRule, results map[strategy.ExtractionMethod]map[string]fieldmap.Value) (fieldmap.Value, strategy.ExtractionMethod, bool) {
	for _, rule := range fieldRules {
		methods := []strategy.ExtractionMethod{rule.Method}
		if rule.Method == strategy.MethodHybrid {
			methods = familyOrder
		}
		for _, m := range methods {
			v, ok := results[m][rule.Field]
			if !ok || v.IsZero() {
				continue
			}
			valid, ok := validate(rule.Validation, v)
			if !ok {
				continue
			}
			return valid, m, true
		}
	}
	return fieldmap.Value{}, "", false
}

func triggered(rule strategy.ExtractionRule, prior fieldmap.Map) bool {
	if rule.Trigger == nil {
		return true
	}
	v, ok := prior.Get(rule.Trigger.Field)
	return ok && v.Equal(rule.Trigger.Equals)
}

// validate applies the rule's constraints: enum canonicalization first,
// then numeric range. Failing values are dropped, not surfaced.
func validate(v *strategy.Validation, value fieldmap.Value) (fieldmap.Value, bool) {
	if v == nil {
		return value, true
	}
	if len(v.Enum) > 0 {
		key := strings.ToLower(strings.TrimSpace(value.Text()))
		if canon, ok := v.Enum[key]; ok {
			value = fieldmap.String(canon)
		} else if !isCanonical(v.Enum, key) {
			return fieldmap.Value{}, false
		}
	}
	if v.Min != nil || v.Max != nil {
		n, ok := value.AsNumber()
		if !ok {
			return fieldmap.Value{}, false
		}
		if v.Min != nil && n < *v.Min {
			return fieldmap.Value{}, false
		}
		if v.Max != nil && n > *v.Max {
			return fieldmap.Value{}, false
		}
	}
	return value, true
}

func isCanonical(enum map[string]string, key string) bool {
	for _, canon := range enum {
		if canon == key {
			return true
		}
	}
	return false
}
