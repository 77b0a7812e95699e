package strategy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openscreen/triage/internal/fieldmap"
)

// Targeting operators.
const (
	OpIs        = "is"
	OpIsNot     = "is_not"
	OpIsBetween = "is_between"
	OpContains  = "contains"
)

// EvaluateTargeting checks whether a strategy applies to a patient.
// Rules are evaluated in sequence order and ANDed; an empty rule set always
// matches. A missing attribute makes its rule false rather than erroring,
// and an unrecognized operator makes its rule false with a diagnostic.
func EvaluateTargeting(rules []TargetingRule, attrs map[string]fieldmap.Value) (bool, []Diagnostic) {
	if len(rules) == 0 {
		return true, nil
	}

	ordered := append([]TargetingRule(nil), rules...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	var diags []Diagnostic
	for _, rule := range ordered {
		ok, diag := evaluateRule(rule, attrs)
		if diag != nil {
			diags = append(diags, *diag)
		}
		if !ok {
			return false, diags
		}
	}
	return true, diags
}

func evaluateRule(rule TargetingRule, attrs map[string]fieldmap.Value) (bool, *Diagnostic) {
	attr, present := attrs[rule.Field]
	if !present {
		return false, nil
	}

	switch rule.Operator {
	case OpIs:
		return attr.Equal(rule.Value), nil
	case OpIsNot:
		return !attr.Equal(rule.Value), nil
	case OpIsBetween:
		return evaluateBetween(rule, attr)
	case OpContains:
		return evaluateContains(rule, attr), nil
	default:
		return false, &Diagnostic{
			Source: "targeting:" + rule.Field,
			Detail: fmt.Sprintf("unrecognized operator %q", rule.Operator),
		}
	}
}

func evaluateBetween(rule TargetingRule, attr fieldmap.Value) (bool, *Diagnostic) {
	n, ok := attr.AsNumber()
	if !ok {
		return false, nil
	}
	if rule.Value.Kind != fieldmap.KindList || len(rule.Value.List) != 2 {
		return false, &Diagnostic{
			Source: "targeting:" + rule.Field,
			Detail: "is_between requires a [min, max] pair",
		}
	}
	min, okMin := rule.Value.List[0].AsNumber()
	max, okMax := rule.Value.List[1].AsNumber()
	if !okMin || !okMax {
		return false, &Diagnostic{
			Source: "targeting:" + rule.Field,
			Detail: "is_between bounds must be numeric",
		}
	}
	return n >= min && n <= max, nil
}

func evaluateContains(rule TargetingRule, attr fieldmap.Value) bool {
	switch attr.Kind {
	case fieldmap.KindString:
		return strings.Contains(strings.ToLower(attr.Str), strings.ToLower(rule.Value.Text()))
	case fieldmap.KindList:
		for _, item := range attr.List {
			if item.Equal(rule.Value) {
				return true
			}
		}
	}
	return false
}
