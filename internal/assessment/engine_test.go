package assessment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openscreen/triage/internal/completion"
	"github.com/openscreen/triage/internal/fieldmap"
	"github.com/openscreen/triage/internal/observability"
	"github.com/openscreen/triage/internal/strategy"
)

type stubCalculator struct {
	score float64
	err   error
}

func (s stubCalculator) Compute(_ context.Context, _ map[string]fieldmap.Value) (float64, error) {
	return s.score, s.err
}

type stubNarrator struct {
	text string
	err  error
}

func (s stubNarrator) Complete(_ context.Context, _ completion.Request) (completion.Result, error) {
	if s.err != nil {
		return completion.Result{}, s.err
	}
	return completion.Result{Text: s.text}, nil
}

func dataWith(fields map[string]fieldmap.Value) fieldmap.Map {
	m := fieldmap.Map{}
	for k, v := range fields {
		m.Set(k, fieldmap.Field{Value: v, Prov: fieldmap.Provenance{Method: "pattern"}})
	}
	return m
}

func newTestEngine(calcs map[string]RiskCalculator, narrator completion.Client) *Engine {
	return NewEngine(calcs, narrator, time.Second, observability.NewMetrics("test"), observability.NewNopLogger())
}

func TestCanAssessGating(t *testing.T) {
	required := []string{"age", "family_history"}

	missing := dataWith(map[string]fieldmap.Value{"age": fieldmap.Number(42)})
	if CanAssess(required, missing) {
		t.Fatalf("CanAssess must be false with family_history absent")
	}

	complete := dataWith(map[string]fieldmap.Value{
		"age":            fieldmap.Number(42),
		"family_history": fieldmap.String("mother:breast_cancer"),
	})
	if !CanAssess(required, complete) {
		t.Fatalf("CanAssess must be true with all required fields present")
	}
}

func TestAssessConditionsAnded(t *testing.T) {
	e := newTestEngine(nil, nil)
	criteria := strategy.AssessmentCriteria{
		Conditions: []strategy.Condition{
			{Field: "age", Operator: OpGte, Value: fieldmap.Number(25)},
			{Field: "family_history", Operator: OpPresent},
		},
	}
	data := dataWith(map[string]fieldmap.Value{
		"age":            fieldmap.Number(42),
		"family_history": fieldmap.String("mother:breast_cancer"),
	})

	res := e.Assess(context.Background(), criteria, data)
	if !res.MeetsCriteria {
		t.Fatalf("criteria should be met: %+v", res)
	}
	if len(res.MatchedConditions) != 2 {
		t.Fatalf("matched = %+v, want 2 entries", res.MatchedConditions)
	}

	young := dataWith(map[string]fieldmap.Value{
		"age":            fieldmap.Number(20),
		"family_history": fieldmap.String("mother:breast_cancer"),
	})
	res = e.Assess(context.Background(), criteria, young)
	if res.MeetsCriteria {
		t.Fatalf("age below bound must fail the AND")
	}
}

func TestAssessCalculatorFailureOmitsScore(t *testing.T) {
	calcs := map[string]RiskCalculator{
		"tyrer_cuzick": stubCalculator{err: errors.New("timeout")},
		"gail":         stubCalculator{score: 0.17},
	}
	e := newTestEngine(calcs, nil)
	criteria := strategy.AssessmentCriteria{
		Conditions: []strategy.Condition{{Field: "age", Operator: OpGte, Value: fieldmap.Number(25)}},
		RiskModels: []string{"tyrer_cuzick", "gail"},
	}
	data := dataWith(map[string]fieldmap.Value{"age": fieldmap.Number(42)})

	res := e.Assess(context.Background(), criteria, data)
	if _, ok := res.RiskScores["tyrer_cuzick"]; ok {
		t.Fatalf("failed calculator must be omitted, not zero-filled: %+v", res.RiskScores)
	}
	if res.RiskScores["gail"] != 0.17 {
		t.Fatalf("surviving score missing: %+v", res.RiskScores)
	}
	if !res.Partial {
		t.Fatalf("partial flag must be set on calculator failure")
	}
	if !res.MeetsCriteria {
		t.Fatalf("verdict must come from rule conditions despite calculator failure")
	}
}

func TestAssessUnregisteredModelIsPartialWithDiagnostic(t *testing.T) {
	e := newTestEngine(map[string]RiskCalculator{}, nil)
	criteria := strategy.AssessmentCriteria{RiskModels: []string{"brcapro"}}

	res := e.Assess(context.Background(), criteria, fieldmap.Map{})
	if !res.Partial || len(res.Diagnostics) != 1 {
		t.Fatalf("unregistered model should flag partial with diagnostic: %+v", res)
	}
}

func TestAssessNarrativeIsAdvisoryOnly(t *testing.T) {
	e := newTestEngine(nil, stubNarrator{text: "You do not qualify."})
	criteria := strategy.AssessmentCriteria{
		Conditions: []strategy.Condition{{Field: "age", Operator: OpGte, Value: fieldmap.Number(25)}},
	}
	data := dataWith(map[string]fieldmap.Value{"age": fieldmap.Number(42)})

	res := e.Assess(context.Background(), criteria, data)
	if !res.MeetsCriteria {
		t.Fatalf("narrative text must never override the computed verdict")
	}
	if res.Narrative != "You do not qualify." {
		t.Fatalf("narrative = %q", res.Narrative)
	}
}

func TestAssessNarrativeFailureOmitted(t *testing.T) {
	e := newTestEngine(nil, stubNarrator{err: context.DeadlineExceeded})
	res := e.Assess(context.Background(), strategy.AssessmentCriteria{}, fieldmap.Map{})
	if res.Narrative != "" {
		t.Fatalf("narrative must be omitted on failure, got %q", res.Narrative)
	}
}

func TestConditionOperators(t *testing.T) {
	data := dataWith(map[string]fieldmap.Value{
		"age":     fieldmap.Number(42),
		"history": fieldmap.String("mother:breast_cancer"),
	})

	cases := []struct {
		name string
		cond strategy.Condition
		want bool
	}{
		{"eq", strategy.Condition{Field: "age", Operator: OpEq, Value: fieldmap.Number(42)}, true},
		{"neq", strategy.Condition{Field: "age", Operator: OpNeq, Value: fieldmap.Number(41)}, true},
		{"lt false", strategy.Condition{Field: "age", Operator: OpLt, Value: fieldmap.Number(42)}, false},
		{"lte", strategy.Condition{Field: "age", Operator: OpLte, Value: fieldmap.Number(42)}, true},
		{"between", strategy.Condition{Field: "age", Operator: OpBetween, Value: fieldmap.List(fieldmap.Number(40), fieldmap.Number(45))}, true},
		{"contains", strategy.Condition{Field: "history", Operator: OpContains, Value: fieldmap.String("breast")}, true},
		{"absent on present field", strategy.Condition{Field: "history", Operator: OpAbsent}, false},
		{"comparison on missing field", strategy.Condition{Field: "bmi", Operator: OpGte, Value: fieldmap.Number(1)}, false},
	}
	for _, tc := range cases {
		got, _ := evaluateCondition(tc.cond, data)
		if got != tc.want {
			t.Fatalf("%s: evaluateCondition = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIncompleteResult(t *testing.T) {
	res := IncompleteResult([]string{"family_history"})
	if !res.Incomplete || res.MeetsCriteria {
		t.Fatalf("incomplete result wrong shape: %+v", res)
	}
	if len(res.Recommendations) == 0 {
		t.Fatalf("incomplete result should carry follow-up recommendations")
	}
}
