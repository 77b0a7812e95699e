package extraction

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/openscreen/triage/internal/completion"
	"github.com/openscreen/triage/internal/fieldmap"
	"github.com/openscreen/triage/internal/observability"
	"github.com/openscreen/triage/internal/strategy"
)

// fixedCompletion answers every structured request with the same fields.
type fixedCompletion struct {
	fields map[string]string
	err    error
}

func (f *fixedCompletion) Complete(_ context.Context, _ completion.Request) (completion.Result, error) {
	if f.err != nil {
		return completion.Result{}, f.err
	}
	return completion.Result{Fields: f.fields}, nil
}

func newTestPipeline(model completion.Client) *Pipeline {
	log := observability.NewNopLogger()
	return NewPipeline(
		NewPatternExtractor(),
		NewTaggerExtractor(),
		NewModelExtractor(model, time.Second, log),
		observability.NewMetrics("test"),
		log,
	)
}

func TestPipelinePatternBeatsModel(t *testing.T) {
	// The model claims a different age; the higher-priority pattern rule wins.
	p := newTestPipeline(&fixedCompletion{fields: map[string]string{"age": "99"}})
	rules := []strategy.ExtractionRule{
		{Field: "age", Method: strategy.MethodPattern, Priority: 1},
		{Field: "age", Method: strategy.MethodModel, Priority: 2},
	}

	got, diags := p.Extract(context.Background(), "45 years old", rules, fieldmap.Map{})
	if len(diags) != 0 {
		t.Fatalf("diagnostics = %+v", diags)
	}
	v, ok := got.Get("age")
	if !ok || v.Num != 45 {
		t.Fatalf("age = %+v, want 45", v)
	}
	if got["age"].Prov.Method != "pattern" {
		t.Fatalf("provenance = %+v, want pattern", got["age"].Prov)
	}
}

func TestPipelineModelFillsWhatPatternsMiss(t *testing.T) {
	p := newTestPipeline(&fixedCompletion{fields: map[string]string{"age": "52"}})
	rules := []strategy.ExtractionRule{
		{Field: "age", Method: strategy.MethodPattern, Priority: 1},
		{Field: "age", Method: strategy.MethodModel, Priority: 2},
	}

	got, _ := p.Extract(context.Background(), "I was born in the early seventies", rules, fieldmap.Map{})
	v, ok := got.Get("age")
	if !ok || v.Num != 52 {
		t.Fatalf("age = %+v, want model value 52", v)
	}
}

func TestPipelineHybridTieBreak(t *testing.T) {
	p := newTestPipeline(&fixedCompletion{fields: map[string]string{"age": "99"}})
	rules := []strategy.ExtractionRule{{Field: "age", Method: strategy.MethodHybrid, Priority: 1}}

	got, _ := p.Extract(context.Background(), "I'm 42", rules, fieldmap.Map{})
	v, ok := got.Get("age")
	if !ok || v.Num != 42 {
		t.Fatalf("hybrid must prefer pattern, got %+v", v)
	}
}

func TestPipelineValidationDropsOutOfRange(t *testing.T) {
	min, max := 0.0, 120.0
	p := newTestPipeline(&fixedCompletion{})
	rules := []strategy.ExtractionRule{{
		Field: "age", Method: strategy.MethodPattern, Priority: 1,
		Validation: &strategy.Validation{Min: &min, Max: &max},
	}}

	got, _ := p.Extract(context.Background(), "I'm 442", rules, fieldmap.Map{})
	if got.Has("age") {
		t.Fatalf("out-of-range age must be dropped, got %+v", got)
	}
}

func TestPipelineEnumCanonicalization(t *testing.T) {
	p := newTestPipeline(&fixedCompletion{fields: map[string]string{"cancer_type": "breast"}})
	rules := []strategy.ExtractionRule{{
		Field: "cancer_type", Method: strategy.MethodModel, Priority: 1,
		Validation: &strategy.Validation{Enum: map[string]string{"breast": "breast_cancer", "ovarian": "ovarian_cancer"}},
	}}

	got, _ := p.Extract(context.Background(), "it was breast", rules, fieldmap.Map{})
	v, ok := got.Get("cancer_type")
	if !ok || v.Str != "breast_cancer" {
		t.Fatalf("cancer_type = %+v, want breast_cancer", v)
	}
}

func TestPipelineEnumRejectsUnknown(t *testing.T) {
	p := newTestPipeline(&fixedCompletion{fields: map[string]string{"cancer_type": "unclear"}})
	rules := []strategy.ExtractionRule{{
		Field: "cancer_type", Method: strategy.MethodModel, Priority: 1,
		Validation: &strategy.Validation{Enum: map[string]string{"breast": "breast_cancer"}},
	}}

	got, _ := p.Extract(context.Background(), "it was unclear", rules, fieldmap.Map{})
	if got.Has("cancer_type") {
		t.Fatalf("unknown enum value must be dropped, got %+v", got)
	}
}

func TestPipelinePriorContextConflict(t *testing.T) {
	p := newTestPipeline(&fixedCompletion{fields: map[string]string{"age": "60"}})
	rules := []strategy.ExtractionRule{{Field: "age", Method: strategy.MethodModel, Priority: 1}}

	prior := fieldmap.Map{
		"age": {Value: fieldmap.Number(42), Prov: fieldmap.Provenance{Method: "pattern", Rank: 0}},
	}
	got, _ := p.Extract(context.Background(), "maybe 60?", rules, prior)
	if got.Has("age") {
		t.Fatalf("model value must not overwrite pattern-set prior, got %+v", got)
	}

	// The reverse direction does overwrite: pattern beats a model-set prior.
	rules = []strategy.ExtractionRule{{Field: "age", Method: strategy.MethodPattern, Priority: 1}}
	prior = fieldmap.Map{
		"age": {Value: fieldmap.Number(60), Prov: fieldmap.Provenance{Method: "model", Rank: 2}},
	}
	got, _ = p.Extract(context.Background(), "I'm 42", rules, prior)
	v, ok := got.Get("age")
	if !ok || v.Num != 42 {
		t.Fatalf("pattern must overwrite model-set prior, got %+v", v)
	}
}

func TestPipelineTriggerGatesRule(t *testing.T) {
	p := newTestPipeline(&fixedCompletion{})
	rules := []strategy.ExtractionRule{{
		Field: "relative_age", Method: strategy.MethodTagger, Priority: 1,
		Trigger: &strategy.Trigger{Field: "family_history", Equals: fieldmap.String("mother:breast_cancer")},
	}}

	got, _ := p.Extract(context.Background(), "she was 51", rules, fieldmap.Map{})
	if got.Has("relative_age") {
		t.Fatalf("untriggered rule must not run, got %+v", got)
	}

	prior := fieldmap.Map{
		"family_history": {Value: fieldmap.String("mother:breast_cancer"), Prov: fieldmap.Provenance{Method: "pattern"}},
	}
	got, _ = p.Extract(context.Background(), "she was 51", rules, prior)
	if v, ok := got.Get("relative_age"); !ok || v.Num != 51 {
		t.Fatalf("triggered rule should extract, got %+v", v)
	}
}

func TestPipelineUnknownMethodDiagnostic(t *testing.T) {
	p := newTestPipeline(&fixedCompletion{})
	rules := []strategy.ExtractionRule{
		{Field: "age", Method: "quantum", Priority: 1},
		{Field: "age", Method: strategy.MethodPattern, Priority: 2},
	}

	got, diags := p.Extract(context.Background(), "I'm 42", rules, fieldmap.Map{})
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %+v, want 1", diags)
	}
	if v, ok := got.Get("age"); !ok || v.Num != 42 {
		t.Fatalf("valid rule must still run, got %+v", v)
	}
}

func TestPipelineModelFailureDegradesGracefully(t *testing.T) {
	p := newTestPipeline(&fixedCompletion{err: context.DeadlineExceeded})
	rules := []strategy.ExtractionRule{
		{Field: "age", Method: strategy.MethodModel, Priority: 1},
		{Field: "family_history", Method: strategy.MethodPattern, Priority: 1},
	}

	got, diags := p.Extract(context.Background(), "my mother had breast cancer", rules, fieldmap.Map{})
	if len(diags) != 0 {
		t.Fatalf("model failure must not produce diagnostics, got %+v", diags)
	}
	if got.Has("age") {
		t.Fatalf("failed model family must contribute nothing")
	}
	if v, ok := got.Get("family_history"); !ok || v.Str != "mother:breast_cancer" {
		t.Fatalf("pattern family must still extract, got %+v", v)
	}
}

func TestPipelineDeterministic(t *testing.T) {
	model := &fixedCompletion{fields: map[string]string{"age": "52", "cancer_type": "breast"}}
	rules := []strategy.ExtractionRule{
		{Field: "age", Method: strategy.MethodHybrid, Priority: 1},
		{Field: "family_history", Method: strategy.MethodPattern, Priority: 1},
		{Field: "cancer_type", Method: strategy.MethodModel, Priority: 1,
			Validation: &strategy.Validation{Enum: map[string]string{"breast": "breast_cancer"}}},
	}
	text := "I'm 42 and my mother had breast cancer"

	p := newTestPipeline(model)
	first, _ := p.Extract(context.Background(), text, rules, fieldmap.Map{})
	for i := 0; i < 5; i++ {
		got, _ := p.Extract(context.Background(), text, rules, fieldmap.Map{})
		if !reflect.DeepEqual(first.Values(), got.Values()) {
			t.Fatalf("run %d differed: %+v vs %+v", i, first.Values(), got.Values())
		}
	}
}
