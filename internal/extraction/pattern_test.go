package extraction

import (
	"context"
	"testing"

	"github.com/openscreen/triage/internal/fieldmap"
	"github.com/openscreen/triage/internal/strategy"
)

func patternRule(field string) strategy.ExtractionRule {
	return strategy.ExtractionRule{Field: field, Method: strategy.MethodPattern}
}

func TestPatternExtractorAge(t *testing.T) {
	e := NewPatternExtractor()
	cases := []struct {
		text string
		want float64
	}{
		{"45 years old", 45},
		{"I'm 42", 42},
		{"I am 67 and retired", 67},
		{"my age is 38", 38},
		{"I turned 50 last month", 50},
	}
	for _, tc := range cases {
		got, err := e.Extract(context.Background(), tc.text, []strategy.ExtractionRule{patternRule("age")})
		if err != nil {
			t.Fatalf("Extract(%q) error = %v", tc.text, err)
		}
		v, ok := got["age"]
		if !ok || v.Num != tc.want {
			t.Fatalf("Extract(%q) age = %+v, want %v", tc.text, v, tc.want)
		}
	}
}

func TestPatternExtractorAgeNoMatch(t *testing.T) {
	e := NewPatternExtractor()
	got, _ := e.Extract(context.Background(), "my mother is doing fine", []strategy.ExtractionRule{patternRule("age")})
	if _, ok := got["age"]; ok {
		t.Fatalf("no age should be extracted, got %+v", got)
	}
}

func TestPatternExtractorFamilyHistory(t *testing.T) {
	e := NewPatternExtractor()
	cases := []struct {
		text string
		want string
	}{
		{"yes, my mother had breast cancer", "mother:breast_cancer"},
		{"my aunt was diagnosed with ovarian cancer", "aunt:ovarian_cancer"},
		{"no one in my family has had cancer", "none"},
		{"my brother, but I do not remember what kind", "brother"},
	}
	for _, tc := range cases {
		got, err := e.Extract(context.Background(), tc.text, []strategy.ExtractionRule{patternRule("family_history")})
		if err != nil {
			t.Fatalf("Extract(%q) error = %v", tc.text, err)
		}
		v, ok := got["family_history"]
		if !ok || v.Str != tc.want {
			t.Fatalf("Extract(%q) family_history = %+v, want %q", tc.text, v, tc.want)
		}
	}
}

func TestPatternExtractorExplicitRegexBody(t *testing.T) {
	e := NewPatternExtractor()
	rule := strategy.ExtractionRule{
		Field:  "biopsy_count",
		Method: strategy.MethodPattern,
		Body:   `(?i)(\d+)\s+biops`,
	}
	got, err := e.Extract(context.Background(), "I had 3 biopsies done", []strategy.ExtractionRule{rule})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	v, ok := got["biopsy_count"]
	if !ok || v.Kind != fieldmap.KindNumber || v.Num != 3 {
		t.Fatalf("biopsy_count = %+v, want 3", v)
	}
}

func TestPatternExtractorBadRegexIsNoMatch(t *testing.T) {
	e := NewPatternExtractor()
	rule := strategy.ExtractionRule{Field: "x", Method: strategy.MethodPattern, Body: `([unclosed`}
	got, err := e.Extract(context.Background(), "anything", []strategy.ExtractionRule{rule})
	if err != nil {
		t.Fatalf("bad regex must not error, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("bad regex must not match, got %+v", got)
	}
}

func TestPatternExtractorYesNo(t *testing.T) {
	e := NewPatternExtractor()
	got, _ := e.Extract(context.Background(), "Yes, I have.", []strategy.ExtractionRule{patternRule("prior_testing")})
	if v := got["prior_testing"]; v.Str != "yes" {
		t.Fatalf("prior_testing = %+v, want yes", v)
	}
	got, _ = e.Extract(context.Background(), "Nope.", []strategy.ExtractionRule{patternRule("prior_testing")})
	if v := got["prior_testing"]; v.Str != "no" {
		t.Fatalf("prior_testing = %+v, want no", v)
	}
}

func TestTaggerExtractorBuckets(t *testing.T) {
	e := NewTaggerExtractor()
	rules := []strategy.ExtractionRule{
		{Field: "age", Method: strategy.MethodTagger},
		{Field: "diagnosis_year", Method: strategy.MethodTagger},
		{Field: "family_history", Method: strategy.MethodTagger},
	}
	got, err := e.Extract(context.Background(), "My mother was diagnosed in 2019 when I was 35", rules)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if v := got["age"]; v.Num != 35 {
		t.Fatalf("age = %+v, want 35", v)
	}
	if v := got["diagnosis_year"]; v.Str != "2019" {
		t.Fatalf("diagnosis_year = %+v, want 2019", v)
	}
	if v := got["family_history"]; v.Str != "mother" {
		t.Fatalf("family_history = %+v, want mother", v)
	}
}
