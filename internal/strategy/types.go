package strategy

import (
	"github.com/openscreen/triage/internal/fieldmap"
)

// ExtractionMethod names one of the extraction method families.
type ExtractionMethod string

const (
	MethodPattern ExtractionMethod = "pattern"
	MethodTagger  ExtractionMethod = "tagger"
	MethodModel   ExtractionMethod = "model"
	// MethodHybrid runs all three families and applies the fixed
	// pattern > tagger > model tie-break.
	MethodHybrid ExtractionMethod = "hybrid"
)

// TargetingRule is one clause of a strategy's applicability test.
type TargetingRule struct {
	Field    string         `json:"field"`
	Operator string         `json:"operator"`
	Value    fieldmap.Value `json:"value"`
	Sequence int            `json:"sequence"`
}

// Validation constrains an extracted value before it is accepted.
// Enum maps lowercase raw spellings to canonical codes.
type Validation struct {
	Min  *float64          `json:"min,omitempty"`
	Max  *float64          `json:"max,omitempty"`
	Enum map[string]string `json:"enum,omitempty"`
}

// Trigger gates a rule on a previously extracted field value.
type Trigger struct {
	Field  string         `json:"field"`
	Equals fieldmap.Value `json:"equals"`
}

// ExtractionRule declares how to pull one field out of free text.
// Priority orders rules for the same field; lower runs first and ties
// break by declaration order.
type ExtractionRule struct {
	Field      string           `json:"field"`
	Method     ExtractionMethod `json:"method"`
	Body       string           `json:"body,omitempty"`
	Priority   int              `json:"priority"`
	Validation *Validation      `json:"validation,omitempty"`
	Trigger    *Trigger         `json:"trigger,omitempty"`
}

// Condition is one rule-based clause of the assessment criteria.
type Condition struct {
	Field    string         `json:"field"`
	Operator string         `json:"operator"`
	Value    fieldmap.Value `json:"value,omitempty"`
}

// AssessmentCriteria governs when and how a final verdict is produced.
type AssessmentCriteria struct {
	RequiredFields []string           `json:"required_fields"`
	Conditions     []Condition        `json:"conditions"`
	RiskModels     []string           `json:"risk_models,omitempty"`
	Thresholds     map[string]float64 `json:"thresholds,omitempty"`
}

// Strategy is the configuration bundle parameterizing one kind of
// screening conversation.
type Strategy struct {
	ID                 string             `json:"id"`
	Goal               string             `json:"goal"`
	KnowledgeSourceIDs []string           `json:"knowledge_source_ids"`
	Targeting          []TargetingRule    `json:"targeting"`
	Extraction         []ExtractionRule   `json:"extraction"`
	Criteria           AssessmentCriteria `json:"criteria"`
	MaxTurns           int                `json:"max_turns"`
	SemanticWeight     float64            `json:"semantic_weight"`
}

// Snapshot deep-copies the strategy so a running session is isolated from
// later configuration edits.
func (s Strategy) Snapshot() Strategy {
	out := s
	out.KnowledgeSourceIDs = append([]string(nil), s.KnowledgeSourceIDs...)
	out.Targeting = append([]TargetingRule(nil), s.Targeting...)
	out.Extraction = make([]ExtractionRule, len(s.Extraction))
	for i, r := range s.Extraction {
		out.Extraction[i] = r
		if r.Validation != nil {
			v := *r.Validation
			if r.Validation.Enum != nil {
				v.Enum = make(map[string]string, len(r.Validation.Enum))
				for k, canon := range r.Validation.Enum {
					v.Enum[k] = canon
				}
			}
			out.Extraction[i].Validation = &v
		}
		if r.Trigger != nil {
			trig := *r.Trigger
			out.Extraction[i].Trigger = &trig
		}
	}
	out.Criteria.RequiredFields = append([]string(nil), s.Criteria.RequiredFields...)
	out.Criteria.Conditions = append([]Condition(nil), s.Criteria.Conditions...)
	out.Criteria.RiskModels = append([]string(nil), s.Criteria.RiskModels...)
	if s.Criteria.Thresholds != nil {
		out.Criteria.Thresholds = make(map[string]float64, len(s.Criteria.Thresholds))
		for k, v := range s.Criteria.Thresholds {
			out.Criteria.Thresholds[k] = v
		}
	}
	return out
}

// Diagnostic records a configuration problem found while evaluating
// externally supplied rules. Diagnostics never abort evaluation.
type Diagnostic struct {
	Source string `json:"source"`
	Detail string `json:"detail"`
}
