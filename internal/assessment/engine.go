package assessment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openscreen/triage/internal/completion"
	"github.com/openscreen/triage/internal/fieldmap"
	"github.com/openscreen/triage/internal/observability"
	"github.com/openscreen/triage/internal/strategy"
)

// Condition operators.
const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpBetween  = "between"
	OpContains = "contains"
	OpPresent  = "present"
	OpAbsent   = "absent"
)

// RiskCalculator is one external risk-model collaborator, keyed by model id.
type RiskCalculator interface {
	Compute(ctx context.Context, data map[string]fieldmap.Value) (float64, error)
}

// Result is the structured verdict of criteria assessment. The rule-based
// MeetsCriteria is authoritative; Narrative is advisory text only.
type Result struct {
	MeetsCriteria     bool                  `json:"meets_criteria"`
	Incomplete        bool                  `json:"incomplete"`
	MatchedConditions []string              `json:"matched_conditions"`
	RiskScores        map[string]float64    `json:"risk_scores,omitempty"`
	Recommendations   []string              `json:"recommendations"`
	Narrative         string                `json:"narrative,omitempty"`
	Partial           bool                  `json:"partial"`
	Diagnostics       []strategy.Diagnostic `json:"diagnostics,omitempty"`
	AssessedAt        time.Time             `json:"assessed_at"`
}

// Engine evaluates assessment criteria over accumulated extracted data.
type Engine struct {
	calculators map[string]RiskCalculator
	completions completion.Client
	timeout     time.Duration
	metrics     *observability.Metrics
	log         *observability.Logger
}

func NewEngine(calculators map[string]RiskCalculator, completions completion.Client, timeout time.Duration, metrics *observability.Metrics, log *observability.Logger) *Engine {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Engine{
		calculators: calculators,
		completions: completions,
		timeout:     timeout,
		metrics:     metrics,
		log:         log,
	}
}

// CanAssess reports whether every required field is populated with a
// non-null value. It gates the orchestrator's question/finalize decision.
func CanAssess(required []string, data fieldmap.Map) bool {
	for _, field := range required {
		if !data.Has(field) {
			return false
		}
	}
	return true
}

// Assess applies the rule-based conditions, invokes the requested risk
// calculators, and composes recommendations. Calculator failures omit that
// model's score and mark the result partial; the assessment still completes.
func (e *Engine) Assess(ctx context.Context, criteria strategy.AssessmentCriteria, data fieldmap.Map) Result {
	res := Result{AssessedAt: time.Now().UTC()}

	meets := true
	for _, cond := range criteria.Conditions {
		ok, diag := evaluateCondition(cond, data)
		if diag != nil {
			res.Diagnostics = append(res.Diagnostics, *diag)
		}
		if ok {
			res.MatchedConditions = append(res.MatchedConditions, describeCondition(cond))
		} else {
			meets = false
		}
	}
	res.MeetsCriteria = meets

	res.RiskScores = e.computeRiskScores(ctx, criteria.RiskModels, data, &res)
	res.Recommendations = recommendations(res.MeetsCriteria)
	res.Narrative = e.narrative(ctx, criteria, data, res)
	return res
}

func (e *Engine) computeRiskScores(ctx context.Context, models []string, data fieldmap.Map, res *Result) map[string]float64 {
	if len(models) == 0 {
		return nil
	}
	values := data.Values()
	scores := make(map[string]float64, len(models))
	for _, id := range sortedCopy(models) {
		calc, ok := e.calculators[id]
		if !ok {
			res.Partial = true
			res.Diagnostics = append(res.Diagnostics, strategy.Diagnostic{
				Source: "risk:" + id,
				Detail: "no calculator registered for model",
			})
			continue
		}
		score, err := calc.Compute(ctx, values)
		if err != nil {
			// Score omitted entirely rather than zero-filled.
			res.Partial = true
			if e.metrics != nil {
				e.metrics.CollaboratorErrors.WithLabelValues("risk_calculator", id).Inc()
			}
			e.log.Warn("risk calculator unavailable", "model", id, "error", err)
			continue
		}
		scores[id] = score
	}
	if len(scores) == 0 {
		return nil
	}
	return scores
}

// narrative asks the completion service for an advisory explanation. It
// never changes the computed verdict and is dropped on any failure.
func (e *Engine) narrative(ctx context.Context, criteria strategy.AssessmentCriteria, data fieldmap.Map, res Result) string {
	if e.completions == nil {
		return ""
	}
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString("Explain this screening outcome to the patient in two sentences.\n")
	fmt.Fprintf(&sb, "Criteria met: %v\n", res.MeetsCriteria)
	for _, field := range sortedCopy(criteria.RequiredFields) {
		if v, ok := data.Get(field); ok {
			fmt.Fprintf(&sb, "%s: %s\n", field, v.Text())
		}
	}

	out, err := e.completions.Complete(callCtx, completion.Request{
		System: "You summarize clinical screening outcomes in plain language. Do not change the outcome.",
		Prompt: sb.String(),
	})
	if err != nil {
		e.log.Debug("narrative generation skipped", "error", err)
		return ""
	}
	return strings.TrimSpace(out.Text)
}

func evaluateCondition(cond strategy.Condition, data fieldmap.Map) (bool, *strategy.Diagnostic) {
	v, present := data.Get(cond.Field)

	switch cond.Operator {
	case OpPresent:
		return present, nil
	case OpAbsent:
		return !present, nil
	}
	if !present {
		return false, nil
	}

	switch cond.Operator {
	case OpEq:
		return v.Equal(cond.Value), nil
	case OpNeq:
		return !v.Equal(cond.Value), nil
	case OpGt, OpGte, OpLt, OpLte:
		n, okN := v.AsNumber()
		bound, okB := cond.Value.AsNumber()
		if !okN || !okB {
			return false, nil
		}
		switch cond.Operator {
		case OpGt:
			return n > bound, nil
		case OpGte:
			return n >= bound, nil
		case OpLt:
			return n < bound, nil
		default:
			return n <= bound, nil
		}
	case OpBetween:
		if cond.Value.Kind != fieldmap.KindList || len(cond.Value.List) != 2 {
			return false, &strategy.Diagnostic{Source: "condition:" + cond.Field, Detail: "between requires a [min, max] pair"}
		}
		n, okN := v.AsNumber()
		min, okMin := cond.Value.List[0].AsNumber()
		max, okMax := cond.Value.List[1].AsNumber()
		if !okN || !okMin || !okMax {
			return false, nil
		}
		return n >= min && n <= max, nil
	case OpContains:
		return strings.Contains(strings.ToLower(v.Text()), strings.ToLower(cond.Value.Text())), nil
	default:
		return false, &strategy.Diagnostic{
			Source: "condition:" + cond.Field,
			Detail: fmt.Sprintf("unrecognized operator %q", cond.Operator),
		}
	}
}

func describeCondition(cond strategy.Condition) string {
	switch cond.Operator {
	case OpPresent, OpAbsent:
		return cond.Field + " " + cond.Operator
	default:
		return fmt.Sprintf("%s %s %s", cond.Field, cond.Operator, cond.Value.Text())
	}
}

func recommendations(meets bool) []string {
	if meets {
		return []string{
			"Patient meets the screening criteria.",
			"Refer for genetic counseling and confirmatory clinical review.",
		}
	}
	return []string{
		"Patient does not meet the screening criteria at this time.",
		"Re-screen if family history or clinical status changes.",
	}
}

// IncompleteResult is the verdict used when the turn limit is reached
// before every required field could be collected.
func IncompleteResult(missing []string) Result {
	return Result{
		Incomplete: true,
		Recommendations: []string{
			"Screening ended with incomplete data.",
			"Missing information: " + strings.Join(missing, ", ") + ".",
			"A clinician should follow up to complete the assessment.",
		},
		AssessedAt: time.Now().UTC(),
	}
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
