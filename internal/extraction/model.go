package extraction

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

// ModelExtractor is the model-reasoning family: one structured-output
// completion call per message, constrained to the target field schema.
// Transport failures and timeouts degrade to an empty partial map; the
// conversation never fails because the model was unreachable.
type ModelExtractor struct {
	client  completion.Client
	timeout time.Duration
	log     *observability.Logger
}

func NewModelExtractor(client completion.Client, timeout time.Duration, log *observability.Logger) *ModelExtractor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ModelExtractor{client: client, timeout: timeout, log: log}
}

func (e *ModelExtractor) Method() strategy.ExtractionMethod { return strategy.MethodModel }

func (e *ModelExtractor) Extract(ctx context.Context, text string, rules []strategy.ExtractionRule) (map[string]fieldmap.Value, error) {
	if len(rules) == 0 {
		return map[string]fieldmap.Value{}, nil
	}

	schema := make([]string, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	var instructions []string
	for _, rule := range rules {
		if seen[rule.Field] {
			continue
		}
		seen[rule.Field] = true
		schema = append(schema, rule.Field)
		if body := strings.TrimSpace(rule.Body); body != "" {
			instructions = append(instructions, fmt.Sprintf("%s: %s", rule.Field, body))
		}
	}
	sort.Strings(schema)

	var prompt strings.Builder
	prompt.WriteString("Extract the following fields from the patient message. ")
	prompt.WriteString("Answer with a JSON object containing only fields you are certain about.\n")
	for _, line := range instructions {
		prompt.WriteString(line)
		prompt.WriteString("\n")
	}
	prompt.WriteString("Patient message: ")
	prompt.WriteString(text)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.client.Complete(callCtx, completion.Request{
		System: "You extract structured clinical screening fields from patient replies.",
		Prompt: prompt.String(),
		Schema: schema,
	})
	if err != nil {
		e.log.Warn("model extraction degraded to empty map", "error", err)
		return map[string]fieldmap.Value{}, nil
	}

	out := make(map[string]fieldmap.Value, len(res.Fields))
	for field, raw := range res.Fields {
		if !seen[field] {
			continue
		}
		v := coerce(raw)
		if !v.IsZero() {
			out[field] = v
		}
	}
	return out, nil
}
