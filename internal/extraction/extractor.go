package extraction

import (
	"context"

	"github.com/openscreen/triage/internal/fieldmap"
	"github.com/openscreen/triage/internal/strategy"
)

// Extractor is one extraction method family. Extract returns a partial map
// of field name to value for the rules it understands; fields it cannot
// resolve are simply absent. Implementations must be deterministic for
// identical inputs (the model family isolates its nondeterminism behind
// the completion client).
type Extractor interface {
	Method() strategy.ExtractionMethod
	Extract(ctx context.Context, text string, rules []strategy.ExtractionRule) (map[string]fieldmap.Value, error)
}

// MethodRank orders method families for conflict resolution: lower is more
// literal and wins. Pattern matches beat tagger buckets beat model output.
func MethodRank(method strategy.ExtractionMethod) int {
	switch method {
	case strategy.MethodPattern:
		return 0
	case strategy.MethodTagger:
		return 1
	case strategy.MethodModel:
		return 2
	default:
		return 3
	}
}
