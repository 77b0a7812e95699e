package extraction

import "regexp"

// Shared medical vocabulary used by the pattern and tagger families.

var relationTerms = []string{
	"mother", "father", "sister", "brother", "daughter", "son",
	"aunt", "uncle", "grandmother", "grandfather", "cousin",
	"mom", "dad", "grandma", "grandpa",
}

// conditionCodes maps literal condition spellings to canonical codes.
// Longer spellings come first so "colorectal cancer" is not shadowed by a
// shorter prefix.
var conditionCodes = []struct {
	Term string
	Code string
}{
	{"colorectal cancer", "colorectal_cancer"},
	{"pancreatic cancer", "pancreatic_cancer"},
	{"prostate cancer", "prostate_cancer"},
	{"ovarian cancer", "ovarian_cancer"},
	{"breast cancer", "breast_cancer"},
	{"colon cancer", "colorectal_cancer"},
	{"skin cancer", "melanoma"},
	{"melanoma", "melanoma"},
	{"lung cancer", "lung_cancer"},
}

var (
	ageExplicitPattern = regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:years?[ -]old|years?\s+of\s+age|yrs?\b|y/?o\b)`)
	ageStatedPattern   = regexp.MustCompile(`(?i)\b(?:i'?m|i am|age\s*(?:is|:)?|turned)\s*(\d{1,3})\b`)

	yesPattern = regexp.MustCompile(`(?i)^\W*(yes|yeah|yep|correct|right|i do|i have)\b`)
	noPattern  = regexp.MustCompile(`(?i)^\W*(no|nope|never|none|i don'?t|i haven'?t)\b`)

	negatedHistoryPattern = regexp.MustCompile(`(?i)\b(?:no|none|nobody|no one)\b[^.]*\b(?:family|relatives?|history)\b`)

	numberPattern = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	yearPattern   = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
)

var relationPattern = buildRelationPattern()

func buildRelationPattern() *regexp.Regexp {
	expr := `(?i)\b(`
	for i, term := range relationTerms {
		if i > 0 {
			expr += "|"
		}
		expr += term
	}
	expr += `)\b`
	return regexp.MustCompile(expr)
}
