package validation

import (
	"strings"

	"github.com/arbovm/levenshtein"
)

// ModelSuggester proposes the closest known model name for a mistyped one.
type ModelSuggester struct {
	candidates  []string
	maxDistance int
}

// NewModelSuggester creates a suggester over the given names. Names further
// than maxDistance edits away (after lower-casing) are never suggested.
func NewModelSuggester(candidates []string, maxDistance int) *ModelSuggester {
	return &ModelSuggester{
		candidates:  append([]string(nil), candidates...),
		maxDistance: maxDistance,
	}
}

// Suggest returns the closest candidate, or "" if none is close enough.
// Exact matches are not suggested.
func (s *ModelSuggester) Suggest(input string) string {
	needle := strings.ToLower(strings.TrimSpace(input))
	if needle == "" {
		return ""
	}

	best, bestDist := "", s.maxDistance+1
	for _, c := range s.candidates {
		if c == input {
			return ""
		}
		if d := levenshtein.Distance(needle, strings.ToLower(c)); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
