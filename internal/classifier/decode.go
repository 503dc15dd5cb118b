package classifier

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/floats"
)

// Prediction is the decoded top-1 output of a network.
type Prediction struct {
	ClassIndex int
	ClassID    string
	ClassName  string
	Label      string // ClassName formatted for display
	Confidence float32
}

const probabilityTolerance = 1e-3

// DecodeTop1 picks the highest scoring class. Scores that do not already
// form a probability distribution are passed through softmax first. Ties go
// to the lowest index.
func DecodeTop1(scores []float32, vocab *Vocabulary) (Prediction, error) {
	if len(scores) == 0 {
		return Prediction{}, errors.New("decode: empty model output")
	}
	if vocab == nil {
		return Prediction{}, errors.New("decode: no vocabulary loaded")
	}
	if len(scores) != vocab.Len() {
		return Prediction{}, fmt.Errorf("decode: model produced %d scores for %d classes", len(scores), vocab.Len())
	}

	probs := make([]float64, len(scores))
	for i, v := range scores {
		probs[i] = float64(v)
	}
	if !isDistribution(probs) {
		softmax(probs)
	}

	best := floats.MaxIdx(probs)
	entry, _ := vocab.Lookup(best)
	return Prediction{
		ClassIndex: best,
		ClassID:    entry.ID,
		ClassName:  entry.Name,
		Label:      FormatLabel(entry.Name),
		Confidence: clamp01(float32(probs[best])),
	}, nil
}

func isDistribution(v []float64) bool {
	if floats.HasNaN(v) || floats.Min(v) < 0 || floats.Max(v) > 1 {
		return false
	}
	return math.Abs(floats.Sum(v)-1) <= probabilityTolerance
}

// softmax overwrites v with its softmax.
func softmax(v []float64) {
	floats.AddConst(-floats.LogSumExp(v), v)
	for i, x := range v {
		v[i] = math.Exp(x)
	}
}

func clamp01(v float32) float32 {
	switch {
	case math.IsNaN(float64(v)) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// FormatLabel turns a raw class name such as "German_short-haired_pointer"
// into "German Short-Haired Pointer": underscores become spaces and every
// run of letters is capitalized on its first letter and lowered after it.
// Any Unicode letter counts, including uncased ones such as CJK, which would
// not start a new word under Python's str.title; ImageNet names have none.
func FormatLabel(name string) string {
	name = strings.ReplaceAll(name, "_", " ")

	var b strings.Builder
	b.Grow(len(name))
	prevLetter := false
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) && prevLetter:
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLetter(r):
			b.WriteRune(unicode.ToTitle(r))
		default:
			b.WriteRune(r)
		}
		prevLetter = unicode.IsLetter(r)
	}
	return b.String()
}
