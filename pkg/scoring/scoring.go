// Package scoring computes compatibility scores between user preference
// vectors. Scores are deterministic, symmetric, and always in [0,1]; a zero
// vector on either side yields 0 ("insufficient data") rather than an error.
package scoring

import (
	"math"

	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
)

// Engine scores preference vectors under a per-dimension weighting. The
// weighting is tunable configuration (experiment variants override it); the
// [0,1] contract and symmetry are not.
type Engine struct {
	weights []float64
}

// NewEngine builds an engine from answer-keyed weight overrides, e.g.
// {"cleanliness_room": 2.0}. Unknown keys are ignored; unlisted dimensions
// keep weight 1. A nil or empty map yields the unweighted engine.
func NewEngine(overrides map[string]float64) *Engine {
	weights := make([]float64, models.VectorDimensions)
	for i := range weights {
		weights[i] = 1
	}
	for key, w := range overrides {
		idx, ok := models.AnswerDimensions[key]
		if !ok || w < 0 {
			continue
		}
		weights[idx] = w
	}
	return &Engine{weights: weights}
}

// Score returns the weighted cosine similarity of two vectors rescaled from
// [-1,1] to [0,1]. Vectors of mismatched length or without signal score 0.
func (e *Engine) Score(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		w := 1.0
		if i < len(e.weights) {
			w = e.weights[i]
		}
		dot += w * a[i] * b[i]
		normA += w * a[i] * a[i]
		normB += w * b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Guard against float drift outside [-1,1] before rescaling.
	cos = math.Max(-1, math.Min(1, cos))
	return (cos + 1) / 2
}

// ScoreGroup returns the mean of all pairwise scores. Fewer than two vectors,
// or any zero vector, yields 0.
func (e *Engine) ScoreGroup(vectors [][]float64) float64 {
	if len(vectors) < 2 {
		return 0
	}
	for _, v := range vectors {
		if !hasSignal(v) {
			return 0
		}
	}

	var total float64
	var pairs int
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			total += e.Score(vectors[i], vectors[j])
			pairs++
		}
	}
	return total / float64(pairs)
}

// DealbreakerDims resolves answer keys to vector dimension indexes. Unknown
// keys are ignored.
func DealbreakerDims(keys []string) []int {
	dims := make([]int, 0, len(keys))
	for _, key := range keys {
		if idx, ok := models.AnswerDimensions[key]; ok {
			dims = append(dims, idx)
		}
	}
	return dims
}

// DealbreakerConflict reports a hard incompatibility: on any guarded
// dimension the two vectors sit further apart than maxGap. Each vector is
// rescaled by its own largest dimension first, so L2 normalization does not
// distort the comparison; with that rescaling, opposite extremes are 1 apart.
// An empty dimension list or a non-positive gap disables the check.
func DealbreakerConflict(a, b []float64, dims []int, maxGap float64) bool {
	if len(dims) == 0 || maxGap <= 0 {
		return false
	}
	ma, mb := maxAbs(a), maxAbs(b)
	if ma == 0 || mb == 0 {
		return false
	}
	for _, d := range dims {
		if d < 0 || d >= len(a) || d >= len(b) {
			continue
		}
		if math.Abs(a[d]/ma-b[d]/mb) > maxGap {
			return true
		}
	}
	return false
}

// FitIndex buckets a raw [0,1] fit score into the 0-100 display scale.
func FitIndex(score float64) int {
	return int(math.Round(score * 100))
}

func maxAbs(v []float64) float64 {
	var max float64
	for _, d := range v {
		if a := math.Abs(d); a > max {
			max = a
		}
	}
	return max
}

func hasSignal(v []float64) bool {
	for _, d := range v {
		if d != 0 {
			return true
		}
	}
	return false
}
