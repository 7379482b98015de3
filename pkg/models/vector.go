package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// VectorDimensions is the fixed length of every preference vector.
const VectorDimensions = 50

// Dimension indexes for questionnaire answers. Lifestyle occupies 0-9,
// social 10-19, Big Five personality 20-24, communication style 40-41.
var AnswerDimensions = map[string]int{
	"sleep_start":         0,
	"sleep_end":           1,
	"study_intensity":     2,
	"cleanliness_room":    3,
	"cleanliness_kitchen": 4,
	"noise_tolerance":     5,
	"guests_frequency":    6,
	"parties_frequency":   7,
	"chores_preference":   8,
	"alcohol_at_home":     9,

	"social_level":     10,
	"food_sharing":     11,
	"utensils_sharing": 12,

	"extraversion":      20,
	"agreeableness":     21,
	"conscientiousness": 22,
	"neuroticism":       23,
	"openness":          24,

	"conflict_style":           40,
	"communication_preference": 41,
}

// PreferenceVector is a user's fixed-length preference vector. A zero vector
// means the questionnaire has not been scored yet and must never be used as
// candidate input.
type PreferenceVector struct {
	UserID    uuid.UUID
	Dims      []float64
	UpdatedAt time.Time
}

// IsZero reports whether the vector carries no signal (empty or all zeros).
func (v PreferenceVector) IsZero() bool {
	for _, d := range v.Dims {
		if d != 0 {
			return false
		}
	}
	return true
}

// VectorFromAnswers maps questionnaire answers (raw 0-10 scale) onto the
// fixed dimension layout and L2-normalizes the result. Unknown answer keys
// are ignored. Answers for time-of-day questions are expected on the same
// 0-10 scale as everything else; scale conversion happens upstream.
func VectorFromAnswers(answers map[string]float64) []float64 {
	dims := make([]float64, VectorDimensions)
	for key, value := range answers {
		idx, ok := AnswerDimensions[key]
		if !ok {
			continue
		}
		dims[idx] = clamp01(value / 10)
	}

	var sumSquares float64
	for _, d := range dims {
		sumSquares += d * d
	}
	if sumSquares == 0 {
		return dims
	}
	magnitude := math.Sqrt(sumSquares)
	for i := range dims {
		dims[i] /= magnitude
	}
	return dims
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
