// internal/workers/chat-pipeline/scorer.go
package chatpipeline

import (
	"math"
	"strings"

	"memberflow/internal/models"
)

const baseConfidence = 0.7

// Score computes a heuristic confidence for one successful model response.
// The score is multiplicative over three quality signals and clamped to 1.0:
//
//	base * (0.7 + 0.3*ragRelevance) * completionFactor * lengthFactor
//
// Failed responses never reach here; the caller forces their confidence to 0.
func Score(resp *models.ModelResponse, ragRelevance float64) float64 {
	score := baseConfidence
	score *= 0.7 + 0.3*ragRelevance
	score *= completionFactor(resp.FinishReason)
	score *= lengthFactor(resp.Text)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// completionFactor rewards responses the model finished on its own terms.
// "stop" means a natural ending; "length" means the token budget cut the
// answer short.
func completionFactor(finishReason string) float64 {
	switch finishReason {
	case "stop":
		return 1.0
	case "length":
		return 0.8
	default:
		return 0.6
	}
}

// lengthFactor penalizes answers outside the 20-200 word sweet spot. Too
// short usually means a non-answer; too long gets a mild penalty only.
func lengthFactor(text string) float64 {
	words := len(strings.Fields(text))
	switch {
	case words < 20:
		return 0.8
	case words > 200:
		return 0.9
	default:
		return 1.0
	}
}

// Round2 rounds to two decimals for display. Selection always compares
// unrounded scores.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
