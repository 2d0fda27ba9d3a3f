// internal/workers/chat-pipeline/selector.go
package chatpipeline

import "memberflow/internal/models"

// Fallback answer relayed when every model in the fan-out failed.
const failurePlaceholder = "Unable to generate a response."

// Select picks the highest-confidence response. Ties resolve to the earliest
// response in call order, so selection is deterministic for a fixed registry.
// When every response failed (all confidences zero), the first response is
// returned with ok=false and the caller marks the invocation failed.
func Select(responses []*models.ModelResponse) (selected *models.ModelResponse, ok bool) {
	if len(responses) == 0 {
		return nil, false
	}

	best := responses[0]
	anySucceeded := best.Error == ""
	for _, resp := range responses[1:] {
		if resp.Error == "" {
			anySucceeded = true
		}
		if resp.Confidence > best.Confidence {
			best = resp
		}
	}

	return best, anySucceeded
}
