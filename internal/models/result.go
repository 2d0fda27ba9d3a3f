// internal/models/result.go
package models

// Overall outcome of one worker invocation.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusPartial   = "partial"
)

// RagContext is the result of context retrieval. Produced and consumed within
// a single worker invocation.
type RagContext struct {
	Text           string   `json:"text"`
	Sources        []string `json:"sources"`
	RelevanceScore float64  `json:"relevanceScore"` // in [0,1]
}

// ModelResponse is one model's answer to one request. On failure Confidence is
// forced to 0 and Error carries the detail.
type ModelResponse struct {
	Model        string  `json:"model"`
	Text         string  `json:"text"`
	Confidence   float64 `json:"confidence"`
	FinishReason string  `json:"finishReason,omitempty"`
	TokensUsed   int     `json:"tokensUsed,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// ModelScore is one entry of the per-model breakdown, kept in query order.
type ModelScore struct {
	Model      string  `json:"model"`
	Confidence float64 `json:"confidence"`
	Failed     bool    `json:"failed,omitempty"`
}

// StepResult is the outcome of a single provisioning step. URLs holds the
// resource locations produced by the step (teamsUrl, siteUrl, ...).
type StepResult struct {
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	URLs    map[string]string `json:"urls,omitempty"`
}

// FinalResult is the record persisted by the sink and relayed outward.
// Confidence always equals the maximum among AllModelScores; it is never
// re-derived after selection.
type FinalResult struct {
	ID             string                `json:"id"`
	Flow           Flow                  `json:"flow"`
	Status         string                `json:"status"`
	Timestamp      string                `json:"timestamp"`
	ResponseText   string                `json:"responseText,omitempty"`
	SelectedModel  string                `json:"selectedModel,omitempty"`
	Confidence     float64               `json:"confidence,omitempty"`
	AllModelScores []ModelScore          `json:"allModelScores,omitempty"`
	ContextSources []string              `json:"contextSources,omitempty"`
	Steps          map[string]StepResult `json:"steps,omitempty"`
	PurchaseID     string                `json:"purchaseId,omitempty"`
	Error          string                `json:"error,omitempty"`
}

// DeliveryReport records one callback delivery attempt so a failed delivery
// can be retried manually later.
type DeliveryReport struct {
	AttemptID  string `json:"attemptId"`
	EnvelopeID string `json:"envelopeId"`
	URL        string `json:"url"`
	StatusCode int    `json:"statusCode,omitempty"`
	Delivered  bool   `json:"delivered"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}
