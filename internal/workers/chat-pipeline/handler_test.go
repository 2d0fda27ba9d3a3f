// internal/workers/chat-pipeline/handler_test.go
package chatpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberflow/internal/common/logger"
	"memberflow/internal/common/openai"
	"memberflow/internal/models"
	"memberflow/pkg/registry"
)

type fakeCompleter struct {
	completions map[string]*openai.Completion
	errors      map[string]error
}

func (f *fakeCompleter) Complete(ctx context.Context, deployment string, messages []openai.Message) (*openai.Completion, error) {
	if err, ok := f.errors[deployment]; ok {
		return nil, err
	}
	if c, ok := f.completions[deployment]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("unknown deployment %q", deployment)
}

type fakeRetriever struct {
	rag models.RagContext
}

func (f *fakeRetriever) Retrieve(ctx context.Context, message string) models.RagContext {
	return f.rag
}

type fakeClaimer struct {
	granted  bool
	claims   []string
	released []string
}

func (f *fakeClaimer) Claim(ctx context.Context, envelopeID string) bool {
	f.claims = append(f.claims, envelopeID)
	return f.granted
}

func (f *fakeClaimer) Release(ctx context.Context, envelopeID string) {
	f.released = append(f.released, envelopeID)
}

type capturingSink struct {
	results []*models.FinalResult
}

func (c *capturingSink) Write(ctx context.Context, result *models.FinalResult) {
	c.results = append(c.results, result)
}

type capturingNotifier struct {
	urls    []string
	results []*models.FinalResult
}

func (c *capturingNotifier) Deliver(ctx context.Context, url string, result *models.FinalResult) models.DeliveryReport {
	c.urls = append(c.urls, url)
	c.results = append(c.results, result)
	return models.DeliveryReport{Delivered: true, StatusCode: 200}
}

func twoModelRegistry() *registry.ModelRegistry {
	return &registry.ModelRegistry{
		Version: "1",
		Models: []registry.ModelSpec{
			{Name: "gpt-4", Deployment: "gpt4-deploy"},
			{Name: "gpt-35-turbo", Deployment: "gpt35-deploy"},
		},
	}
}

func envelopePayload(t *testing.T, callbackURL string) []byte {
	t.Helper()
	payload, err := json.Marshal(models.ChatEnvelope{
		MessageID:      "c1_1700000000000",
		Message:        "What is our refund policy?",
		UserID:         "u1",
		ConversationID: "c1",
		Timestamp:      time.Now().UTC().Format(models.TimestampLayout),
		CallbackURL:    callbackURL,
	})
	require.NoError(t, err)
	return payload
}

func longAnswer() string {
	return wordsOfLength(50)
}

func newTestHandler(completer Completer, retriever ContextRetriever, claimer Claimer, sink ResultSink, notifier CallbackNotifier) *Handler {
	cfg := &Config{
		Timeout:             30 * time.Second,
		DefaultModelTimeout: 5 * time.Second,
	}
	return NewHandler(cfg, twoModelRegistry(), completer, retriever, claimer, sink, notifier, logger.NewNoOpLogger())
}

func TestHandle_SelectsBestResponse(t *testing.T) {
	completer := &fakeCompleter{
		completions: map[string]*openai.Completion{
			// Truncated answer scores 0.56, full answer 0.7.
			"gpt4-deploy":  {Text: longAnswer(), FinishReason: "length"},
			"gpt35-deploy": {Text: longAnswer(), FinishReason: "stop"},
		},
	}
	retriever := &fakeRetriever{rag: models.RagContext{
		Text:           "Refunds are issued within 30 days.",
		Sources:        []string{"kb/refunds"},
		RelevanceScore: 1.0,
	}}
	sink := &capturingSink{}
	notifier := &capturingNotifier{}
	h := newTestHandler(completer, retriever, &fakeClaimer{granted: true}, sink, notifier)

	err := h.Handle(context.Background(), envelopePayload(t, "https://example.com/callback"))
	require.NoError(t, err)

	require.Len(t, sink.results, 1)
	result := sink.results[0]

	assert.Equal(t, "c1_1700000000000", result.ID)
	assert.Equal(t, models.FlowChat, result.Flow)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, "gpt-35-turbo", result.SelectedModel)
	assert.InDelta(t, 0.7, result.Confidence, 1e-9)
	assert.Equal(t, longAnswer(), result.ResponseText)
	assert.Equal(t, []string{"kb/refunds"}, result.ContextSources)

	// Score breakdown keeps registry order regardless of which model won.
	require.Len(t, result.AllModelScores, 2)
	assert.Equal(t, "gpt-4", result.AllModelScores[0].Model)
	assert.InDelta(t, 0.56, result.AllModelScores[0].Confidence, 1e-9)
	assert.Equal(t, "gpt-35-turbo", result.AllModelScores[1].Model)
	assert.InDelta(t, 0.7, result.AllModelScores[1].Confidence, 1e-9)

	require.Equal(t, []string{"https://example.com/callback"}, notifier.urls)
	assert.Same(t, result, notifier.results[0])
}

func TestHandle_AllModelsFail(t *testing.T) {
	completer := &fakeCompleter{
		errors: map[string]error{
			"gpt4-deploy":  fmt.Errorf("connection refused"),
			"gpt35-deploy": fmt.Errorf("connection refused"),
		},
	}
	sink := &capturingSink{}
	notifier := &capturingNotifier{}
	h := newTestHandler(completer, &fakeRetriever{}, &fakeClaimer{granted: true}, sink, notifier)

	err := h.Handle(context.Background(), envelopePayload(t, "https://example.com/callback"))
	require.NoError(t, err)

	require.Len(t, sink.results, 1)
	result := sink.results[0]

	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, "Unable to generate a response.", result.ResponseText)
	assert.Equal(t, "gpt-4", result.SelectedModel)
	assert.Zero(t, result.Confidence)
	for _, score := range result.AllModelScores {
		assert.True(t, score.Failed)
		assert.Zero(t, score.Confidence)
	}

	// The failed result is still relayed so the caller stops waiting.
	assert.Len(t, notifier.urls, 1)
}

func TestHandle_PartialFailureStillCompletes(t *testing.T) {
	completer := &fakeCompleter{
		completions: map[string]*openai.Completion{
			"gpt35-deploy": {Text: longAnswer(), FinishReason: "stop"},
		},
		errors: map[string]error{
			"gpt4-deploy": fmt.Errorf("rate limited"),
		},
	}
	sink := &capturingSink{}
	h := newTestHandler(completer, &fakeRetriever{}, &fakeClaimer{granted: true}, sink, &capturingNotifier{})

	require.NoError(t, h.Handle(context.Background(), envelopePayload(t, "")))

	require.Len(t, sink.results, 1)
	result := sink.results[0]
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, "gpt-35-turbo", result.SelectedModel)
	assert.True(t, result.AllModelScores[0].Failed)
	assert.False(t, result.AllModelScores[1].Failed)
}

func TestHandle_DuplicateDeliverySkipped(t *testing.T) {
	claimer := &fakeClaimer{granted: false}
	sink := &capturingSink{}
	notifier := &capturingNotifier{}
	h := newTestHandler(&fakeCompleter{}, &fakeRetriever{}, claimer, sink, notifier)

	require.NoError(t, h.Handle(context.Background(), envelopePayload(t, "https://example.com/callback")))

	assert.Equal(t, []string{"c1_1700000000000"}, claimer.claims)
	assert.Empty(t, sink.results)
	assert.Empty(t, notifier.urls)
}

func TestHandle_CancelledContextReleasesClaim(t *testing.T) {
	claimer := &fakeClaimer{granted: true}
	sink := &capturingSink{}
	notifier := &capturingNotifier{}
	h := newTestHandler(&fakeCompleter{}, &fakeRetriever{}, claimer, sink, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Handle(ctx, envelopePayload(t, "https://example.com/callback"))

	// Redelivery must retry this envelope, so the claim goes back.
	require.Error(t, err)
	assert.Equal(t, []string{"c1_1700000000000"}, claimer.claims)
	assert.Equal(t, []string{"c1_1700000000000"}, claimer.released)
	assert.Empty(t, sink.results)
	assert.Empty(t, notifier.urls)
}

func TestHandle_UnparsablePayloadDropped(t *testing.T) {
	claimer := &fakeClaimer{granted: true}
	sink := &capturingSink{}
	h := newTestHandler(&fakeCompleter{}, &fakeRetriever{}, claimer, sink, &capturingNotifier{})

	// nil error so the consumer acks instead of redelivering forever.
	require.NoError(t, h.Handle(context.Background(), []byte("{broken")))

	assert.Empty(t, claimer.claims)
	assert.Empty(t, sink.results)
}

func TestHandle_NoCallbackURL(t *testing.T) {
	completer := &fakeCompleter{
		completions: map[string]*openai.Completion{
			"gpt4-deploy":  {Text: longAnswer(), FinishReason: "stop"},
			"gpt35-deploy": {Text: longAnswer(), FinishReason: "stop"},
		},
	}
	sink := &capturingSink{}
	notifier := &capturingNotifier{}
	h := newTestHandler(completer, &fakeRetriever{}, &fakeClaimer{granted: true}, sink, notifier)

	require.NoError(t, h.Handle(context.Background(), envelopePayload(t, "")))

	assert.Len(t, sink.results, 1)
	assert.Empty(t, notifier.urls)
}
