// internal/workers/chat-pipeline/handler.go
package chatpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"memberflow/internal/common/errors"
	"memberflow/internal/common/logger"
	"memberflow/internal/common/metrics"
	"memberflow/internal/common/openai"
	"memberflow/internal/models"
	"memberflow/pkg/registry"
)

const defaultSystemPrompt = "You are a helpful assistant for members of our organization. " +
	"Answer using the provided context when it is relevant."

// Completer issues one chat completion; satisfied by openai.Client.
type Completer interface {
	Complete(ctx context.Context, deployment string, messages []openai.Message) (*openai.Completion, error)
}

// ContextRetriever fetches supporting context; satisfied by Retriever.
type ContextRetriever interface {
	Retrieve(ctx context.Context, message string) models.RagContext
}

// Claimer grants at-most-once processing claims; satisfied by queue.Deduper.
type Claimer interface {
	Claim(ctx context.Context, envelopeID string) bool
	Release(ctx context.Context, envelopeID string)
}

// ResultSink persists final results best-effort; satisfied by sink.Sink.
type ResultSink interface {
	Write(ctx context.Context, result *models.FinalResult)
}

// CallbackNotifier relays the final result outward; satisfied by
// callback.Notifier.
type CallbackNotifier interface {
	Deliver(ctx context.Context, url string, result *models.FinalResult) models.DeliveryReport
}

// Handler runs one chat invocation end to end: dedupe, retrieve, fan out over
// the model registry, score, select, persist and call back.
type Handler struct {
	config    *Config
	registry  *registry.ModelRegistry
	completer Completer
	retriever ContextRetriever
	deduper   Claimer
	sink      ResultSink
	notifier  CallbackNotifier
	logger    logger.Logger
}

func NewHandler(
	cfg *Config,
	reg *registry.ModelRegistry,
	completer Completer,
	retriever ContextRetriever,
	deduper Claimer,
	sink ResultSink,
	notifier CallbackNotifier,
	log logger.Logger,
) *Handler {
	return &Handler{
		config:    cfg,
		registry:  reg,
		completer: completer,
		retriever: retriever,
		deduper:   deduper,
		sink:      sink,
		notifier:  notifier,
		logger:    log.With(map[string]interface{}{"flow": string(models.FlowChat)}),
	}
}

// Handle consumes one queued chat envelope. It returns an error only when the
// envelope was not handled and redelivery should retry it; malformed payloads
// are swallowed so they do not loop forever.
func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	started := time.Now()

	var envelope models.ChatEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		h.logger.Error("dropping unparsable envelope", map[string]interface{}{
			"error": errors.NewEnvelopeUnparsableError(err).Error(),
		})
		return nil
	}

	log := h.logger.With(map[string]interface{}{"messageId": envelope.MessageID})

	if !h.deduper.Claim(ctx, envelope.MessageID) {
		log.Info("duplicate delivery, skipping", nil)
		return nil
	}

	// A claim taken after the consumer context has been cancelled (shutdown
	// mid-dequeue) would make the redelivery look like a duplicate. Give the
	// claim back and let the next delivery do the work.
	if err := ctx.Err(); err != nil {
		h.deduper.Release(context.WithoutCancel(ctx), envelope.MessageID)
		log.Warn("invocation aborted before processing, claim released", nil)
		return err
	}

	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	result := h.process(ctx, &envelope, log)

	h.sink.Write(ctx, result)

	if envelope.CallbackURL != "" {
		report := h.notifier.Deliver(ctx, envelope.CallbackURL, result)
		if !report.Delivered {
			log.Warn("callback delivery failed", map[string]interface{}{
				"attemptId": report.AttemptID,
				"error":     report.Error,
			})
		}
	}

	metrics.PipelineInvocations.WithLabelValues(string(models.FlowChat), result.Status).Inc()
	metrics.PipelineDuration.WithLabelValues(string(models.FlowChat)).Observe(time.Since(started).Seconds())

	log.Info("invocation finished", map[string]interface{}{
		"status":        result.Status,
		"selectedModel": result.SelectedModel,
		"confidence":    result.Confidence,
		"durationMs":    time.Since(started).Milliseconds(),
	})
	return nil
}

func (h *Handler) process(ctx context.Context, envelope *models.ChatEnvelope, log logger.Logger) *models.FinalResult {
	searchCtx := ctx
	if h.config.SearchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, h.config.SearchTimeout)
		defer cancel()
	}
	rag := h.retriever.Retrieve(searchCtx, envelope.Message)

	responses := h.fanOut(ctx, envelope, rag)

	scores := make([]models.ModelScore, len(responses))
	for i, resp := range responses {
		scores[i] = models.ModelScore{
			Model:      resp.Model,
			Confidence: Round2(resp.Confidence),
			Failed:     resp.Error != "",
		}
	}

	selected, ok := Select(responses)

	result := &models.FinalResult{
		ID:             envelope.MessageID,
		Flow:           models.FlowChat,
		Timestamp:      time.Now().UTC().Format(models.TimestampLayout),
		AllModelScores: scores,
		ContextSources: rag.Sources,
	}

	if !ok {
		result.Status = models.StatusFailed
		result.ResponseText = failurePlaceholder
		if selected != nil {
			result.SelectedModel = selected.Model
		}
		result.Confidence = 0
		result.Error = "all models failed"
		log.Error("every model call failed", map[string]interface{}{
			"models": len(responses),
		})
		return result
	}

	result.Status = models.StatusCompleted
	result.ResponseText = selected.Text
	result.SelectedModel = selected.Model
	result.Confidence = Round2(selected.Confidence)
	return result
}

// fanOut queries every registered model concurrently and waits for all of
// them. Slot i of the returned slice always belongs to registry entry i, so
// call order survives the concurrency.
func (h *Handler) fanOut(ctx context.Context, envelope *models.ChatEnvelope, rag models.RagContext) []*models.ModelResponse {
	responses := make([]*models.ModelResponse, len(h.registry.Models))

	var wg sync.WaitGroup
	for i, spec := range h.registry.Models {
		wg.Add(1)
		go func(i int, spec registry.ModelSpec) {
			defer wg.Done()
			responses[i] = h.callModel(ctx, spec, envelope, rag)
		}(i, spec)
	}
	wg.Wait()

	return responses
}

func (h *Handler) callModel(ctx context.Context, spec registry.ModelSpec, envelope *models.ChatEnvelope, rag models.RagContext) *models.ModelResponse {
	timeout := h.config.DefaultModelTimeout
	if spec.Timeout > 0 {
		timeout = time.Duration(spec.Timeout) * time.Millisecond
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	completion, err := h.completer.Complete(ctx, spec.Deployment, buildMessages(spec, envelope.Message, rag))
	if err != nil {
		metrics.ModelCalls.WithLabelValues(spec.Name, "error").Inc()

		var stdErr error
		if ctx.Err() == context.DeadlineExceeded {
			stdErr = errors.NewModelCallTimeoutError(spec.Name)
		} else {
			stdErr = errors.NewModelCallFailedError(spec.Name, err)
		}
		h.logger.Warn("model call failed", map[string]interface{}{
			"model": spec.Name,
			"error": stdErr.Error(),
		})
		return &models.ModelResponse{
			Model:      spec.Name,
			Confidence: 0,
			Error:      stdErr.Error(),
		}
	}

	metrics.ModelCalls.WithLabelValues(spec.Name, "success").Inc()

	resp := &models.ModelResponse{
		Model:        spec.Name,
		Text:         completion.Text,
		FinishReason: completion.FinishReason,
		TokensUsed:   completion.TotalTokens,
	}
	resp.Confidence = Score(resp, rag.RelevanceScore)
	return resp
}

// buildMessages assembles the prompt: system instructions, retrieved context
// when present, then the user's message.
func buildMessages(spec registry.ModelSpec, message string, rag models.RagContext) []openai.Message {
	systemPrompt := spec.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	messages := []openai.Message{{Role: "system", Content: systemPrompt}}
	if strings.TrimSpace(rag.Text) != "" {
		messages = append(messages, openai.Message{
			Role:    "system",
			Content: fmt.Sprintf("Context:\n%s", rag.Text),
		})
	}
	return append(messages, openai.Message{Role: "user", Content: message})
}
