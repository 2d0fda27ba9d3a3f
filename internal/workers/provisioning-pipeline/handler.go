// internal/workers/provisioning-pipeline/handler.go
package provisioningpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"memberflow/internal/common/errors"
	"memberflow/internal/common/logger"
	"memberflow/internal/common/metrics"
	"memberflow/internal/models"
)

// Claimer grants at-most-once processing claims; satisfied by queue.Deduper.
type Claimer interface {
	Claim(ctx context.Context, envelopeID string) bool
	Release(ctx context.Context, envelopeID string)
}

// ResultSink persists final results best-effort; satisfied by sink.Sink.
type ResultSink interface {
	Write(ctx context.Context, result *models.FinalResult)
}

// CallbackNotifier relays the final result back to the purchase webhook;
// satisfied by callback.Notifier.
type CallbackNotifier interface {
	Deliver(ctx context.Context, url string, result *models.FinalResult) models.DeliveryReport
}

// Alerter raises operator alerts; satisfied by alerts.Notifier.
type Alerter interface {
	UnrecoverableFailure(ctx context.Context, envelopeID, flow, cause string)
}

// Handler runs one provisioning invocation: dedupe, walk the step table
// against Microsoft Graph, persist the outcome and call the purchase webhook
// back.
type Handler struct {
	config   *Config
	runner   *stepRunner
	deduper  Claimer
	sink     ResultSink
	notifier CallbackNotifier
	alerter  Alerter
	logger   logger.Logger
}

func NewHandler(
	cfg *Config,
	graph GraphClient,
	deduper Claimer,
	sink ResultSink,
	notifier CallbackNotifier,
	alerter Alerter,
	log logger.Logger,
) *Handler {
	return &Handler{
		config:   cfg,
		runner:   &stepRunner{graph: graph, inviteRedirectURL: cfg.InviteRedirectURL},
		deduper:  deduper,
		sink:     sink,
		notifier: notifier,
		alerter:  alerter,
		logger:   log.With(map[string]interface{}{"flow": string(models.FlowProvisioning)}),
	}
}

// Handle consumes one queued provisioning envelope. Malformed payloads are
// dropped; everything else produces a final result, even when every Graph
// step failed.
func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	started := time.Now()

	var envelope models.ProvisioningEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		h.logger.Error("dropping unparsable envelope", map[string]interface{}{
			"error": errors.NewEnvelopeUnparsableError(err).Error(),
		})
		return nil
	}

	log := h.logger.With(map[string]interface{}{
		"provisioningId": envelope.ProvisioningID,
		"purchaseId":     envelope.PurchaseID,
	})

	if !h.deduper.Claim(ctx, envelope.ProvisioningID) {
		log.Info("duplicate delivery, skipping", nil)
		return nil
	}

	// A claim taken after the consumer context has been cancelled (shutdown
	// mid-dequeue) would make the redelivery look like a duplicate. Give the
	// claim back and let the next delivery do the work.
	if err := ctx.Err(); err != nil {
		h.deduper.Release(context.WithoutCancel(ctx), envelope.ProvisioningID)
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

	if envelope.WebhookURL != "" {
		report := h.notifier.Deliver(ctx, envelope.WebhookURL, result)
		if !report.Delivered {
			log.Warn("callback delivery failed", map[string]interface{}{
				"attemptId": report.AttemptID,
				"error":     report.Error,
			})
		}
	}

	if result.Status == models.StatusFailed {
		h.alerter.UnrecoverableFailure(ctx, envelope.ProvisioningID, string(models.FlowProvisioning), result.Error)
	}

	metrics.PipelineInvocations.WithLabelValues(string(models.FlowProvisioning), result.Status).Inc()
	metrics.PipelineDuration.WithLabelValues(string(models.FlowProvisioning)).Observe(time.Since(started).Seconds())

	log.Info("invocation finished", map[string]interface{}{
		"status":     result.Status,
		"durationMs": time.Since(started).Milliseconds(),
	})
	return nil
}

func (h *Handler) process(ctx context.Context, envelope *models.ProvisioningEnvelope, log logger.Logger) *models.FinalResult {
	steps := make(map[string]models.StepResult, len(stepOrder))
	state := &stepState{}

	for _, name := range stepOrder {
		if !envelope.Provisioning[name] {
			continue
		}

		if dep, gated := dependsOn[name]; gated {
			if prev, ran := steps[dep]; !ran || !prev.Success {
				steps[name] = models.StepResult{
					Success: false,
					Error:   fmt.Sprintf("skipped: %s did not succeed", dep),
				}
				log.Warn("step skipped", map[string]interface{}{"step": name, "dependency": dep})
				continue
			}
		}

		result := h.runner.run(ctx, name, envelope, state)
		steps[name] = result
		if result.Success {
			log.Info("step completed", map[string]interface{}{"step": name})
		} else {
			log.Error("step failed", map[string]interface{}{"step": name, "error": result.Error})
		}
	}

	status := deriveStatus(steps)

	final := &models.FinalResult{
		ID:         envelope.ProvisioningID,
		Flow:       models.FlowProvisioning,
		Status:     status,
		Timestamp:  time.Now().UTC().Format(models.TimestampLayout),
		Steps:      steps,
		PurchaseID: envelope.PurchaseID,
	}
	if status == models.StatusFailed {
		final.Error = "no provisioning step succeeded"
	}
	return final
}

// deriveStatus collapses the per-step outcomes: completed when every enabled
// step succeeded, failed when none did, partial otherwise.
func deriveStatus(steps map[string]models.StepResult) string {
	allSucceeded := true
	anySucceeded := false
	for _, step := range steps {
		if step.Success {
			anySucceeded = true
		} else {
			allSucceeded = false
		}
	}

	switch {
	case allSucceeded:
		return models.StatusCompleted
	case anySucceeded:
		return models.StatusPartial
	default:
		return models.StatusFailed
	}
}
