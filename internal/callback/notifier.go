// internal/callback/notifier.go

// Package callback relays final results to the caller-supplied URL. Delivery
// is fire-and-forget with a single attempt: a failure produces a delivery
// report for manual replay, never a retry loop against someone else's server.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"memberflow/internal/common/errors"
	"memberflow/internal/common/logger"
	"memberflow/internal/common/metrics"
	"memberflow/internal/models"
)

// Header carrying the provisioning id so the purchase webhook can correlate
// without parsing the body.
const provisioningIDHeader = "X-Provisioning-ID"

type Notifier struct {
	httpClient *http.Client
	logger     logger.Logger
}

func New(timeout time.Duration, log logger.Logger) *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// chatPayload is the body POSTed for the chat flow.
type chatPayload struct {
	MessageID      string              `json:"messageId"`
	Status         string              `json:"status"`
	Response       string              `json:"response"`
	Model          string              `json:"model,omitempty"`
	Confidence     float64             `json:"confidence"`
	AllModelScores []models.ModelScore `json:"allModelScores,omitempty"`
	Sources        []string            `json:"sources,omitempty"`
	Timestamp      string              `json:"timestamp"`
}

// provisioningPayload is the body POSTed back to the purchase webhook.
type provisioningPayload struct {
	ProvisioningID string            `json:"provisioningId"`
	PurchaseID     string            `json:"purchaseId"`
	Status         string            `json:"status"`
	Resources      map[string]string `json:"resources"`
	Timestamp      string            `json:"timestamp"`
	Error          string            `json:"error,omitempty"`
}

// Deliver POSTs the result to url and reports the outcome. The report is
// always returned, delivered or not.
func (n *Notifier) Deliver(ctx context.Context, url string, result *models.FinalResult) models.DeliveryReport {
	report := models.DeliveryReport{
		AttemptID:  uuid.NewString(),
		EnvelopeID: result.ID,
		URL:        url,
		Timestamp:  time.Now().UTC().Format(models.TimestampLayout),
	}

	body, err := json.Marshal(buildPayload(result))
	if err != nil {
		report.Error = err.Error()
		metrics.CallbackDeliveries.WithLabelValues("error").Inc()
		return report
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		report.Error = errors.NewCallbackFailedError(url, err).Error()
		metrics.CallbackDeliveries.WithLabelValues("error").Inc()
		return report
	}
	req.Header.Set("Content-Type", "application/json")
	if result.Flow == models.FlowProvisioning {
		req.Header.Set(provisioningIDHeader, result.ID)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		report.Error = errors.NewCallbackFailedError(url, err).Error()
		metrics.CallbackDeliveries.WithLabelValues("error").Inc()
		n.logger.Warn("callback unreachable", map[string]interface{}{
			"attemptId": report.AttemptID,
			"url":       url,
			"error":     err.Error(),
		})
		return report
	}
	defer resp.Body.Close()

	report.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		report.Delivered = true
		metrics.CallbackDeliveries.WithLabelValues("success").Inc()
		return report
	}

	report.Error = errors.NewCallbackFailedError(url, fmt.Errorf("status %d", resp.StatusCode)).Error()
	metrics.CallbackDeliveries.WithLabelValues("rejected").Inc()
	n.logger.Warn("callback rejected", map[string]interface{}{
		"attemptId":  report.AttemptID,
		"url":        url,
		"statusCode": resp.StatusCode,
	})
	return report
}

func buildPayload(result *models.FinalResult) interface{} {
	if result.Flow == models.FlowProvisioning {
		payload := provisioningPayload{
			ProvisioningID: result.ID,
			PurchaseID:     result.PurchaseID,
			Status:         result.Status,
			Resources:      collectResources(result.Steps),
			Timestamp:      result.Timestamp,
		}
		// Failed runs carry the failure cause so the webhook consumer can
		// surface it without a second lookup.
		if result.Status == models.StatusFailed {
			payload.Error = result.Error
		}
		return payload
	}

	return chatPayload{
		MessageID:      result.ID,
		Status:         result.Status,
		Response:       result.ResponseText,
		Model:          result.SelectedModel,
		Confidence:     result.Confidence,
		AllModelScores: result.AllModelScores,
		Sources:        result.ContextSources,
		Timestamp:      result.Timestamp,
	}
}

// collectResources flattens the per-step URLs into the resources block the
// webhook consumers expect.
func collectResources(steps map[string]models.StepResult) map[string]string {
	resources := make(map[string]string)
	for _, step := range steps {
		for key, url := range step.URLs {
			resources[key] = url
		}
	}
	return resources
}
