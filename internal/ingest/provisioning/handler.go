// internal/ingest/provisioning/handler.go
package provisioning

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"memberflow/internal/common/errors"
	"memberflow/internal/common/logger"
	"memberflow/internal/common/metrics"
	"memberflow/internal/common/validation"
	"memberflow/internal/models"
)

// Route served by this handler.
const Route = "/api/provisioning/ingest"

const defaultOrganization = "Default Org"

// Publisher is the queue dependency; satisfied by queue.Publisher.
type Publisher interface {
	Publish(ctx context.Context, stream string, envelope interface{}) error
}

type Handler struct {
	publisher Publisher
	stream    string
	logger    logger.Logger
}

func NewHandler(publisher Publisher, stream string, log logger.Logger) *Handler {
	return &Handler{
		publisher: publisher,
		stream:    stream,
		logger:    log.With(map[string]interface{}{"route": Route}),
	}
}

// ServeHTTP accepts the MemberPress purchase webhook, validates it and
// enqueues a provisioning envelope.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req models.ProvisioningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.NewInvalidJSONError(err), "provisioning")
		return
	}

	req.Email = validation.NormalizeEmail(req.Email)

	var result validation.Result
	result.Required("email", req.Email)
	if req.Email != "" {
		result.Email("email", req.Email)
	}
	result.Required("name", req.Name)
	result.Required("purchaseId", req.PurchaseID)
	if !result.Valid() {
		respondError(w, errors.NewValidationError(result.Summary()), "provisioning")
		return
	}

	if req.Organization == "" {
		req.Organization = defaultOrganization
	}

	now := time.Now().UTC()
	envelope := models.ProvisioningEnvelope{
		ProvisioningID: generateProvisioningID(req.Email, req.PurchaseID, now),
		PurchaseID:     req.PurchaseID,
		Timestamp:      now.Format(models.TimestampLayout),
		User: models.UserInfo{
			Email:       req.Email,
			DisplayName: req.Name,
			FirstName:   req.FirstName,
			LastName:    req.LastName,
		},
		Organization: req.Organization,
		ProductSKU:   req.ProductSKU,
		Provisioning: map[string]bool{
			"entraInvite":    true,
			"teamsChannel":   true,
			"sharepointSite": true,
			"sharepointList": true,
		},
		Status:     "pending",
		WebhookURL: req.CallbackURL,
	}

	if err := h.publisher.Publish(r.Context(), h.stream, envelope); err != nil {
		h.logger.Error("enqueue failed", map[string]interface{}{
			"provisioningId": envelope.ProvisioningID,
			"error":          err.Error(),
		})
		respondError(w, errors.NewDispatchError(h.stream, err), "provisioning")
		return
	}

	h.logger.Info("provisioning request queued", map[string]interface{}{
		"provisioningId": envelope.ProvisioningID,
		"email":          req.Email,
	})
	metrics.IngestRequests.WithLabelValues("provisioning", "accepted").Inc()
	metrics.EnvelopesPublished.WithLabelValues("provisioning").Inc()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":         "accepted",
		"provisioningId": envelope.ProvisioningID,
		"message":        "Provisioning request accepted and queued",
	})
}

// generateProvisioningID derives a fixed-width token from the purchase
// identity and the accept time: PROV- plus the first 12 uppercase hex chars
// of a SHA-256 digest.
func generateProvisioningID(email, purchaseID string, now time.Time) string {
	digest := sha256.Sum256([]byte(fmt.Sprintf("%s_%s_%s", email, purchaseID, now.Format(time.RFC3339Nano))))
	return "PROV-" + strings.ToUpper(fmt.Sprintf("%x", digest)[:12])
}

// respondError maps a StandardError onto the wire the same way the chat
// ingest handler does: taxonomy status code, metric outcome label, and the
// validation field summary as the body when there is one.
func respondError(w http.ResponseWriter, stdErr *errors.StandardError, flow string) {
	outcome := "dispatch_error"
	if errors.IsValidation(stdErr) {
		outcome = "invalid"
	}
	metrics.IngestRequests.WithLabelValues(flow, outcome).Inc()

	message := stdErr.Message
	if stdErr.Code == errors.ErrCodeValidationFailed && stdErr.Details != "" {
		message = stdErr.Details
	}
	writeJSON(w, errors.HTTPStatus(stdErr), map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
