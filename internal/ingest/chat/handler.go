// internal/ingest/chat/handler.go
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"memberflow/internal/common/errors"
	"memberflow/internal/common/logger"
	"memberflow/internal/common/metrics"
	"memberflow/internal/common/validation"
	"memberflow/internal/models"
)

// Route served by this handler.
const Route = "/api/chat/ingest"

// fallbackID substitutes missing optional identifiers.
const fallbackID = "unknown"

// Publisher is the queue dependency; satisfied by queue.Publisher.
type Publisher interface {
	Publish(ctx context.Context, stream string, envelope interface{}) error
}

type Handler struct {
	publisher          Publisher
	stream             string
	defaultCallbackURL string
	logger             logger.Logger
}

func NewHandler(publisher Publisher, stream, defaultCallbackURL string, log logger.Logger) *Handler {
	return &Handler{
		publisher:          publisher,
		stream:             stream,
		defaultCallbackURL: defaultCallbackURL,
		logger:             log.With(map[string]interface{}{"route": Route}),
	}
}

// ServeHTTP validates the chat payload, wraps it into an envelope and
// enqueues it. The caller gets a synchronous 202 acknowledgment and never
// blocks on downstream processing.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.NewInvalidJSONError(err), "chat")
		return
	}

	var result validation.Result
	result.Required("message", req.Message)
	if !result.Valid() {
		respondError(w, errors.NewValidationError(result.Summary()), "chat")
		return
	}

	if req.UserID == "" {
		req.UserID = fallbackID
	}
	if req.ConversationID == "" {
		req.ConversationID = fallbackID
	}

	callbackURL := req.CallbackURL
	if callbackURL == "" {
		callbackURL = h.defaultCallbackURL
	}

	now := time.Now().UTC()
	envelope := models.ChatEnvelope{
		MessageID:      fmt.Sprintf("%s_%d", req.ConversationID, now.UnixMilli()),
		Message:        req.Message,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Timestamp:      now.Format(models.TimestampLayout),
		CallbackURL:    callbackURL,
		Metadata:       map[string]string{"source": "chat-ingest"},
	}

	if err := h.publisher.Publish(r.Context(), h.stream, envelope); err != nil {
		h.logger.Error("enqueue failed", map[string]interface{}{
			"messageId": envelope.MessageID,
			"error":     err.Error(),
		})
		respondError(w, errors.NewDispatchError(h.stream, err), "chat")
		return
	}

	h.logger.Info("chat message queued", map[string]interface{}{
		"messageId":      envelope.MessageID,
		"conversationId": envelope.ConversationID,
	})
	metrics.IngestRequests.WithLabelValues("chat", "accepted").Inc()
	metrics.EnvelopesPublished.WithLabelValues("chat").Inc()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "accepted",
		"messageId": envelope.MessageID,
	})
}

// respondError maps a StandardError onto the wire: taxonomy-derived status
// code, metric outcome label, and the most specific message available.
// Validation details name the offending field, so they are the body; other
// details stay internal.
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
