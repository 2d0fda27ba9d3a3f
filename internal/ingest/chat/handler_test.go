// internal/ingest/chat/handler_test.go
package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberflow/internal/common/logger"
	"memberflow/internal/models"
)

type fakePublisher struct {
	published []interface{}
	streams   []string
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, stream string, envelope interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, envelope)
	f.streams = append(f.streams, stream)
	return nil
}

func postJSON(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, Route, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Accepted(t *testing.T) {
	pub := &fakePublisher{}
	h := NewHandler(pub, "chat:inbound", "https://example.com/callback", logger.NewTestLogger(t))

	rec := postJSON(t, h, `{"message":"What is our refund policy?","userId":"u1","conversationId":"c1"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.Regexp(t, regexp.MustCompile(`^c1_\d{13}$`), resp["messageId"])

	// Exactly one envelope on the chat stream.
	require.Len(t, pub.published, 1)
	assert.Equal(t, []string{"chat:inbound"}, pub.streams)

	envelope := pub.published[0].(models.ChatEnvelope)
	assert.Equal(t, resp["messageId"], envelope.MessageID)
	assert.Equal(t, "What is our refund policy?", envelope.Message)
	assert.Equal(t, "u1", envelope.UserID)
	assert.Equal(t, "c1", envelope.ConversationID)
	assert.NotEmpty(t, envelope.Timestamp)
}

func TestHandler_MissingMessageRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"absent field", `{"userId":"u1","conversationId":"c1"}`},
		{"empty message", `{"message":"","userId":"u1","conversationId":"c1"}`},
		{"whitespace message", `{"message":"   ","userId":"u1","conversationId":"c1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			h := NewHandler(pub, "chat:inbound", "", logger.NewNoOpLogger())

			rec := postJSON(t, h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Contains(t, resp["error"], "message")

			// No queue message may be produced for rejected input.
			assert.Empty(t, pub.published)
		})
	}
}

func TestHandler_InvalidJSON(t *testing.T) {
	pub := &fakePublisher{}
	h := NewHandler(pub, "chat:inbound", "", logger.NewNoOpLogger())

	rec := postJSON(t, h, `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid JSON format")
	assert.Empty(t, pub.published)
}

func TestHandler_OptionalFieldsDefaulted(t *testing.T) {
	pub := &fakePublisher{}
	h := NewHandler(pub, "chat:inbound", "https://example.com/callback", logger.NewNoOpLogger())

	rec := postJSON(t, h, `{"message":"hello"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, pub.published, 1)

	envelope := pub.published[0].(models.ChatEnvelope)
	assert.Equal(t, "unknown", envelope.UserID)
	assert.Equal(t, "unknown", envelope.ConversationID)
	assert.Equal(t, "https://example.com/callback", envelope.CallbackURL)
}

func TestHandler_DispatchFailure(t *testing.T) {
	pub := &fakePublisher{err: assert.AnError}
	h := NewHandler(pub, "chat:inbound", "", logger.NewNoOpLogger())

	rec := postJSON(t, h, `{"message":"hello","conversationId":"c1"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to enqueue message")
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := NewHandler(&fakePublisher{}, "chat:inbound", "", logger.NewNoOpLogger())

	req := httptest.NewRequest(http.MethodGet, Route, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
