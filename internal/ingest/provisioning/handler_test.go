// internal/ingest/provisioning/handler_test.go
package provisioning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberflow/internal/common/logger"
	"memberflow/internal/models"
)

type fakePublisher struct {
	published []interface{}
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, stream string, envelope interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, envelope)
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
	h := NewHandler(pub, "provisioning:inbound", logger.NewTestLogger(t))

	rec := postJSON(t, h, `{
		"email": "Jane.Doe@Example.COM",
		"name": "Jane Doe",
		"firstName": "Jane",
		"lastName": "Doe",
		"purchaseId": "mp-1001",
		"productSku": "pro-annual"
	}`)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.Regexp(t, `^PROV-[0-9A-F]{12}$`, resp["provisioningId"])
	assert.Equal(t, "Provisioning request accepted and queued", resp["message"])

	require.Len(t, pub.published, 1)
	envelope := pub.published[0].(models.ProvisioningEnvelope)
	assert.Equal(t, resp["provisioningId"], envelope.ProvisioningID)
	assert.Equal(t, "mp-1001", envelope.PurchaseID)
	assert.Equal(t, "jane.doe@example.com", envelope.User.Email)
	assert.Equal(t, "Jane Doe", envelope.User.DisplayName)
	assert.Equal(t, "Default Org", envelope.Organization)
	assert.Equal(t, "pending", envelope.Status)
	for _, step := range []string{"entraInvite", "teamsChannel", "sharepointSite", "sharepointList"} {
		assert.True(t, envelope.Provisioning[step], step)
	}
}

func TestHandler_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing email",
			body: `{"name":"Jane","purchaseId":"mp-1"}`,
			want: "email",
		},
		{
			name: "malformed email",
			body: `{"email":"not-an-email","name":"Jane","purchaseId":"mp-1"}`,
			want: "email",
		},
		{
			name: "missing name",
			body: `{"email":"jane@example.com","purchaseId":"mp-1"}`,
			want: "name",
		},
		{
			name: "missing purchaseId",
			body: `{"email":"jane@example.com","name":"Jane"}`,
			want: "purchaseId",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			h := NewHandler(pub, "provisioning:inbound", logger.NewNoOpLogger())

			rec := postJSON(t, h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Contains(t, resp["error"], tt.want)
			assert.Empty(t, pub.published)
		})
	}
}

func TestHandler_InvalidJSON(t *testing.T) {
	pub := &fakePublisher{}
	h := NewHandler(pub, "provisioning:inbound", logger.NewNoOpLogger())

	rec := postJSON(t, h, `{broken`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid JSON format")
	assert.Empty(t, pub.published)
}

func TestHandler_DispatchFailure(t *testing.T) {
	pub := &fakePublisher{err: assert.AnError}
	h := NewHandler(pub, "provisioning:inbound", logger.NewNoOpLogger())

	rec := postJSON(t, h, `{"email":"jane@example.com","name":"Jane","purchaseId":"mp-1"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to enqueue message")
}

func TestGenerateProvisioningID_Deterministic(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := generateProvisioningID("jane@example.com", "mp-1", now)
	b := generateProvisioningID("jane@example.com", "mp-1", now)
	c := generateProvisioningID("jane@example.com", "mp-2", now)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^PROV-[0-9A-F]{12}$`, a)
}
