// test/e2e/e2e_test.go

// In-process end-to-end tests: ingest HTTP handler -> Redis stream ->
// consumer loop -> pipeline handler -> callback receiver. Redis is miniredis,
// Azure endpoints are httptest fakes; everything in between is the real
// wiring.
package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberflow/internal/callback"
	"memberflow/internal/common/logger"
	"memberflow/internal/common/msgraph"
	"memberflow/internal/common/openai"
	"memberflow/internal/common/queue"
	chatingest "memberflow/internal/ingest/chat"
	provisioningingest "memberflow/internal/ingest/provisioning"
	"memberflow/internal/models"
	"memberflow/internal/sink"
	chatpipeline "memberflow/internal/workers/chat-pipeline"
	provisioningpipeline "memberflow/internal/workers/provisioning-pipeline"
	"memberflow/pkg/registry"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

// callbackReceiver records delivered payloads and signals each arrival.
type callbackReceiver struct {
	server   *httptest.Server
	payloads chan map[string]interface{}
	headers  chan http.Header
}

func newCallbackReceiver(t *testing.T) *callbackReceiver {
	t.Helper()
	r := &callbackReceiver{
		payloads: make(chan map[string]interface{}, 4),
		headers:  make(chan http.Header, 4),
	}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		var payload map[string]interface{}
		_ = json.Unmarshal(body, &payload)
		r.payloads <- payload
		r.headers <- req.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *callbackReceiver) wait(t *testing.T) (map[string]interface{}, http.Header) {
	t.Helper()
	select {
	case payload := <-r.payloads:
		return payload, <-r.headers
	case <-time.After(10 * time.Second):
		t.Fatal("no callback received within 10s")
		return nil, nil
	}
}

type stubRetriever struct {
	rag models.RagContext
}

func (s *stubRetriever) Retrieve(ctx context.Context, message string) models.RagContext {
	return s.rag
}

func runConsumer(t *testing.T, rdb *redis.Client, stream string, handle queue.Handler) {
	t.Helper()
	consumer := queue.NewConsumer(rdb, stream, "pipeline-workers", "e2e-worker", 50*time.Millisecond, logger.NewNoOpLogger())
	require.NoError(t, consumer.EnsureGroup(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		consumer.Run(ctx, handle)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestChatFlow_EndToEnd(t *testing.T) {
	rdb := newRedis(t)

	// One deployment answers cleanly, the other is cut off mid-answer.
	answer := strings.TrimSpace(strings.Repeat("refund policy detail ", 20))
	openaiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		finishReason := "stop"
		if strings.Contains(r.URL.Path, "gpt-4-deployment") {
			finishReason = "length"
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": answer}, "finish_reason": finishReason},
			},
			"usage": map[string]int{"total_tokens": 80},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(openaiServer.Close)

	receiver := newCallbackReceiver(t)

	reg := &registry.ModelRegistry{
		Version: "1",
		Models: []registry.ModelSpec{
			{Name: "gpt-4", Deployment: "gpt-4-deployment"},
			{Name: "gpt-35-turbo", Deployment: "gpt-35-turbo-deployment"},
		},
	}

	handler := chatpipeline.NewHandler(
		&chatpipeline.Config{Timeout: 30 * time.Second, DefaultModelTimeout: 5 * time.Second},
		reg,
		openai.NewClientWithHTTP(openaiServer.URL, openaiServer.Client()),
		&stubRetriever{rag: models.RagContext{
			Text:           "Refunds are issued within 30 days.",
			Sources:        []string{"kb/refunds"},
			RelevanceScore: 1.0,
		}},
		queue.NewDeduper(rdb, time.Hour),
		sink.New(nil, nil, "", logger.NewNoOpLogger()),
		callback.New(5*time.Second, logger.NewNoOpLogger()),
		logger.NewNoOpLogger(),
	)

	runConsumer(t, rdb, "chat:inbound", handler.Handle)

	// Submit through the real ingest handler.
	ingest := chatingest.NewHandler(queue.NewPublisher(rdb), "chat:inbound", "", logger.NewNoOpLogger())
	req := httptest.NewRequest(http.MethodPost, chatingest.Route,
		strings.NewReader(`{"message":"What is the refund policy?","userId":"u1","conversationId":"c1","callbackUrl":"`+receiver.server.URL+`"}`))
	rec := httptest.NewRecorder()
	ingest.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	messageID := accepted["messageId"]
	require.NotEmpty(t, messageID)

	payload, _ := receiver.wait(t)

	assert.Equal(t, messageID, payload["messageId"])
	assert.Equal(t, "completed", payload["status"])
	assert.Equal(t, answer, payload["response"])
	// The truncated gpt-4 answer loses to the clean gpt-35-turbo one.
	assert.Equal(t, "gpt-35-turbo", payload["model"])
	assert.InDelta(t, 0.7, payload["confidence"].(float64), 1e-9)

	scores := payload["allModelScores"].([]interface{})
	require.Len(t, scores, 2)
	first := scores[0].(map[string]interface{})
	assert.Equal(t, "gpt-4", first["model"])
	assert.InDelta(t, 0.56, first["confidence"].(float64), 1e-9)
}

func TestProvisioningFlow_EndToEnd(t *testing.T) {
	rdb := newRedis(t)

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/invitations":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"inv-1","inviteRedeemUrl":"https://login.microsoftonline.com/redeem/inv-1"}`))
		case r.URL.Path == "/teams":
			w.Header().Set("Content-Location", "/teams('team-1')")
			w.WriteHeader(http.StatusAccepted)
		case strings.HasSuffix(r.URL.Path, "/channels"):
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"channel-1","displayName":"Private Workspace"}`))
		case strings.HasSuffix(r.URL.Path, "/sites/root"):
			_, _ = w.Write([]byte(`{"id":"site-1","webUrl":"https://contoso.sharepoint.com/sites/team-1"}`))
		case strings.HasSuffix(r.URL.Path, "/lists"):
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"list-1","webUrl":"https://contoso.sharepoint.com/sites/team-1/lists/member-resources"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(graphServer.Close)

	receiver := newCallbackReceiver(t)

	handler := provisioningpipeline.NewHandler(
		&provisioningpipeline.Config{Timeout: 30 * time.Second, InviteRedirectURL: "https://portal.example.com/welcome"},
		msgraph.NewClientWithHTTP(graphServer.URL, graphServer.Client()),
		queue.NewDeduper(rdb, time.Hour),
		sink.New(nil, nil, "", logger.NewNoOpLogger()),
		callback.New(5*time.Second, logger.NewNoOpLogger()),
		noopAlerter{},
		logger.NewNoOpLogger(),
	)

	runConsumer(t, rdb, "provisioning:inbound", handler.Handle)

	ingest := provisioningingest.NewHandler(queue.NewPublisher(rdb), "provisioning:inbound", logger.NewNoOpLogger())
	req := httptest.NewRequest(http.MethodPost, provisioningingest.Route,
		strings.NewReader(`{
			"email": "jane@example.com",
			"name": "Jane Doe",
			"purchaseId": "mp-1001",
			"organization": "Contoso",
			"callbackUrl": "`+receiver.server.URL+`"
		}`))
	rec := httptest.NewRecorder()
	ingest.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	provisioningID := accepted["provisioningId"]

	payload, headers := receiver.wait(t)

	assert.Equal(t, provisioningID, payload["provisioningId"])
	assert.Equal(t, provisioningID, headers.Get("X-Provisioning-ID"))
	assert.Equal(t, "mp-1001", payload["purchaseId"])
	assert.Equal(t, "completed", payload["status"])

	resources := payload["resources"].(map[string]interface{})
	assert.Equal(t, "https://login.microsoftonline.com/redeem/inv-1", resources["entraInvite"])
	assert.Equal(t, "https://teams.microsoft.com/l/team/team-1", resources["teamsUrl"])
	assert.Equal(t, "https://contoso.sharepoint.com/sites/team-1", resources["sharepointUrl"])
	assert.Equal(t, "https://contoso.sharepoint.com/sites/team-1/lists/member-resources", resources["sharepointListUrl"])
}

type noopAlerter struct{}

func (noopAlerter) UnrecoverableFailure(ctx context.Context, envelopeID, flow, cause string) {}
