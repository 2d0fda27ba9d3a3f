// internal/workers/chat-pipeline/retriever_test.go
package chatpipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberflow/internal/common/logger"
)

func newSearchServer(t *testing.T, status int, body string) *elasticsearch.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{server.URL}})
	require.NoError(t, err)
	return es
}

func TestRetrieve_FoldsHitsIntoContext(t *testing.T) {
	es := newSearchServer(t, http.StatusOK, `{
		"hits": {
			"max_score": 8.5,
			"hits": [
				{"_score": 8.5, "_source": {"content": "Refunds within 30 days.", "url": "kb/refunds"}},
				{"_score": 4.2, "_source": {"content": "Contact support first.", "title": "Support"}}
			]
		}
	}`)
	r := NewRetriever(es, "knowledge", 3, logger.NewNoOpLogger())

	rag := r.Retrieve(context.Background(), "refund policy")

	assert.Equal(t, "Refunds within 30 days.\n\nContact support first.", rag.Text)
	assert.Equal(t, []string{"kb/refunds", "Support"}, rag.Sources)
	assert.InDelta(t, 0.85, rag.RelevanceScore, 1e-9)
}

func TestRetrieve_RelevanceClampedToOne(t *testing.T) {
	es := newSearchServer(t, http.StatusOK, `{
		"hits": {
			"max_score": 42.0,
			"hits": [{"_score": 42.0, "_source": {"content": "hit", "url": "kb/hit"}}]
		}
	}`)
	r := NewRetriever(es, "knowledge", 3, logger.NewNoOpLogger())

	rag := r.Retrieve(context.Background(), "anything")
	assert.InDelta(t, 1.0, rag.RelevanceScore, 1e-9)
}

func TestRetrieve_NoHits(t *testing.T) {
	es := newSearchServer(t, http.StatusOK, `{"hits": {"hits": []}}`)
	r := NewRetriever(es, "knowledge", 3, logger.NewNoOpLogger())

	rag := r.Retrieve(context.Background(), "nothing matches")

	assert.Empty(t, rag.Text)
	assert.Empty(t, rag.Sources)
	assert.Zero(t, rag.RelevanceScore)
}

func TestRetrieve_SearchFailureDegradesToEmptyContext(t *testing.T) {
	es := newSearchServer(t, http.StatusInternalServerError, `{"error": "boom"}`)
	r := NewRetriever(es, "knowledge", 3, logger.NewTestLogger(t))

	rag := r.Retrieve(context.Background(), "refund policy")

	assert.Empty(t, rag.Text)
	assert.Empty(t, rag.Sources)
	assert.Zero(t, rag.RelevanceScore)
}
