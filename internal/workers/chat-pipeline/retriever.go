// internal/workers/chat-pipeline/retriever.go
package chatpipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"memberflow/internal/common/errors"
	"memberflow/internal/common/logger"
	"memberflow/internal/models"
)

// Retriever fetches supporting context for a chat message from the knowledge
// index. Retrieval is best-effort: any failure degrades to an empty context
// so the model fan-out still runs, just ungrounded.
type Retriever struct {
	es     *elasticsearch.Client
	index  string
	topK   int
	logger logger.Logger
}

func NewRetriever(es *elasticsearch.Client, index string, topK int, log logger.Logger) *Retriever {
	if topK <= 0 {
		topK = 3
	}
	return &Retriever{
		es:     es,
		index:  index,
		topK:   topK,
		logger: log,
	}
}

type searchHit struct {
	Score  float64 `json:"_score"`
	Source struct {
		Content string `json:"content"`
		Title   string `json:"title"`
		URL     string `json:"url"`
	} `json:"_source"`
}

type searchResponse struct {
	Hits struct {
		MaxScore float64     `json:"max_score"`
		Hits     []searchHit `json:"hits"`
	} `json:"hits"`
}

// Retrieve runs a match query for the message and folds the top hits into one
// context block. The relevance score is the best hit's score normalized into
// [0,1].
func (r *Retriever) Retrieve(ctx context.Context, message string) models.RagContext {
	rag, err := r.search(ctx, message)
	if err != nil {
		r.logger.Warn("context retrieval failed, continuing without context", map[string]interface{}{
			"error": err.Error(),
		})
		return models.RagContext{Sources: []string{}}
	}
	return rag
}

func (r *Retriever) search(ctx context.Context, message string) (models.RagContext, error) {
	query := map[string]interface{}{
		"size": r.topK,
		"query": map[string]interface{}{
			"match": map[string]interface{}{
				"content": message,
			},
		},
	}

	body, err := json.Marshal(query)
	if err != nil {
		return models.RagContext{}, errors.NewSearchFailedError(err)
	}

	res, err := r.es.Search(
		r.es.Search.WithContext(ctx),
		r.es.Search.WithIndex(r.index),
		r.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return models.RagContext{}, errors.NewSearchFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return models.RagContext{}, errors.NewSearchFailedError(fmt.Errorf("search returned %s", res.Status()))
	}

	var decoded searchResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return models.RagContext{}, errors.NewSearchFailedError(err)
	}

	if len(decoded.Hits.Hits) == 0 {
		return models.RagContext{Sources: []string{}}, nil
	}

	sections := make([]string, 0, len(decoded.Hits.Hits))
	sources := make([]string, 0, len(decoded.Hits.Hits))
	for _, hit := range decoded.Hits.Hits {
		sections = append(sections, hit.Source.Content)
		source := hit.Source.URL
		if source == "" {
			source = hit.Source.Title
		}
		if source != "" {
			sources = append(sources, source)
		}
	}

	return models.RagContext{
		Text:           strings.Join(sections, "\n\n"),
		Sources:        sources,
		RelevanceScore: normalizeScore(decoded.Hits.Hits[0].Score),
	}, nil
}

// normalizeScore maps an unbounded BM25 score into [0,1]. Scores of 10 and
// above count as fully relevant.
func normalizeScore(score float64) float64 {
	if score <= 0 {
		return 0
	}
	normalized := score / 10.0
	if normalized > 1.0 {
		return 1.0
	}
	return normalized
}
