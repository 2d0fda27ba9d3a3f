// internal/common/openai/client.go
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"memberflow/internal/common/config"
)

// Client issues chat-completion requests against an Azure OpenAI resource.
// One request per configured deployment; callers own fan-out and failure
// isolation.
type Client struct {
	endpoint   string
	apiKey     string
	apiVersion string
	httpClient *http.Client
}

func NewClient(cfg config.OpenAIConfig) *Client {
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{
			Timeout: config.GetDuration(cfg.Timeout),
		},
	}
}

// NewClientWithHTTP is used by tests to point at a fake completion server.
func NewClientWithHTTP(endpoint string, httpClient *http.Client) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiVersion: "2024-02-01",
		httpClient: httpClient,
	}
}

// Message is one turn of a chat-completion prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the part of a chat-completion response the pipeline consumes.
type Completion struct {
	Text         string
	FinishReason string
	TotalTokens  int
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends one chat-completion request to the named deployment.
func (c *Client) Complete(ctx context.Context, deployment string, messages []Message) (*Completion, error) {
	requestBody := map[string]interface{}{
		"messages": messages,
	}

	body, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint, deployment, c.apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("completion failed (status %d): %s", resp.StatusCode, string(respBody))
	}

	var decoded completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode completion response: %w", err)
	}

	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("completion response contains no choices")
	}

	return &Completion{
		Text:         decoded.Choices[0].Message.Content,
		FinishReason: decoded.Choices[0].FinishReason,
		TotalTokens:  decoded.Usage.TotalTokens,
	}, nil
}

// SetTimeout overrides the per-call timeout, used when per-model deadlines
// differ from the client default.
func (c *Client) SetTimeout(d time.Duration) {
	c.httpClient.Timeout = d
}
