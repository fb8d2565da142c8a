package article

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"distill/internal/backoff"
	"distill/internal/source"
)

const (
	anthropicURL     = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
)

// Claude is a Backend over the Anthropic messages API.
type Claude struct {
	client    source.HTTPClient
	apiKey    string
	model     string
	maxTokens int
}

// NewClaude creates a Claude backend.
func NewClaude(client source.HTTPClient, apiKey, model string, maxTokens int) *Claude {
	return &Claude{client: client, apiKey: apiKey, model: model, maxTokens: maxTokens}
}

func (c *Claude) Model() string { return c.model }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends a single-turn messages request. Rate limits, server
// errors and network timeouts come back marked retryable.
func (c *Claude) Complete(ctx context.Context, system, user string) (string, error) {
	payload := anthropicRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: user}},
	}

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicURL, buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if backoff.RetryableNetErr(err) {
			return "", backoff.Transient(err)
		}
		return "", fmt.Errorf("http post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := decodeAnthropicError(resp)
		if backoff.RetryableStatus(resp.StatusCode) {
			return "", backoff.Transient(err)
		}
		return "", err
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("response has no text content")
}

func decodeAnthropicError(resp *http.Response) error {
	var payload struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err == nil && payload.Error.Message != "" {
		return fmt.Errorf("api error (status %d): %s: %s", resp.StatusCode, payload.Error.Type, payload.Error.Message)
	}
	return fmt.Errorf("api error (status %d)", resp.StatusCode)
}
