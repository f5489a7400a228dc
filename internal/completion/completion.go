package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rickgao/marketstream/internal/model"
)

// ErrInvalidResponse is returned when the service answers with something
// that is not JSON.
var ErrInvalidResponse = errors.New("completion response is not valid JSON")

// Request is a completion request.
type Request struct {
	Model     string          `json:"model,omitempty"`
	Prompt    string          `json:"prompt"`
	Context   json.RawMessage `json:"context,omitempty"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

// Complete sends req and returns the raw JSON response.
func (c *Client) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	body, err := c.doWithRetry(ctx, http.MethodPost, "/v1/completions", payload)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, ErrInvalidResponse
	}
	return json.RawMessage(body), nil
}

// Insight asks the service for a short analysis of symbol, passing the
// latest update as context.
func (c *Client) Insight(ctx context.Context, symbol string, latest model.Update) (json.RawMessage, error) {
	snapshot, err := json.Marshal(latest)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	return c.Complete(ctx, Request{
		Prompt:    fmt.Sprintf("Summarize the current market state for %s.", symbol),
		Context:   snapshot,
		MaxTokens: 512,
	})
}
