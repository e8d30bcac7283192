// Package embedding implements memory.Embedder against an OpenAI-compatible
// embeddings endpoint. This gateway only ever needs to turn one piece of
// text into one vector for long-term-memory capture and recall, so unlike a
// multi-tenant embedding SDK this package carries exactly one provider and
// one call shape rather than a pluggable-backend abstraction.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/duskvane/aegis/llm"
)

// Config configures the OpenAI embeddings client.
type Config struct {
	APIKey     string        `json:"api_key" yaml:"api_key"`
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	Model      string        `json:"model,omitempty" yaml:"model,omitempty"`           // text-embedding-3-large
	Dimensions int           `json:"dimensions,omitempty" yaml:"dimensions,omitempty"` // 256, 1024, 3072
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultConfig returns the default OpenAI embedding configuration;
// NewProvider uses its values for any Config field left zero.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://api.openai.com",
		Model:      "text-embedding-3-large",
		Dimensions: 3072,
		Timeout:    30 * time.Second,
	}
}

// Provider embeds text through OpenAI's /v1/embeddings endpoint. It
// satisfies memory.Embedder directly (Embed returns []float32, matching the
// vector-index's native element type instead of the API's wire float64).
type Provider struct {
	cfg    Config
	client *http.Client
}

// NewProvider creates a Provider, filling in DefaultConfig's values for any
// field left zero.
func NewProvider(cfg Config) *Provider {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = def.Dimensions
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	return &Provider{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Dimensions reports the fixed vector width this provider produces.
func (p *Provider) Dimensions() int { return p.cfg.Dimensions }

type embedRequestBody struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embedResponseBody struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed turns text into a vector of Dimensions() length.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	body := embedRequestBody{Input: text, Model: p.cfg.Model, Dimensions: p.cfg.Dimensions}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: "openai-embedding"}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, string(data))
	}

	var wire embedResponseBody
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: "openai-embedding"}
	}
	if len(wire.Data) == 0 {
		return nil, fmt.Errorf("embedding response carried no vectors")
	}

	vec64 := wire.Data[0].Embedding
	vec32 := make([]float32, len(vec64))
	for i, v := range vec64 {
		vec32[i] = float32(v)
	}
	return vec32, nil
}

func mapHTTPError(status int, msg string) *llm.Error {
	code := llm.ErrUpstreamError
	retryable := status >= 500
	switch status {
	case http.StatusUnauthorized:
		code = llm.ErrUnauthorized
	case http.StatusForbidden:
		code = llm.ErrForbidden
	case http.StatusTooManyRequests:
		code = llm.ErrRateLimited
		retryable = true
	case http.StatusBadRequest:
		code = llm.ErrInvalidRequest
	}
	return &llm.Error{Code: code, Message: msg, HTTPStatus: status, Retryable: retryable, Provider: "openai-embedding"}
}
