package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/temcen/giftwise/internal/config"
)

// ErrEmptyEmbedding is returned when the provider answers without a vector.
var ErrEmptyEmbedding = errors.New("provider returned an empty embedding")

// HTTPError carries a non-2xx provider response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider http %d: %s", e.StatusCode, e.Body)
}

// ProviderClient talks to an OpenAI-compatible embeddings and chat
// completions API. Each endpoint has its own circuit breaker so a failing
// upstream is skipped quickly instead of stalling recommendation requests,
// and a slow chat model cannot switch off embeddings.
type ProviderClient struct {
	baseURL        string
	apiKey         string
	embeddingModel string
	chatModel      string
	timeout        time.Duration

	httpClient   *http.Client
	embedBreaker *gobreaker.CircuitBreaker[[]byte]
	chatBreaker  *gobreaker.CircuitBreaker[[]byte]
	logger       *logrus.Logger
}

func NewProviderClient(cfg config.ProvidersConfig, logger *logrus.Logger) (*ProviderClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("providers: base_url required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	return &ProviderClient{
		baseURL:        baseURL,
		apiKey:         strings.TrimSpace(cfg.APIKey),
		embeddingModel: cfg.EmbeddingModel,
		chatModel:      cfg.ChatModel,
		timeout:        timeout,
		httpClient:     &http.Client{Transport: tr},
		embedBreaker:   NewCircuitBreaker("llm-embeddings", cfg.Breaker, logger),
		chatBreaker:    NewCircuitBreaker("llm-chat", cfg.Breaker, logger),
		logger:         logger,
	}, nil
}

// NewProviderClientWithHTTPClient is intended for tests.
func NewProviderClientWithHTTPClient(cfg config.ProvidersConfig, httpClient *http.Client, logger *logrus.Logger) (*ProviderClient, error) {
	c, err := NewProviderClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c, nil
}

type embeddingsRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns the embedding vector for a single text.
func (c *ProviderClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embeddingsResponse
	if err := c.postJSON(ctx, c.embedBreaker, "/v1/embeddings", embeddingsRequest{Model: c.embeddingModel, Input: text}, &resp); err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, f := range resp.Data[0].Embedding {
		vec[i] = float32(f)
	}
	return vec, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete runs a single chat completion in JSON mode and returns the raw
// message content.
func (c *ProviderClient) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	req := chatCompletionRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	var resp chatCompletionResponse
	if err := c.postJSON(ctx, c.chatBreaker, "/v1/chat/completions", req, &resp); err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// BreakerStates exposes each endpoint's breaker state for health reporting.
func (c *ProviderClient) BreakerStates() map[string]string {
	return map[string]string{
		"embeddings": c.embedBreaker.State().String(),
		"chat":       c.chatBreaker.State().String(),
	}
}

func (c *ProviderClient) postJSON(ctx context.Context, breaker *gobreaker.CircuitBreaker[[]byte], path string, body any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}

	raw, err := breaker.Execute(func() ([]byte, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", errCallerGone, err)
			}
			return nil, err
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if len(payload) > 1024 {
				payload = payload[:1024]
			}
			return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(payload)}
		}
		return payload, nil
	})
	if err != nil {
		return err
	}

	return json.Unmarshal(raw, out)
}
