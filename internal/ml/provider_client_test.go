package ml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/giftwise/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *ProviderClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	client, err := NewProviderClient(config.ProvidersConfig{
		BaseURL:        server.URL,
		APIKey:         "test-key",
		EmbeddingModel: "embed-model",
		ChatModel:      "chat-model",
		Timeout:        2 * time.Second,
		Breaker: config.BreakerConfig{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          time.Minute,
			FailureThreshold: 2,
		},
	}, logger)
	require.NoError(t, err)
	return client
}

func TestProviderClient_Embed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embed-model", req.Model)
		assert.Equal(t, "gifts for a gardener", req.Input)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2,0.3]}]}`))
	})

	vec, err := client.Embed(testContext(t), "gifts for a gardener")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestProviderClient_EmbedEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})

	_, err := client.Embed(testContext(t), "anything")
	assert.ErrorIs(t, err, ErrEmptyEmbedding)
}

func TestProviderClient_Complete(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "chat-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.Equal(t, "json_object", req.ResponseFormat["type"])
		assert.Equal(t, 400, req.MaxTokens)

		w.Write([]byte(`{"choices":[{"message":{"content":"{\"order\":[\"a\"]}"}}]}`))
	})

	out, err := client.Complete(testContext(t), "sys", "user", 0.2, 400)
	require.NoError(t, err)
	assert.Equal(t, `{"order":["a"]}`, out)
}

func TestProviderClient_BreakerOpensAfterFailures(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 2; i++ {
		_, err := client.Embed(testContext(t), "x")
		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	}

	_, err := client.Embed(testContext(t), "x")
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open breaker must not reach the upstream")
	assert.Equal(t, "open", client.BreakerStates()["embeddings"])
}

func TestProviderClient_BreakersArePerEndpoint(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/chat/completions" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5]}]}`))
	})

	for i := 0; i < 3; i++ {
		_, err := client.Complete(testContext(t), "sys", "user", 0, 10)
		require.Error(t, err)
	}
	assert.Equal(t, "open", client.BreakerStates()["chat"])

	vec, err := client.Embed(testContext(t), "still works")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, vec)
	assert.Equal(t, "closed", client.BreakerStates()["embeddings"])
}

func TestProviderClient_CanceledCallsDoNotTripBreaker(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"choices":[{"message":{"content":"{}"}}]}`))
	})

	ctx, cancel := context.WithCancel(testContext(t))
	cancel()
	for i := 0; i < 3; i++ {
		_, err := client.Complete(ctx, "sys", "user", 0, 10)
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", client.BreakerStates()["chat"])

	_, err := client.Complete(testContext(t), "sys", "user", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNewProviderClient_RequiresBaseURL(t *testing.T) {
	_, err := NewProviderClient(config.ProvidersConfig{}, logrus.New())
	assert.Error(t, err)
}

// testContext mirrors testing.T.Context (Go 1.24+): a context canceled when
// the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
