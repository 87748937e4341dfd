package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOllama(t *testing.T, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOllamaClient(OllamaOptions{
		BaseURL:           srv.URL + "/",
		Dimensions:        3,
		Timeout:           5 * time.Second,
		RequestsPerSecond: 100,
	}, nil)
}

func TestOllamaEmbed(t *testing.T) {
	var got embeddingRequest
	c := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"embedding": [0.1, 0.2, 0.3]}`))
	})

	vec, err := c.Embed(context.Background(), "quarterly report")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "nomic-embed-text", got.Model)
	assert.Equal(t, "quarterly report", got.Prompt)
	assert.Equal(t, 3, c.Dimensions())
}

func TestOllamaEmbedRejectsBadResponses(t *testing.T) {
	c := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embedding": []}`))
	})
	_, err := c.Embed(context.Background(), "x")
	assert.Error(t, err)

	failing := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	})
	_, err = failing.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")

	malformed := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})
	_, err = malformed.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestOllamaComplete(t *testing.T) {
	var got chatRequest
	c := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"message": {"role": "assistant", "content": "It is on Friday."}}`))
	})

	answer, err := c.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "Answer from context."},
		{Role: RoleUser, Content: "When is the review?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "It is on Friday.", answer)
	assert.False(t, got.Stream)
	assert.Equal(t, "llama3.1", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, RoleSystem, got.Messages[0].Role)
}

func TestOllamaCompleteAPIError(t *testing.T) {
	c := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "context window exceeded"}`))
	})
	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context window exceeded")
}

func TestOllamaPing(t *testing.T) {
	up := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models": []}`))
	})
	assert.NoError(t, up.Ping(context.Background()))

	down := NewOllamaClient(OllamaOptions{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, nil)
	err := down.Ping(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestOllamaBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	c := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})
	for i := 0; i < 5; i++ {
		_, err := c.Embed(context.Background(), "x")
		require.Error(t, err)
	}
	_, err := c.Embed(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, int32(5), calls.Load())
}
