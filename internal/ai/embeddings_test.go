package ai

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"mail-archive-search/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls++
	return []float32{float32(len(text)), 0.5, -1}, nil
}

func (c *countingEmbedder) Dimensions() int { return 3 }

func TestNewClientsNone(t *testing.T) {
	clients, err := NewClients(context.Background(), &config.Config{LLMProvider: "none", VectorDimensions: 768}, nil, nil)
	require.NoError(t, err)
	defer clients.Close()

	assert.Equal(t, 768, clients.Embedder.Dimensions())
	_, err = clients.Embedder.Embed(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, errors.Is(clients.Chat.Ping(context.Background()), ErrUnavailable))
}

func TestNewClientsOllama(t *testing.T) {
	clients, err := NewClients(context.Background(), &config.Config{LLMProvider: "ollama", VectorDimensions: 384}, nil, nil)
	require.NoError(t, err)
	_, ok := clients.Chat.(*OllamaClient)
	assert.True(t, ok)
	assert.Equal(t, 384, clients.Embedder.Dimensions())
}

func TestNewClientsUnknownProvider(t *testing.T) {
	_, err := NewClients(context.Background(), &config.Config{LLMProvider: "mystery"}, nil, nil)
	assert.Error(t, err)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{1.5, -0.25, 0, 3e-7}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Len(t, encodeVector(v), 16)
}

func TestEmbeddingKeyIsStable(t *testing.T) {
	assert.Equal(t, embeddingKey("hello"), embeddingKey("hello"))
	assert.NotEqual(t, embeddingKey("hello"), embeddingKey("hello "))
	assert.Regexp(t, `^emb:[0-9a-f]{64}$`, embeddingKey("hello"))
}

func TestCachedEmbedderWithRedis(t *testing.T) {
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		t.Skip("REDIS_URL not set")
	}
	cfg := &config.Config{RedisURL: addr}
	opt, err := cfg.RedisOptions()
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	ctx := context.Background()
	text := "cache me " + time.Now().String()
	defer rdb.Del(ctx, embeddingKey(text))

	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, rdb, time.Minute, nil)

	first, err := cached.Embed(ctx, text)
	require.NoError(t, err)
	second, err := cached.Embed(ctx, text)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 3, cached.Dimensions())
}

func TestCachedEmbedderFallsThroughWhenRedisIsDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	inner := &countingEmbedder{}
	vec, err := NewCachedEmbedder(inner, rdb, time.Minute, nil).Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 0.5, -1}, vec)
	assert.Equal(t, 1, inner.calls)
}

func TestGeminiEmbed(t *testing.T) {
	if os.Getenv("GEMINI_API_KEY") == "" {
		t.Skip("GEMINI_API_KEY not set")
	}
	gc, err := NewGeminiClient(context.Background(), GeminiOptions{APIKey: os.Getenv("GEMINI_API_KEY")}, nil)
	require.NoError(t, err)
	defer gc.Close()

	vec, err := gc.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.NotEmpty(t, vec)
}
