package ai

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"mail-archive-search/internal/config"
	"mail-archive-search/internal/logger"

	"github.com/redis/go-redis/v9"
)

// Clients bundles the configured embedder and chat model.
type Clients struct {
	Embedder Embedder
	Chat     ChatCompleter
	close    func() error
}

func (c *Clients) Close() error {
	if c.close != nil {
		return c.close()
	}
	return nil
}

// NewClients builds the language model clients for cfg.LLMProvider. When rdb
// is set embeddings are cached in Redis.
func NewClients(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *slog.Logger) (*Clients, error) {
	var clients *Clients

	switch cfg.LLMProvider {
	case "gemini", "":
		gc, err := NewGeminiClient(ctx, GeminiOptions{
			APIKey:            cfg.GeminiAPIKey,
			ChatModel:         cfg.GeminiChatModel,
			EmbeddingModel:    cfg.EmbeddingsModel,
			Dimensions:        cfg.VectorDimensions,
			Timeout:           cfg.LLMTimeout,
			RequestsPerSecond: cfg.LLMRateLimit,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		clients = &Clients{Embedder: gc, Chat: gc, close: gc.Close}

	case "ollama":
		oc := NewOllamaClient(OllamaOptions{
			BaseURL:           cfg.OllamaURL,
			ChatModel:         cfg.OllamaChatModel,
			EmbeddingModel:    cfg.EmbeddingsModel,
			Dimensions:        cfg.VectorDimensions,
			Timeout:           cfg.LLMTimeout,
			RequestsPerSecond: cfg.LLMRateLimit,
		}, log)
		clients = &Clients{Embedder: oc, Chat: oc}

	case "none":
		d := Disabled{Dims: cfg.VectorDimensions}
		return &Clients{Embedder: d, Chat: d}, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.LLMProvider)
	}

	if rdb != nil {
		clients.Embedder = NewCachedEmbedder(clients.Embedder, rdb, cfg.EmbeddingCacheTTL, log)
	}
	return clients, nil
}

// CachedEmbedder memoizes embeddings in Redis keyed by a hash of the text.
// Cache failures fall through to the wrapped embedder.
type CachedEmbedder struct {
	next Embedder
	rdb  *redis.Client
	ttl  time.Duration
	log  *slog.Logger
}

func NewCachedEmbedder(next Embedder, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *CachedEmbedder {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedEmbedder{next: next, rdb: rdb, ttl: ttl, log: logger.OrDefault(log)}
}

func (c *CachedEmbedder) Dimensions() int { return c.next.Dimensions() }

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := embeddingKey(text)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if vec := decodeVector(data); len(vec) > 0 {
			return vec, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.Warn("Embedding cache read failed", "error", err)
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.rdb.Set(ctx, key, encodeVector(vec), c.ttl).Err(); err != nil {
		c.log.Warn("Embedding cache write failed", "error", err)
	}
	return vec, nil
}

func embeddingKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + hex.EncodeToString(sum[:])
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return v
}
