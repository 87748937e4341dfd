package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mail-archive-search/internal/logger"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

type OllamaOptions struct {
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	Dimensions     int
	Timeout        time.Duration

	RequestsPerSecond float64
}

// OllamaClient speaks the Ollama-compatible HTTP API used by locally hosted models.
type OllamaClient struct {
	opts        OllamaOptions
	HTTPClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	log         *slog.Logger
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Message Message `json:"message"`
	Error   string  `json:"error,omitempty"`
}

func NewOllamaClient(opts OllamaOptions, log *slog.Logger) *OllamaClient {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:11434"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.ChatModel == "" {
		opts.ChatModel = "llama3.1"
	}
	if opts.EmbeddingModel == "" {
		opts.EmbeddingModel = "nomic-embed-text"
	}
	if opts.Dimensions <= 0 {
		opts.Dimensions = 768
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	log = logger.OrDefault(log)

	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &OllamaClient{
		opts: opts,
		HTTPClient: &http.Client{
			Timeout: opts.Timeout,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "OllamaAPI",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
		rateLimiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst),
		log:         log,
	}
}

func (c *OllamaClient) Dimensions() int { return c.opts.Dimensions }

// Embed posts {model, prompt} to /api/embeddings.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := otel.Tracer("ollama-client").Start(ctx, "ollama.embed")
	defer span.End()
	span.SetAttributes(attribute.String("ollama.model", c.opts.EmbeddingModel))

	var resp embeddingResponse
	if err := c.post(ctx, "/api/embeddings", embeddingRequest{Model: c.opts.EmbeddingModel, Prompt: text}, &resp); err != nil {
		span.SetAttributes(attribute.Bool("ollama.error", true))
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Embedding, nil
}

// Complete posts the conversation to /api/chat without streaming.
func (c *OllamaClient) Complete(ctx context.Context, messages []Message) (string, error) {
	ctx, span := otel.Tracer("ollama-client").Start(ctx, "ollama.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("ollama.model", c.opts.ChatModel),
		attribute.Int("ollama.messages", len(messages)),
	)

	var resp chatResponse
	if err := c.post(ctx, "/api/chat", chatRequest{Model: c.opts.ChatModel, Messages: messages}, &resp); err != nil {
		span.SetAttributes(attribute.Bool("ollama.error", true))
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("API error: %s", resp.Error)
	}
	return resp.Message.Content, nil
}

// Ping checks that the server answers /api/tags.
func (c *OllamaClient) Ping(ctx context.Context) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"/api/tags", nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *OllamaClient) post(ctx context.Context, path string, payload, out interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+path, bytes.NewBuffer(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return nil, nil
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
