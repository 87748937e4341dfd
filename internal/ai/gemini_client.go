package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mail-archive-search/internal/logger"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"
)

type GeminiOptions struct {
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Dimensions     int
	Timeout        time.Duration

	// RequestsPerSecond is shared by chat and embedding calls
	RequestsPerSecond float64
}

type GeminiClient struct {
	opts        GeminiOptions
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	usage       *UsageCounter
	client      *genai.Client
	log         *slog.Logger
}

// UsageCounter tracks requests and tokens for the current minute and day.
type UsageCounter struct {
	mu              sync.Mutex
	minuteTokens    int
	dailyTokens     int
	minuteRequests  int
	dailyRequests   int
	lastMinuteReset time.Time
	lastDayReset    time.Time
}

func NewGeminiClient(ctx context.Context, opts GeminiOptions, log *slog.Logger) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY")
	}
	if opts.ChatModel == "" {
		opts.ChatModel = "gemini-2.0-flash"
	}
	if opts.EmbeddingModel == "" {
		opts.EmbeddingModel = "text-embedding-004"
	}
	if opts.Dimensions <= 0 {
		opts.Dimensions = 768
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	log = logger.OrDefault(log)

	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &GeminiClient{
		opts:        opts,
		breaker:     breaker,
		rateLimiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst),
		usage:       &UsageCounter{},
		client:      client,
		log:         log,
	}, nil
}

func (gc *GeminiClient) Dimensions() int { return gc.opts.Dimensions }

// Embed returns the embedding of text from the configured embedding model.
func (gc *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := otel.Tracer("gemini-client").Start(ctx, "gemini.embed")
	defer span.End()
	span.SetAttributes(
		attribute.String("gemini.model", gc.opts.EmbeddingModel),
		attribute.Int("gemini.input_chars", len(text)),
	)

	result, err := gc.call(ctx, func(ctx context.Context) (interface{}, error) {
		resp, err := gc.client.EmbeddingModel(gc.opts.EmbeddingModel).EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, err
		}
		if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
			return nil, fmt.Errorf("no embedding returned")
		}
		return resp.Embedding.Values, nil
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return nil, err
	}
	return result.([]float32), nil
}

// Complete sends the conversation to the chat model. System messages become
// the system instruction; the last user message is sent and the rest is history.
func (gc *GeminiClient) Complete(ctx context.Context, messages []Message) (string, error) {
	ctx, span := otel.Tracer("gemini-client").Start(ctx, "gemini.complete")
	defer span.End()

	estimated := estimateTokens(messages)
	span.SetAttributes(
		attribute.String("gemini.model", gc.opts.ChatModel),
		attribute.Int("gemini.estimated_tokens", estimated),
		attribute.Int("gemini.messages", len(messages)),
	)

	var (
		system  []string
		history []*genai.Content
		last    string
	)
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			if last != "" {
				history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(last)}})
			}
			last = m.Content
		}
	}
	if last == "" {
		return "", fmt.Errorf("no user message to send")
	}

	result, err := gc.call(ctx, func(ctx context.Context) (interface{}, error) {
		model := gc.client.GenerativeModel(gc.opts.ChatModel)
		model.SetTemperature(0.2)
		model.SetMaxOutputTokens(2048)
		if len(system) > 0 {
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
		}

		cs := model.StartChat()
		cs.History = history
		resp, err := cs.SendMessage(ctx, genai.Text(last))
		if err != nil {
			return nil, err
		}
		gc.usage.RecordUsage(extractTokenUsage(resp), 1)
		return responseText(resp), nil
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return "", err
	}

	span.SetAttributes(attribute.Bool("gemini.success", true))
	return result.(string), nil
}

// Ping checks that the chat model answers a token count request.
func (gc *GeminiClient) Ping(ctx context.Context) error {
	_, err := gc.call(ctx, func(ctx context.Context) (interface{}, error) {
		return gc.client.GenerativeModel(gc.opts.ChatModel).CountTokens(ctx, genai.Text("ping"))
	})
	return err
}

// call runs fn behind the rate limiter, the circuit breaker and the per-call timeout.
func (gc *GeminiClient) call(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := gc.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, gc.opts.Timeout)
	defer cancel()

	result, err := gc.breaker.Execute(func() (interface{}, error) { return fn(ctx) })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result, err
}

// Usage returns requests and tokens recorded in the current minute and day.
func (gc *GeminiClient) Usage() (minuteRequests, minuteTokens, dailyRequests, dailyTokens int) {
	return gc.usage.Snapshot()
}

func (tc *UsageCounter) roll(now time.Time) {
	if now.Sub(tc.lastMinuteReset) >= time.Minute {
		tc.minuteTokens = 0
		tc.minuteRequests = 0
		tc.lastMinuteReset = now
	}
	if now.Sub(tc.lastDayReset) >= 24*time.Hour {
		tc.dailyTokens = 0
		tc.dailyRequests = 0
		tc.lastDayReset = now
	}
}

func (tc *UsageCounter) RecordUsage(tokens, requests int) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.roll(time.Now())
	tc.minuteTokens += tokens
	tc.minuteRequests += requests
	tc.dailyTokens += tokens
	tc.dailyRequests += requests
}

func (tc *UsageCounter) Snapshot() (minuteRequests, minuteTokens, dailyRequests, dailyTokens int) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.roll(time.Now())
	return tc.minuteRequests, tc.minuteTokens, tc.dailyRequests, tc.dailyTokens
}

// Rough estimation: 1 token ≈ 4 characters
func estimateTokens(messages []Message) int {
	n := 0
	for _, m := range messages {
		n += len(m.Content)
	}
	return n / 4
}

func extractTokenUsage(resp *genai.GenerateContentResponse) int {
	if resp.UsageMetadata != nil {
		return int(resp.UsageMetadata.TotalTokenCount)
	}
	estimated := len(responseText(resp)) / 4
	if estimated < 1 {
		estimated = 1
	}
	return estimated
}

func responseText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		break
	}
	return sb.String()
}

// Close the client
func (gc *GeminiClient) Close() error {
	if gc.client != nil {
		return gc.client.Close()
	}
	return nil
}
