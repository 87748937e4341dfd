// Package ai talks to the language model service: embeddings for retrieval and
// chat completions for classification, event extraction and answers.
package ai

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no language model service is configured or
// the service is refusing work.
var ErrUnavailable = errors.New("language model service unavailable")

// Chat roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// ChatCompleter answers an ordered list of messages with free text.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Ping(ctx context.Context) error
}

// Disabled satisfies both interfaces and always fails with ErrUnavailable.
type Disabled struct {
	Dims int
}

func (d Disabled) Embed(context.Context, string) ([]float32, error) { return nil, ErrUnavailable }
func (d Disabled) Dimensions() int { return d.Dims }
func (d Disabled) Complete(context.Context, []Message) (string, error) {
	return "", ErrUnavailable
}
func (d Disabled) Ping(context.Context) error { return ErrUnavailable }
