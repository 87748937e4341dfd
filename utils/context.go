package utils

import (
	"context"
	"time"
)

const (
	// DefaultTimeout covers single-record reads and deletes
	DefaultTimeout = 10 * time.Second

	// SearchTimeout covers lexical and semantic search, including the query embedding
	SearchTimeout = 30 * time.Second

	// ChatTimeout covers retrieval plus one model completion
	ChatTimeout = 90 * time.Second

	// ImportTimeout covers parsing and persisting a whole archive
	ImportTimeout = 30 * time.Minute
)

// WithTimeout creates a context with default timeout
func WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultTimeout)
}

// WithCustomTimeout creates a context with custom timeout duration
func WithCustomTimeout(parent context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, duration)
}
