package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"mail-archive-search/internal/logger"
	"mail-archive-search/models"
)

const (
	DefaultChunkSize           = 500
	DefaultChunkOverlap        = 100
	DefaultSimilarityThreshold = 0.3
	DefaultTopK                = 5
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore persists and lists chunk embeddings.
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	ListChunks(ctx context.Context) ([]models.Chunk, error)
}

// VectorOptions tunes chunking and retrieval. Threshold is used as given, so
// zero admits every positive similarity; start from DefaultVectorOptions for
// the usual cut-off.
type VectorOptions struct {
	ChunkSize  int
	Overlap    int
	Threshold  float64
	Dimensions int
}

func DefaultVectorOptions() VectorOptions {
	return VectorOptions{
		ChunkSize: DefaultChunkSize,
		Overlap:   DefaultChunkOverlap,
		Threshold: DefaultSimilarityThreshold,
	}
}

// Vector chunks and embeds mails at index time and ranks stored chunks by
// cosine similarity at query time.
type Vector struct {
	store    ChunkStore
	embedder Embedder
	opts     VectorOptions
	log      *slog.Logger
}

func NewVector(store ChunkStore, embedder Embedder, opts VectorOptions, log *slog.Logger) *Vector {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Overlap < 0 {
		opts.Overlap = DefaultChunkOverlap
	}
	return &Vector{store: store, embedder: embedder, opts: opts, log: logger.OrDefault(log)}
}

// ComposeText is the text a mail is embedded from: labeled header lines and
// the normalized body.
func ComposeText(m *models.Mail) string {
	return fmt.Sprintf("Subject: %s\nFrom: %s\nDate: %s\n\n%s", m.Subject, m.Sender, m.Date, m.Body)
}

// SplitIntoChunks cuts text into windows of size runes that overlap by
// overlap runes. The last window may be shorter. An overlap that would stall
// the window is clamped to size-1.
func SplitIntoChunks(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	var chunks []string
	for start := 0; ; start += size - overlap {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Index embeds every chunk of m and stores the ones that came back with the
// expected dimension. It returns how many chunks were stored.
func (v *Vector) Index(ctx context.Context, m *models.Mail) (int, error) {
	pieces := SplitIntoChunks(ComposeText(m), v.opts.ChunkSize, v.opts.Overlap)

	chunks := make([]models.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		vec, err := v.embedder.Embed(ctx, piece)
		if err != nil {
			v.log.Warn("Dropping chunk without embedding", "mail_id", m.ID, "chunk", i, "error", err)
			continue
		}
		if len(vec) == 0 || (v.opts.Dimensions > 0 && len(vec) != v.opts.Dimensions) {
			v.log.Warn("Dropping chunk with unexpected embedding size", "mail_id", m.ID, "chunk", i, "dims", len(vec))
			continue
		}
		chunks = append(chunks, models.Chunk{
			MailID:    m.ID,
			Subject:   m.Subject,
			Content:   piece,
			Index:     i,
			Embedding: vec,
		})
	}

	if len(chunks) == 0 {
		return 0, nil
	}
	if err := v.store.InsertChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}
	return len(chunks), nil
}

// Search ranks every stored chunk against query and keeps those whose
// similarity is strictly above the threshold, best first, at most topK.
func (v *Vector) Search(ctx context.Context, query []float32, topK int) ([]models.ChunkHit, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	chunks, err := v.store.ListChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	hits := make([]models.ChunkHit, 0)
	for _, c := range chunks {
		sim := CosineSimilarity(query, c.Embedding)
		if sim > v.opts.Threshold {
			hits = append(hits, models.ChunkHit{Chunk: c, Similarity: sim})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// SearchText embeds query and runs Search.
func (v *Vector) SearchText(ctx context.Context, query string, topK int) ([]models.ChunkHit, error) {
	vec, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return v.Search(ctx, vec, topK)
}

// CosineSimilarity returns 0 for vectors of different length or zero norm.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
