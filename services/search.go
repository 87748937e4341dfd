package services

import (
	"context"
	"fmt"
	"log/slog"

	"mail-archive-search/internal/logger"
	"mail-archive-search/internal/search"
	"mail-archive-search/internal/store"
	"mail-archive-search/internal/telemetry"
	"mail-archive-search/models"
)

// SearchService fronts both search engines for the HTTP layer.
type SearchService struct {
	lexical   *search.Lexical
	retriever ChunkRetriever
	repo      store.Repository
	metrics   *telemetry.Metrics
	log       *slog.Logger
}

func NewSearchService(lexical *search.Lexical, retriever ChunkRetriever, repo store.Repository, metrics *telemetry.Metrics, log *slog.Logger) *SearchService {
	return &SearchService{
		lexical:   lexical,
		retriever: retriever,
		repo:      repo,
		metrics:   metrics,
		log:       logger.OrDefault(log),
	}
}

func (s *SearchService) Lexical(ctx context.Context, query string, topK int) (*models.SearchResponse, error) {
	hits, err := s.lexical.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSearch("lexical", len(hits))
	return &models.SearchResponse{Query: query, Method: "lexical", Results: hits}, nil
}

// Semantic ranks chunks and reports the best chunk of each mail, keeping the
// chunk order. Mails deleted since indexing are skipped.
func (s *SearchService) Semantic(ctx context.Context, query string, topK int) (*models.SearchResponse, error) {
	chunkHits, err := s.retriever.SearchText(ctx, query, topK)
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}

	hits := make([]models.SearchHit, 0, len(chunkHits))
	seen := make(map[string]bool)
	for _, ch := range chunkHits {
		if seen[ch.Chunk.MailID] {
			continue
		}
		seen[ch.Chunk.MailID] = true

		hit := models.SearchHit{
			MailID:  ch.Chunk.MailID,
			Subject: ch.Chunk.Subject,
			Score:   ch.Similarity,
			Snippet: ch.Chunk.Content,
		}
		m, err := s.repo.GetMail(ctx, ch.Chunk.MailID)
		if err != nil {
			s.log.Debug("Skipping chunk of missing mail", "mail_id", ch.Chunk.MailID, "error", err)
			continue
		}
		hit.Sender = m.Sender
		hit.Date = m.Date
		hit.Body = m.Body
		hits = append(hits, hit)
	}

	s.metrics.RecordSearch("semantic", len(hits))
	return &models.SearchResponse{Query: query, Method: "semantic", Results: hits}, nil
}
