package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mail-archive-search/internal/ai"
	"mail-archive-search/internal/logger"
	"mail-archive-search/internal/telemetry"
	"mail-archive-search/models"
)

// NoInformationAnswer is returned when retrieval finds nothing above the
// similarity threshold.
const NoInformationAnswer = "No information found in the archive for this question."

// ChunkRetriever ranks stored chunks against a question.
type ChunkRetriever interface {
	SearchText(ctx context.Context, query string, topK int) ([]models.ChunkHit, error)
}

// ChatService answers questions from the retrieved archive context.
type ChatService struct {
	retriever ChunkRetriever
	chat      ai.ChatCompleter
	metrics   *telemetry.Metrics
	log       *slog.Logger
	now       func() time.Time
}

func NewChatService(retriever ChunkRetriever, chat ai.ChatCompleter, metrics *telemetry.Metrics, log *slog.Logger) *ChatService {
	return &ChatService{
		retriever: retriever,
		chat:      chat,
		metrics:   metrics,
		log:       logger.OrDefault(log),
		now:       time.Now,
	}
}

// Answer retrieves context for question and asks the chat model. No context
// above the threshold is not an error: the reply says nothing was found and
// the model is not called.
func (s *ChatService) Answer(ctx context.Context, question string, topK int) (*models.ChatResponse, error) {
	hits, err := s.retriever.SearchText(ctx, question, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	s.metrics.RecordSearch("chat", len(hits))

	resp := &models.ChatResponse{
		Sources:   make([]models.ChatSource, 0, len(hits)),
		Timestamp: s.now().UTC(),
	}
	if len(hits) == 0 {
		resp.Answer = NoInformationAnswer
		return resp, nil
	}

	started := time.Now()
	answer, err := s.chat.Complete(ctx, chatMessages(question, hits))
	s.metrics.RecordLLMCall("chat", err == nil, time.Since(started).Seconds())
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	resp.Answer = strings.TrimSpace(answer)
	resp.Found = true
	for _, h := range hits {
		resp.Sources = append(resp.Sources, models.ChatSource{
			MailID:     h.Chunk.MailID,
			Subject:    h.Chunk.Subject,
			Similarity: h.Similarity,
		})
	}
	return resp, nil
}

func chatMessages(question string, hits []models.ChunkHit) []ai.Message {
	var sb strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&sb, "[%d] (mail %s, similarity %.2f)\n%s\n\n", i+1, h.Chunk.MailID, h.Similarity, h.Chunk.Content)
	}

	return []ai.Message{
		{Role: ai.RoleSystem, Content: "You answer questions about an e-mail archive using only the excerpts provided. " +
			"Cite excerpts by their number. If the excerpts do not contain the answer, say so."},
		{Role: ai.RoleUser, Content: fmt.Sprintf("Excerpts:\n\n%sQuestion: %s", sb.String(), question)},
	}
}
