package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"mail-archive-search/internal/ai"
	"mail-archive-search/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetriever struct {
	hits []models.ChunkHit
	err  error
}

func (f fakeRetriever) SearchText(context.Context, string, int) ([]models.ChunkHit, error) {
	return f.hits, f.err
}

func hit(mailID, subject, content string, sim float64) models.ChunkHit {
	return models.ChunkHit{Chunk: models.Chunk{MailID: mailID, Subject: subject, Content: content}, Similarity: sim}
}

func TestAnswerWithoutContextSkipsTheModel(t *testing.T) {
	chat := &fakeChat{reply: func([]ai.Message) (string, error) { return "should not be called", nil }}
	svc := NewChatService(fakeRetriever{}, chat, nil, nil)

	resp, err := svc.Answer(context.Background(), "who approved the budget?", 5)
	require.NoError(t, err)
	assert.Equal(t, NoInformationAnswer, resp.Answer)
	assert.False(t, resp.Found)
	assert.Empty(t, resp.Sources)
	assert.Zero(t, chat.Calls())
}

func TestAnswerUsesRetrievedExcerpts(t *testing.T) {
	var sent []ai.Message
	chat := &fakeChat{reply: func(messages []ai.Message) (string, error) {
		sent = messages
		return "  Ann approved it [1].\n", nil
	}}
	retriever := fakeRetriever{hits: []models.ChunkHit{
		hit("m1", "Budget", "Ann approved the 2024 budget.", 0.82),
		hit("m2", "Re: Budget", "Thanks Ann.", 0.41),
	}}

	resp, err := NewChatService(retriever, chat, nil, nil).Answer(context.Background(), "who approved the budget?", 5)
	require.NoError(t, err)
	assert.True(t, resp.Found)
	assert.Equal(t, "Ann approved it [1].", resp.Answer)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, models.ChatSource{MailID: "m1", Subject: "Budget", Similarity: 0.82}, resp.Sources[0])

	require.Len(t, sent, 2)
	assert.Equal(t, ai.RoleSystem, sent[0].Role)
	assert.Contains(t, sent[1].Content, "[1] (mail m1, similarity 0.82)\nAnn approved the 2024 budget.")
	assert.Contains(t, sent[1].Content, "Question: who approved the budget?")
}

func TestAnswerPropagatesFailures(t *testing.T) {
	chat := &fakeChat{reply: func([]ai.Message) (string, error) { return "", fmt.Errorf("quota: %w", ai.ErrUnavailable) }}

	_, err := NewChatService(fakeRetriever{err: ai.ErrUnavailable}, chat, nil, nil).Answer(context.Background(), "q", 5)
	assert.True(t, errors.Is(err, ai.ErrUnavailable))

	retriever := fakeRetriever{hits: []models.ChunkHit{hit("m1", "s", "c", 0.9)}}
	_, err = NewChatService(retriever, chat, nil, nil).Answer(context.Background(), "q", 5)
	assert.True(t, errors.Is(err, ai.ErrUnavailable))
}
