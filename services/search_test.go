package services

import (
	"context"
	"testing"

	"mail-archive-search/internal/search"
	"mail-archive-search/internal/store"
	"mail-archive-search/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemanticSearchKeepsBestChunkPerMail(t *testing.T) {
	repo := store.NewMemory()
	ids := insertMails(t, repo,
		&models.Mail{Subject: "Budget", Sender: "Ann", Date: "2024-01-02", Body: "full budget body"},
		&models.Mail{Subject: "Travel", Sender: "Bo", Date: "2024-01-03", Body: "travel body"},
	)
	retriever := fakeRetriever{hits: []models.ChunkHit{
		hit(ids[0], "Budget", "budget part one", 0.9),
		hit(ids[0], "Budget", "budget part two", 0.8),
		hit(ids[1], "Travel", "travel part", 0.7),
		hit("deleted", "Gone", "orphan", 0.6),
	}}
	svc := NewSearchService(search.NewLexical(repo, 0, nil), retriever, repo, nil, nil)

	resp, err := svc.Semantic(context.Background(), "budget", 5)
	require.NoError(t, err)
	assert.Equal(t, "semantic", resp.Method)
	require.Len(t, resp.Results, 2)

	assert.Equal(t, ids[0], resp.Results[0].MailID)
	assert.Equal(t, 0.9, resp.Results[0].Score)
	assert.Equal(t, "budget part one", resp.Results[0].Snippet)
	assert.Equal(t, "Ann", resp.Results[0].Sender)
	assert.Equal(t, ids[1], resp.Results[1].MailID)
}

func TestLexicalSearchThroughService(t *testing.T) {
	repo := store.NewMemory()
	insertMails(t, repo,
		&models.Mail{Subject: "Invoice", Body: "invoice invoice attached"},
		&models.Mail{Subject: "Lunch", Body: "sandwiches"},
	)
	svc := NewSearchService(search.NewLexical(repo, 0, nil), fakeRetriever{}, repo, nil, nil)

	resp, err := svc.Lexical(context.Background(), "invoice", 10)
	require.NoError(t, err)
	assert.Equal(t, "lexical", resp.Method)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Invoice", resp.Results[0].Subject)
	assert.Equal(t, float64(3), resp.Results[0].Score)
}
