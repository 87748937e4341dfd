package services

import (
	"context"
	"testing"
	"time"

	"mail-archive-search/internal/store"
	"mail-archive-search/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepDispatchesStalePendingMails(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := store.NewMemory()
	ids := insertMails(t, repo,
		&models.Mail{Subject: "stale", EnrichmentStatus: models.EnrichmentPending, CreatedAt: now.Add(-time.Hour)},
		&models.Mail{Subject: "fresh", EnrichmentStatus: models.EnrichmentPending, CreatedAt: now.Add(-time.Minute)},
		&models.Mail{Subject: "done", EnrichmentStatus: models.EnrichmentDone, CreatedAt: now.Add(-time.Hour)},
	)

	dispatcher := &recordingDispatcher{}
	sweeper := NewEnrichmentSweeper(repo, dispatcher, 15*time.Minute, nil)
	sweeper.now = func() time.Time { return now }

	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, dispatcher.batches, 1)
	assert.Equal(t, []string{ids[0]}, dispatcher.batches[0])
}

func TestSweepWithDisabledEnrichment(t *testing.T) {
	repo := store.NewMemory()
	insertMails(t, repo, &models.Mail{Subject: "stale", EnrichmentStatus: models.EnrichmentPending, CreatedAt: time.Now().Add(-time.Hour)})

	n, err := NewEnrichmentSweeper(repo, DisabledDispatcher{}, time.Minute, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeperStartStop(t *testing.T) {
	sweeper := NewEnrichmentSweeper(store.NewMemory(), DisabledDispatcher{}, time.Hour, nil)
	require.NoError(t, sweeper.Start())
	sweeper.Stop()
}
