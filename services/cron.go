package services

import (
	"context"
	"log/slog"
	"time"

	"mail-archive-search/internal/logger"
	"mail-archive-search/internal/store"
	"mail-archive-search/models"

	"github.com/go-co-op/gocron"
)

const sweepBatchLimit = 500

// EnrichmentSweeper re-dispatches mails whose enrichment never ran, for
// example because the process stopped before the background pass reached them.
type EnrichmentSweeper struct {
	scheduler  *gocron.Scheduler
	repo       store.Repository
	dispatcher EnrichmentDispatcher
	interval   time.Duration
	now        func() time.Time
	log        *slog.Logger
}

func NewEnrichmentSweeper(repo store.Repository, dispatcher EnrichmentDispatcher, interval time.Duration, log *slog.Logger) *EnrichmentSweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()

	return &EnrichmentSweeper{
		scheduler:  s,
		repo:       repo,
		dispatcher: dispatcher,
		interval:   interval,
		now:        time.Now,
		log:        logger.OrDefault(log),
	}
}

// Start schedules the sweep every interval, first run one interval from now.
func (s *EnrichmentSweeper) Start() error {
	_, err := s.scheduler.Every(s.interval).Tag("enrichment-sweep").WaitForSchedule().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error("Enrichment sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.log.Info("Enrichment sweep scheduled", "interval", s.interval.String())
	return nil
}

func (s *EnrichmentSweeper) Stop() {
	s.scheduler.Stop()
}

// Sweep dispatches pending mails created at least one interval ago and returns
// how many were dispatched. Younger mails are assumed to still be in flight.
func (s *EnrichmentSweeper) Sweep(ctx context.Context) (int, error) {
	mails, err := s.repo.ListMails(ctx, models.MailFilter{
		EnrichmentStatus: models.EnrichmentPending,
		Limit:            sweepBatchLimit,
	})
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.interval)
	ids := make([]string, 0, len(mails))
	for _, m := range mails {
		if m.CreatedAt.After(cutoff) {
			continue
		}
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	mode, err := s.dispatcher.Dispatch(ctx, "sweep", ids)
	if err != nil {
		return 0, err
	}
	if mode == EnrichmentDisabled {
		return 0, nil
	}
	s.log.Info("Pending mails re-dispatched", "mails", len(ids), "mode", mode)
	return len(ids), nil
}
