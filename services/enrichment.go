package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"mail-archive-search/internal/ai"
	"mail-archive-search/internal/logger"
	"mail-archive-search/internal/store"
	"mail-archive-search/internal/telemetry"
	"mail-archive-search/models"
)

const promptBodyLimit = 6000

// Indexer stores the chunk embeddings of one mail.
type Indexer interface {
	Index(ctx context.Context, m *models.Mail) (int, error)
}

// EnrichmentService classifies mails, indexes them for semantic search and
// extracts events. It processes one mail at a time and never retries a call.
type EnrichmentService struct {
	repo    store.Repository
	chat    ai.ChatCompleter
	indexer Indexer
	metrics *telemetry.Metrics
	log     *slog.Logger
}

func NewEnrichmentService(repo store.Repository, chat ai.ChatCompleter, indexer Indexer, metrics *telemetry.Metrics, log *slog.Logger) *EnrichmentService {
	return &EnrichmentService{
		repo:    repo,
		chat:    chat,
		indexer: indexer,
		metrics: metrics,
		log:     logger.OrDefault(log),
	}
}

// EnrichStats summarizes one batch.
type EnrichStats struct {
	Done         int
	Unclassified int
	Missing      int
	Events       int
	Offline      bool
}

// EnrichBatch enriches ids in order. When the language model service does not
// answer a ping the whole batch falls back to local event extraction and the
// mails are marked unclassified. The returned error is reserved for failures
// of the store itself.
func (s *EnrichmentService) EnrichBatch(ctx context.Context, ids []string) error {
	_, err := s.Enrich(ctx, ids)
	return err
}

func (s *EnrichmentService) Enrich(ctx context.Context, ids []string) (EnrichStats, error) {
	var stats EnrichStats
	if err := s.chat.Ping(ctx); err != nil {
		stats.Offline = true
		s.log.Warn("Language model unreachable, extracting events locally", "mails", len(ids), "error", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		m, err := s.repo.GetMail(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			stats.Missing++
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("load mail %s: %w", id, err)
		}

		var outcome string
		if stats.Offline {
			outcome, err = s.enrichOffline(ctx, m, &stats)
		} else {
			outcome, err = s.enrichOne(ctx, m, &stats)
		}
		if err != nil {
			return stats, err
		}

		if outcome == models.EnrichmentDone {
			stats.Done++
		} else {
			stats.Unclassified++
		}
		s.metrics.RecordEnrichment(outcome)
	}

	s.log.Info("Enrichment batch finished",
		"mails", len(ids),
		"done", stats.Done,
		"unclassified", stats.Unclassified,
		"events", stats.Events,
		"offline", stats.Offline,
	)
	return stats, nil
}

func (s *EnrichmentService) enrichOffline(ctx context.Context, m *models.Mail, stats *EnrichStats) (string, error) {
	if err := s.saveEvents(ctx, ExtractEventsLocal(m), stats); err != nil {
		return "", err
	}
	if err := s.repo.UpdateEnrichment(ctx, m.ID, "", "", models.EnrichmentUnclassified); err != nil {
		return "", fmt.Errorf("update mail %s: %w", m.ID, err)
	}
	return models.EnrichmentUnclassified, nil
}

func (s *EnrichmentService) enrichOne(ctx context.Context, m *models.Mail, stats *EnrichStats) (string, error) {
	// Chunks depend only on the embedder, so a failed classification still
	// leaves the mail searchable.
	if err := s.index(ctx, m); err != nil {
		return "", err
	}

	reply, err := s.complete(ctx, "classify", classificationMessages(m))
	if err != nil {
		s.log.Warn("Classification failed, mail left unclassified", "mail_id", m.ID, "error", err)
		if err := s.repo.UpdateEnrichment(ctx, m.ID, "", "", models.EnrichmentUnclassified); err != nil {
			return "", fmt.Errorf("update mail %s: %w", m.ID, err)
		}
		return models.EnrichmentUnclassified, nil
	}
	cls := ai.ParseClassification(reply)

	var events []models.Event
	if reply, err := s.complete(ctx, "events", eventMessages(m)); err != nil {
		s.log.Warn("Event extraction failed, using local heuristic", "mail_id", m.ID, "error", err)
		events = ExtractEventsLocal(m)
	} else {
		for _, ev := range ai.ParseEvents(reply) {
			events = append(events, models.Event{
				MailID:   m.ID,
				Title:    ev.Title,
				Date:     ev.Date,
				Time:     ev.Time,
				Location: ev.Location,
				Source:   models.EventSourceLLM,
			})
		}
	}
	if err := s.saveEvents(ctx, events, stats); err != nil {
		return "", err
	}

	if err := s.repo.UpdateEnrichment(ctx, m.ID, cls.Classification, cls.Confidence, models.EnrichmentDone); err != nil {
		return "", fmt.Errorf("update mail %s: %w", m.ID, err)
	}
	return models.EnrichmentDone, nil
}

// index replaces the chunks of m. Embedding failures are logged, store
// failures returned.
func (s *EnrichmentService) index(ctx context.Context, m *models.Mail) error {
	if s.indexer == nil {
		return nil
	}
	if err := s.repo.DeleteChunksForMail(ctx, m.ID); err != nil {
		return fmt.Errorf("clear chunks of %s: %w", m.ID, err)
	}
	if n, err := s.indexer.Index(ctx, m); err != nil {
		s.log.Warn("Indexing failed", "mail_id", m.ID, "error", err)
	} else {
		s.log.Debug("Mail indexed", "mail_id", m.ID, "chunks", n)
	}
	return nil
}

func (s *EnrichmentService) complete(ctx context.Context, operation string, messages []ai.Message) (string, error) {
	started := time.Now()
	reply, err := s.chat.Complete(ctx, messages)
	s.metrics.RecordLLMCall(operation, err == nil, time.Since(started).Seconds())
	return reply, err
}

func (s *EnrichmentService) saveEvents(ctx context.Context, events []models.Event, stats *EnrichStats) error {
	if len(events) == 0 {
		return nil
	}
	if err := s.repo.InsertEvents(ctx, events); err != nil {
		return fmt.Errorf("store events: %w", err)
	}
	stats.Events += len(events)
	return nil
}

func classificationMessages(m *models.Mail) []ai.Message {
	return []ai.Message{
		{Role: ai.RoleSystem, Content: fmt.Sprintf(`You sort archived e-mail. Reply with JSON only:
{"classification": one of %s, "confidence": "high" | "medium" | "low"}`, strings.Join(quoted(ai.Classifications), ", "))},
		{Role: ai.RoleUser, Content: mailPrompt(m)},
	}
}

func eventMessages(m *models.Mail) []ai.Message {
	return []ai.Message{
		{Role: ai.RoleSystem, Content: `You extract dated events (meetings, calls, deadlines) from e-mail.
Reply with a JSON array only, each item {"title": string, "date": "YYYY-MM-DD", "time": "HH:MM" or "", "location": string or ""}.
Reply [] when there are none.`},
		{Role: ai.RoleUser, Content: mailPrompt(m)},
	}
}

func mailPrompt(m *models.Mail) string {
	return fmt.Sprintf("Subject: %s\nFrom: %s\nDate: %s\n\n%s", m.Subject, m.Sender, m.Date, truncateText(m.Body, promptBodyLimit))
}

func quoted(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = `"` + v + `"`
	}
	return out
}

// truncateText cuts text to at most maxRunes runes
func truncateText(text string, maxRunes int) string {
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	return string([]rune(text)[:maxRunes]) + "..."
}

// BackgroundDispatcher runs enrichment in-process when no queue is configured.
// Batches run one after another on a single goroutine.
type BackgroundDispatcher struct {
	enricher *EnrichmentService
	timeout  time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	pending [][]string
	running bool
	wg      sync.WaitGroup
}

func NewBackgroundDispatcher(enricher *EnrichmentService, timeout time.Duration, log *slog.Logger) *BackgroundDispatcher {
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	return &BackgroundDispatcher{enricher: enricher, timeout: timeout, log: logger.OrDefault(log)}
}

func (d *BackgroundDispatcher) Dispatch(_ context.Context, importID string, ids []string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = append(d.pending, append([]string(nil), ids...))
	if !d.running {
		d.running = true
		d.wg.Add(1)
		go d.drain()
	}
	d.log.Debug("Enrichment scheduled in background", "import_id", importID, "mails", len(ids))
	return EnrichmentBackground, nil
}

func (d *BackgroundDispatcher) drain() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(d.pending) == 0 {
			d.running = false
			d.mu.Unlock()
			return
		}
		ids := d.pending[0]
		d.pending = d.pending[1:]
		d.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.enricher.EnrichBatch(ctx, ids); err != nil {
			d.log.Error("Background enrichment failed", "mails", len(ids), "error", err)
		}
		cancel()
	}
}

// Wait blocks until every dispatched batch has been processed.
func (d *BackgroundDispatcher) Wait() {
	d.wg.Wait()
}

// DisabledDispatcher leaves mails pending.
type DisabledDispatcher struct{}

func (DisabledDispatcher) Dispatch(context.Context, string, []string) (string, error) {
	return EnrichmentDisabled, nil
}
