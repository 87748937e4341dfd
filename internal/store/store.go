// Package store persists mails, chunks and events behind a single Repository
// interface with memory, MongoDB and SQL (PostgreSQL or SQLite) backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mail-archive-search/internal/config"
	"mail-archive-search/models"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository is constructed once at startup and shared by reference.
type Repository interface {
	// InsertMails persists one batch atomically and assigns IDs and
	// creation times. On error none of the batch is stored.
	InsertMails(ctx context.Context, mails []*models.Mail) error
	GetMail(ctx context.Context, id string) (*models.Mail, error)
	ListMails(ctx context.Context, filter models.MailFilter) ([]*models.Mail, error)
	CountMails(ctx context.Context) (int64, error)
	// FindCandidates returns mails where any token occurs, case-insensitively,
	// in the subject, body, sender, date or attachment text.
	FindCandidates(ctx context.Context, tokens []string) ([]*models.Mail, error)
	UpdateAttachments(ctx context.Context, id string, refs []models.AttachmentRef) error
	UpdateEnrichment(ctx context.Context, id, classification, confidence, status string) error

	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	ListChunks(ctx context.Context) ([]models.Chunk, error)
	DeleteChunksForMail(ctx context.Context, mailID string) error

	InsertEvents(ctx context.Context, events []models.Event) error
	// ListEvents returns events ordered by date. An empty mailID lists all.
	ListEvents(ctx context.Context, mailID string) ([]models.Event, error)

	// Reset deletes every mail, chunk and event.
	Reset(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open builds the repository selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (Repository, error) {
	switch cfg.StoreBackend {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQL(ctx, SQLite, cfg.SQLitePath, log)
	case "postgres":
		return OpenSQL(ctx, Postgres, cfg.PostgresDSN, log)
	case "mongo":
		client, err := config.ConnectMongoDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewMongo(client, client.Database(cfg.DBName), cfg.MongoTransactions, log), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func newID() string { return uuid.NewString() }

// prepareMails assigns IDs and timestamps before a batch is written.
func prepareMails(mails []*models.Mail, now time.Time) {
	for _, m := range mails {
		if m.ID == "" {
			m.ID = newID()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if m.Attachments == nil {
			m.Attachments = []models.AttachmentRef{}
		}
		if m.EnrichmentStatus == "" {
			m.EnrichmentStatus = models.EnrichmentPending
		}
	}
}

// searchText is the case-folded header text matched by candidate lookups.
// Folding happens here because SQLite's LOWER() only folds ASCII.
func searchText(m *models.Mail) string {
	return strings.ToLower(strings.Join([]string{m.Subject, m.Body, m.Sender, m.Date}, "\n"))
}

func attachmentSearchText(refs []models.AttachmentRef) string {
	return strings.ToLower((&models.Mail{Attachments: refs}).AttachmentText())
}

// matchesAny is the in-process candidate predicate shared by the memory backend.
func matchesAny(m *models.Mail, tokens []string) bool {
	fields := []string{m.Subject, m.Body, m.Sender, m.Date, m.AttachmentText()}
	for _, tok := range tokens {
		tok = strings.ToLower(tok)
		if tok == "" {
			continue
		}
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f), tok) {
				return true
			}
		}
	}
	return false
}
