package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"mail-archive-search/models"
)

// Memory keeps everything in process. Used by tests and for throwaway runs.
type Memory struct {
	mu     sync.RWMutex
	mails  map[string]*models.Mail
	order  []string
	chunks []models.Chunk
	events []models.Event
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		mails: make(map[string]*models.Mail),
		now:   time.Now,
	}
}

func (m *Memory) InsertMails(ctx context.Context, mails []*models.Mail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prepareMails(mails, m.now().UTC())
	for _, mail := range mails {
		cp := *mail
		cp.Attachments = append([]models.AttachmentRef{}, mail.Attachments...)
		m.mails[cp.ID] = &cp
		m.order = append(m.order, cp.ID)
	}
	return nil
}

func (m *Memory) GetMail(ctx context.Context, id string) (*models.Mail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mail, ok := m.mails[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *mail
	return &cp, nil
}

func (m *Memory) ListMails(ctx context.Context, filter models.MailFilter) ([]*models.Mail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids map[string]bool
	if len(filter.IDs) > 0 {
		ids = make(map[string]bool, len(filter.IDs))
		for _, id := range filter.IDs {
			ids[id] = true
		}
	}

	var out []*models.Mail
	for _, id := range m.order {
		mail := m.mails[id]
		if filter.ImportID != "" && mail.ImportID != filter.ImportID {
			continue
		}
		if filter.EnrichmentStatus != "" && mail.EnrichmentStatus != filter.EnrichmentStatus {
			continue
		}
		if ids != nil && !ids[id] {
			continue
		}
		cp := *mail
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) CountMails(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.mails)), nil
}

func (m *Memory) FindCandidates(ctx context.Context, tokens []string) ([]*models.Mail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Mail
	for _, id := range m.order {
		if mail := m.mails[id]; matchesAny(mail, tokens) {
			cp := *mail
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) UpdateAttachments(ctx context.Context, id string, refs []models.AttachmentRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mail, ok := m.mails[id]
	if !ok {
		return ErrNotFound
	}
	mail.Attachments = append([]models.AttachmentRef{}, refs...)
	return nil
}

func (m *Memory) UpdateEnrichment(ctx context.Context, id, classification, confidence, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mail, ok := m.mails[id]
	if !ok {
		return ErrNotFound
	}
	mail.Classification = classification
	mail.Confidence = confidence
	mail.EnrichmentStatus = status
	return nil
}

func (m *Memory) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = newID()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		m.chunks = append(m.chunks, c)
	}
	return nil
}

func (m *Memory) ListChunks(ctx context.Context) ([]models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Chunk(nil), m.chunks...), nil
}

func (m *Memory) DeleteChunksForMail(ctx context.Context, mailID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.chunks[:0]
	for _, c := range m.chunks {
		if c.MailID != mailID {
			kept = append(kept, c)
		}
	}
	m.chunks = kept
	return nil
}

func (m *Memory) InsertEvents(ctx context.Context, events []models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	for _, e := range events {
		if e.ID == "" {
			e.ID = newID()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		m.events = append(m.events, e)
	}
	return nil
}

func (m *Memory) ListEvents(ctx context.Context, mailID string) ([]models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Event
	for _, e := range m.events {
		if mailID == "" || e.MailID == mailID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out, nil
}

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mails = make(map[string]*models.Mail)
	m.order = nil
	m.chunks = nil
	m.events = nil
	return nil
}

func (m *Memory) Close(ctx context.Context) error { return nil }
