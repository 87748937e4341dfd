// Package search ranks the stored corpus for a query, lexically by token
// frequency or semantically by embedding similarity.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"mail-archive-search/internal/logger"
	"mail-archive-search/models"
)

const (
	DefaultFullFieldCorpusLimit = 2000
	snippetRadius               = 80
)

// CandidateSource supplies lexical candidates.
type CandidateSource interface {
	FindCandidates(ctx context.Context, tokens []string) ([]*models.Mail, error)
	CountMails(ctx context.Context) (int64, error)
}

// Lexical is a frequency-sum bag-of-words scorer.
type Lexical struct {
	source         CandidateSource
	fullFieldLimit int
	log            *slog.Logger
}

// NewLexical builds a scorer. Sender, date and attachment text count toward
// the score only while the corpus holds at most fullFieldLimit mails.
func NewLexical(source CandidateSource, fullFieldLimit int, log *slog.Logger) *Lexical {
	if fullFieldLimit <= 0 {
		fullFieldLimit = DefaultFullFieldCorpusLimit
	}
	return &Lexical{source: source, fullFieldLimit: fullFieldLimit, log: logger.OrDefault(log)}
}

// Tokenize splits a query on whitespace.
func Tokenize(query string) []string {
	return strings.Fields(query)
}

// Score sums the case-insensitive occurrence counts of every token in text.
func Score(text string, tokens []string) int {
	lower := strings.ToLower(text)
	total := 0
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		total += strings.Count(lower, strings.ToLower(tok))
	}
	return total
}

// Search returns at most max(1, topK) mails with a positive score, best first.
// Equal scores keep candidate order.
func (l *Lexical) Search(ctx context.Context, query string, topK int) ([]models.SearchHit, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return []models.SearchHit{}, nil
	}

	candidates, err := l.source.FindCandidates(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("candidate lookup failed: %w", err)
	}

	fullFields := false
	if total, err := l.source.CountMails(ctx); err != nil {
		l.log.Warn("Corpus size unavailable, scoring subject and body only", "error", err)
	} else {
		fullFields = total <= int64(l.fullFieldLimit)
	}

	hits := make([]models.SearchHit, 0, len(candidates))
	for _, m := range candidates {
		score := Score(scoringText(m, fullFields), tokens)
		if score == 0 {
			continue
		}
		hits = append(hits, models.SearchHit{
			MailID:  m.ID,
			Subject: m.Subject,
			Score:   float64(score),
			Sender:  m.Sender,
			Date:    m.Date,
			Body:    m.Body,
			Snippet: Snippet(m.Body, tokens),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	limit := topK
	if limit < 1 {
		limit = 1
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func scoringText(m *models.Mail, fullFields bool) string {
	parts := []string{m.Subject, m.Body}
	if fullFields {
		parts = append(parts, m.Sender, m.Date, m.AttachmentText())
	}
	return strings.Join(parts, "\n")
}

// Snippet returns a window of body around the first token occurrence, or the
// start of the body when no token occurs in it.
func Snippet(body string, tokens []string) string {
	lower := strings.ToLower(body)
	at := -1
	for _, tok := range tokens {
		if i := strings.Index(lower, strings.ToLower(tok)); i >= 0 && (at < 0 || i < at) {
			at = i
		}
	}

	// byte offsets from the lowered text only map back when lowering kept the length
	if at < 0 || len(lower) != len(body) {
		return trimRunes(body, 0, 2*snippetRadius)
	}

	start := utf8.RuneCountInString(body[:at]) - snippetRadius
	if start < 0 {
		start = 0
	}
	return trimRunes(body, start, 2*snippetRadius)
}

func trimRunes(s string, start, n int) string {
	runes := []rune(s)
	if start > len(runes) {
		start = len(runes)
	}
	end := start + n
	if end > len(runes) {
		end = len(runes)
	}
	out := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}
