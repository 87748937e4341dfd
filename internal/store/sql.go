package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mail-archive-search/internal/logger"
	"mail-archive-search/models"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect captures the differences between the supported SQL engines.
type Dialect struct {
	Name       string
	Driver     string
	SerialType string
	BlobType   string

	// Numbered placeholders ($1, $2) instead of "?"
	Numbered bool
}

var (
	SQLite   = Dialect{Name: "sqlite", Driver: "sqlite", SerialType: "INTEGER PRIMARY KEY AUTOINCREMENT", BlobType: "BLOB"}
	Postgres = Dialect{Name: "postgres", Driver: "pgx", SerialType: "BIGSERIAL PRIMARY KEY", BlobType: "BYTEA", Numbered: true}
)

func (d Dialect) schema() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS mails (
    seq %[1]s,
    id TEXT UNIQUE NOT NULL,
    import_id TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    sender TEXT NOT NULL DEFAULT '',
    recipients_to TEXT NOT NULL DEFAULT '',
    recipients_cc TEXT NOT NULL DEFAULT '',
    sent_date TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    importance TEXT NOT NULL DEFAULT 'normal',
    label TEXT NOT NULL DEFAULT '',
    attachments TEXT NOT NULL DEFAULT '[]',
    search_text TEXT NOT NULL DEFAULT '',
    attachment_search TEXT NOT NULL DEFAULT '',
    classification TEXT NOT NULL DEFAULT '',
    confidence TEXT NOT NULL DEFAULT '',
    enrichment_status TEXT NOT NULL DEFAULT 'pending',
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
    seq %[1]s,
    id TEXT UNIQUE NOT NULL,
    mail_id TEXT NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    vector %[2]s NOT NULL,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    seq %[1]s,
    id TEXT UNIQUE NOT NULL,
    mail_id TEXT NOT NULL,
    title TEXT NOT NULL,
    event_date TEXT NOT NULL,
    event_time TEXT NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mails_import ON mails(import_id);
CREATE INDEX IF NOT EXISTS idx_mails_enrichment ON mails(enrichment_status);
CREATE INDEX IF NOT EXISTS idx_chunks_mail ON chunks(mail_id);
CREATE INDEX IF NOT EXISTS idx_events_mail ON events(mail_id);
CREATE INDEX IF NOT EXISTS idx_events_date ON events(event_date);
`, d.SerialType, d.BlobType)
}

// rebind rewrites "?" placeholders for dialects that number them.
func (d Dialect) rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQL is the database/sql repository shared by the SQLite and PostgreSQL dialects.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
	log     *slog.Logger
}

// OpenSQL connects and creates the schema when missing.
func OpenSQL(ctx context.Context, d Dialect, dsn string, log *slog.Logger) (*SQL, error) {
	if d.Name == SQLite.Name && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d.Name == SQLite.Name {
		// one writer; keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", d.Name, err)
	}

	s := &SQL{db: db, dialect: d, now: time.Now, log: logger.OrDefault(log)}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates tables and indexes.
func (s *SQL) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(s.dialect.schema(), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

func (s *SQL) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQL) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

const mailColumns = `id, import_id, subject, sender, recipients_to, recipients_cc, sent_date, body,
	importance, label, attachments, classification, confidence, enrichment_status, created_at`

func (s *SQL) InsertMails(ctx context.Context, mails []*models.Mail) error {
	if len(mails) == 0 {
		return nil
	}
	prepareMails(mails, s.now().UTC())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(`INSERT INTO mails (`+mailColumns+`, search_text, attachment_search)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range mails {
		attachments, err := json.Marshal(m.Attachments)
		if err != nil {
			return fmt.Errorf("failed to encode attachments of %s: %w", m.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			m.ID, m.ImportID, m.Subject, m.Sender, m.To, m.Cc, m.Date, m.Body,
			m.Importance, m.Label, string(attachments), m.Classification, m.Confidence,
			m.EnrichmentStatus, m.CreatedAt.UnixMilli(), searchText(m), attachmentSearchText(m.Attachments),
		); err != nil {
			return fmt.Errorf("failed to insert mail: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mail batch: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMail(row rowScanner) (*models.Mail, error) {
	var (
		m           models.Mail
		attachments string
		createdAt   int64
	)
	if err := row.Scan(&m.ID, &m.ImportID, &m.Subject, &m.Sender, &m.To, &m.Cc, &m.Date, &m.Body,
		&m.Importance, &m.Label, &attachments, &m.Classification, &m.Confidence,
		&m.EnrichmentStatus, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
		return nil, fmt.Errorf("failed to decode attachments of %s: %w", m.ID, err)
	}
	if m.Attachments == nil {
		m.Attachments = []models.AttachmentRef{}
	}
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &m, nil
}

func collectMails(rows *sql.Rows) ([]*models.Mail, error) {
	defer rows.Close()
	var out []*models.Mail
	for rows.Next() {
		m, err := scanMail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQL) GetMail(ctx context.Context, id string) (*models.Mail, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+mailColumns+` FROM mails WHERE id = ?`), id)
	m, err := scanMail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mail %s: %w", id, err)
	}
	return m, nil
}

func (s *SQL) ListMails(ctx context.Context, filter models.MailFilter) ([]*models.Mail, error) {
	var (
		where []string
		args  []any
	)
	if filter.ImportID != "" {
		where = append(where, "import_id = ?")
		args = append(args, filter.ImportID)
	}
	if filter.EnrichmentStatus != "" {
		where = append(where, "enrichment_status = ?")
		args = append(args, filter.EnrichmentStatus)
	}
	if len(filter.IDs) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(filter.IDs)), ", ")
		where = append(where, "id IN ("+marks+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}

	q := `SELECT ` + mailColumns + ` FROM mails`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq"
	if filter.Limit > 0 {
		q += " LIMIT " + strconv.Itoa(filter.Limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mails: %w", err)
	}
	return collectMails(rows)
}

func (s *SQL) CountMails(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mails`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count mails: %w", err)
	}
	return n, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *SQL) FindCandidates(ctx context.Context, tokens []string) ([]*models.Mail, error) {
	var (
		clauses []string
		args    []any
	)
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		pattern := "%" + likeEscaper.Replace(strings.ToLower(tok)) + "%"
		for _, col := range []string{"search_text", "attachment_search"} {
			clauses = append(clauses, col+` LIKE ? ESCAPE '\'`)
			args = append(args, pattern)
		}
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	rows, err := s.query(ctx, `SELECT `+mailColumns+` FROM mails WHERE `+strings.Join(clauses, " OR ")+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	return collectMails(rows)
}

func (s *SQL) UpdateAttachments(ctx context.Context, id string, refs []models.AttachmentRef) error {
	if refs == nil {
		refs = []models.AttachmentRef{}
	}
	encoded, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}
	res, err := s.exec(ctx, `UPDATE mails SET attachments = ?, attachment_search = ? WHERE id = ?`,
		string(encoded), attachmentSearchText(refs), id)
	if err != nil {
		return fmt.Errorf("failed to update attachments: %w", err)
	}
	return expectRow(res)
}

func (s *SQL) UpdateEnrichment(ctx context.Context, id, classification, confidence, status string) error {
	res, err := s.exec(ctx, `UPDATE mails SET classification = ?, confidence = ?, enrichment_status = ? WHERE id = ?`,
		classification, confidence, status, id)
	if err != nil {
		return fmt.Errorf("failed to update enrichment: %w", err)
	}
	return expectRow(res)
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC().UnixMilli()
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = newID()
		}
		created := now
		if !c.CreatedAt.IsZero() {
			created = c.CreatedAt.UnixMilli()
		}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(`INSERT INTO chunks (id, mail_id, subject, content, chunk_index, vector, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			c.ID, c.MailID, c.Subject, c.Content, c.Index, serializeVector(c.Embedding), created); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQL) ListChunks(ctx context.Context) ([]models.Chunk, error) {
	rows, err := s.query(ctx, `SELECT id, mail_id, subject, content, chunk_index, vector, created_at FROM chunks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var (
			c         models.Chunk
			vector    []byte
			createdAt int64
		)
		if err := rows.Scan(&c.ID, &c.MailID, &c.Subject, &c.Content, &c.Index, &vector, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.Embedding = deserializeVector(vector)
		c.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQL) DeleteChunksForMail(ctx context.Context, mailID string) error {
	if _, err := s.exec(ctx, `DELETE FROM chunks WHERE mail_id = ?`, mailID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *SQL) InsertEvents(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC().UnixMilli()
	for _, e := range events {
		if e.ID == "" {
			e.ID = newID()
		}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(`INSERT INTO events (id, mail_id, title, event_date, event_time, location, source, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			e.ID, e.MailID, e.Title, e.Date, e.Time, e.Location, e.Source, now); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQL) ListEvents(ctx context.Context, mailID string) ([]models.Event, error) {
	q := `SELECT id, mail_id, title, event_date, event_time, location, source, created_at FROM events`
	var args []any
	if mailID != "" {
		q += ` WHERE mail_id = ?`
		args = append(args, mailID)
	}
	q += ` ORDER BY event_date, event_time, seq`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var (
			e         models.Event
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.MailID, &e.Title, &e.Date, &e.Time, &e.Location, &e.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQL) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"chunks", "events", "mails"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (s *SQL) Close(ctx context.Context) error {
	return s.db.Close()
}

// serializeVector converts a float32 slice to little-endian bytes for storage
func serializeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func deserializeVector(data []byte) []float32 {
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector
}
