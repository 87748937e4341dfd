// Package attachment stages, stores and extracts text from message attachments.
package attachment

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"mail-archive-search/internal/logger"
	"mail-archive-search/models"
)

var (
	// ErrMissingContent is returned when an attachment has metadata but no content stream.
	ErrMissingContent = errors.New("attachment content stream missing")
	// ErrInvalidName is returned for path lookups with unsafe components.
	ErrInvalidName = errors.New("invalid attachment name")
)

const stagingDirName = ".staging"

// Storage owns the attachment root directory. Attachments of one entry are
// staged under a provisional key while the entry is parsed and moved to a
// per-mail folder once the repository has assigned the mail ID.
type Storage struct {
	root      string
	extractor *Extractor
	now       func() time.Time
	log       *slog.Logger
}

func NewStorage(root string, extractor *Extractor, log *slog.Logger) *Storage {
	if root == "" {
		root = "./storage/attachments"
	}
	return &Storage{
		root:      root,
		extractor: extractor,
		now:       time.Now,
		log:       logger.OrDefault(log),
	}
}

// Root returns the storage root directory.
func (s *Storage) Root() string { return s.root }

// MailFolder is the folder name for a persisted mail.
func MailFolder(mailID string) string {
	return "mail_" + SanitizeFilename(mailID, 64)
}

// Meta is the metadata read from the source for one attachment.
type Meta struct {
	Name         string
	MimeType     string
	DeclaredSize int64
}

// Staging collects the attachments of a single entry.
type Staging struct {
	storage  *Storage
	importID string
	key      string
	dir      string
	relDir   string
	parts    map[int]string
}

// Stage returns the staging area for an entry. Nothing touches the disk until
// the first Spool.
func (s *Storage) Stage(importID, key string) *Staging {
	rel := path.Join(stagingDirName, SanitizeFilename(importID, 64), SanitizeFilename(key, 64))
	return &Staging{
		storage:  s,
		importID: importID,
		key:      key,
		dir:      filepath.Join(s.root, filepath.FromSlash(rel)),
		relDir:   rel,
		parts:    make(map[int]string),
	}
}

// Key returns the provisional key of the staged entry.
func (st *Staging) Key() string { return st.key }

// Spool streams the content of attachment index into the staging folder.
func (st *Staging) Spool(index int, r io.Reader) (int64, error) {
	if err := os.MkdirAll(st.dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create staging directory: %w", err)
	}

	partPath := filepath.Join(st.dir, fmt.Sprintf(".part-%03d", index))
	f, err := os.Create(partPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create attachment part: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		os.Remove(partPath)
		return 0, fmt.Errorf("failed to write attachment %d: %w", index, err)
	}
	if err := f.Sync(); err != nil {
		os.Remove(partPath)
		return 0, fmt.Errorf("failed to flush attachment %d: %w", index, err)
	}

	st.parts[index] = partPath
	return n, nil
}

// Commit gives a spooled attachment its stored name and extracts its text.
func (st *Staging) Commit(index int, meta Meta) (models.AttachmentRef, error) {
	part, ok := st.parts[index]
	if !ok {
		return models.AttachmentRef{}, fmt.Errorf("attachment %d (%q): %w", index, meta.Name, ErrMissingContent)
	}
	delete(st.parts, index)

	stored := StoredName(index, st.storage.now(), meta.Name)
	dst := filepath.Join(st.dir, stored)
	if err := os.Rename(part, dst); err != nil {
		os.Remove(part)
		return models.AttachmentRef{}, fmt.Errorf("failed to name attachment %d: %w", index, err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return models.AttachmentRef{}, fmt.Errorf("failed to stat attachment %d: %w", index, err)
	}

	ref := models.AttachmentRef{
		OriginalName: meta.Name,
		StoredName:   stored,
		RelativePath: path.Join(st.relDir, stored),
		Size:         info.Size(),
		MimeType:     meta.MimeType,
	}
	if st.storage.extractor != nil {
		ref.ExtractedText = st.storage.extractor.ExtractFile(dst, meta.Name, meta.MimeType)
	}
	return ref, nil
}

// Discard removes the staging folder and anything spooled into it.
func (st *Staging) Discard() error {
	st.parts = make(map[int]string)
	return os.RemoveAll(st.dir)
}

// Reconcile moves the staged attachments of key into the permanent folder of
// mailID and returns refs with rewritten relative paths.
func (s *Storage) Reconcile(importID, key, mailID string, refs []models.AttachmentRef) ([]models.AttachmentRef, error) {
	if len(refs) == 0 {
		return refs, nil
	}

	st := s.Stage(importID, key)
	folder := MailFolder(mailID)
	target := filepath.Join(s.root, folder)
	if err := os.MkdirAll(target, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mail folder: %w", err)
	}

	out := make([]models.AttachmentRef, 0, len(refs))
	for _, ref := range refs {
		src := filepath.Join(st.dir, ref.StoredName)
		dst := filepath.Join(target, ref.StoredName)
		if err := os.Rename(src, dst); err != nil {
			return nil, fmt.Errorf("failed to move attachment %s: %w", ref.StoredName, err)
		}
		ref.RelativePath = folder + "/" + ref.StoredName
		out = append(out, ref)
	}

	if err := os.RemoveAll(st.dir); err != nil {
		s.log.Warn("failed to remove staging folder", "dir", st.dir, "error", err)
	}
	return out, nil
}

// CleanupImport removes whatever is left in the staging area of an import.
func (s *Storage) CleanupImport(importID string) error {
	return os.RemoveAll(filepath.Join(s.root, stagingDirName, SanitizeFilename(importID, 64)))
}

// Open resolves a stored attachment of a mail for reading.
func (s *Storage) Open(mailID, storedName string) (*os.File, error) {
	if storedName == "" || storedName != filepath.Base(storedName) || strings.ContainsAny(storedName, `/\`) || strings.HasPrefix(storedName, ".") {
		return nil, ErrInvalidName
	}
	return os.Open(filepath.Join(s.root, MailFolder(mailID), storedName))
}

// RemoveMail deletes the attachment folder of a mail.
func (s *Storage) RemoveMail(mailID string) error {
	return os.RemoveAll(filepath.Join(s.root, MailFolder(mailID)))
}

// Reset deletes every stored attachment.
func (s *Storage) Reset() error {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
