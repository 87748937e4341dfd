package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"mail-archive-search/internal/archive"
	"mail-archive-search/internal/attachment"
	"mail-archive-search/internal/store"
	"mail-archive-search/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, _ string, ids []string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.batches = append(d.batches, ids)
	return EnrichmentQueued, nil
}

// failingRepo fails InsertMails on the listed call numbers (1-based).
type failingRepo struct {
	store.Repository
	calls  int
	failOn map[int]bool
}

func (r *failingRepo) InsertMails(ctx context.Context, mails []*models.Mail) error {
	r.calls++
	if r.failOn[r.calls] {
		return errors.New("disk full")
	}
	return r.Repository.InsertMails(ctx, mails)
}

type importFixture struct {
	svc        *ImportService
	repo       *store.Memory
	dispatcher *recordingDispatcher
	root       string
}

func newImportFixture(t *testing.T, batchSize int) *importFixture {
	t.Helper()
	root := t.TempDir()
	storage := attachment.NewStorage(root, attachment.NewExtractor(0, nil), nil)
	repo := store.NewMemory()
	dispatcher := &recordingDispatcher{}
	parser := archive.NewParser(nil, nil, storage, nil)
	return &importFixture{
		svc:        NewImportService(parser, repo, storage, dispatcher, batchSize, 0, nil, nil),
		repo:       repo,
		dispatcher: dispatcher,
		root:       root,
	}
}

func archiveJSON() string {
	notes := base64.StdEncoding.EncodeToString([]byte("hello quarterly notes"))
	return fmt.Sprintf(`[
		{"subject": "Budget", "from": "Ann Lee <ann@example.com>", "date": "2024-03-01", "body": "Numbers attached",
		 "attachments": [{"filename": "notes.txt", "content": %q, "mime_type": "text/plain"}]},
		{"subject": "", "body": "second message"},
		"not a message"
	]`, notes)
}

func TestImportJSONPersistsAndPlacesAttachments(t *testing.T) {
	f := newImportFixture(t, 100)

	res, err := f.svc.Import(context.Background(), "export.json", strings.NewReader(archiveJSON()), ImportOptions{SaveAttachments: true})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, "json", res.Format)
	assert.Equal(t, EnrichmentQueued, res.Enrichment)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "expected an object")

	mails, err := f.repo.ListMails(context.Background(), models.MailFilter{ImportID: res.ImportID})
	require.NoError(t, err)
	require.Len(t, mails, 2)
	assert.Equal(t, "(no subject)", mails[1].Subject)
	for _, m := range mails {
		assert.Equal(t, models.EnrichmentPending, m.EnrichmentStatus)
	}

	budget := mails[0]
	require.Len(t, budget.Attachments, 1)
	ref := budget.Attachments[0]
	assert.Equal(t, "notes.txt", ref.OriginalName)
	assert.Equal(t, attachment.MailFolder(budget.ID)+"/"+ref.StoredName, ref.RelativePath)
	assert.Contains(t, ref.ExtractedText, "quarterly notes")

	data, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(ref.RelativePath)))
	require.NoError(t, err)
	assert.Equal(t, "hello quarterly notes", string(data))

	_, err = os.Stat(filepath.Join(f.root, ".staging", res.ImportID))
	assert.True(t, os.IsNotExist(err))

	require.Len(t, f.dispatcher.batches, 1)
	assert.ElementsMatch(t, []string{mails[0].ID, mails[1].ID}, f.dispatcher.batches[0])
}

func TestImportDryRunPersistsNothing(t *testing.T) {
	f := newImportFixture(t, 100)

	res, err := f.svc.Import(context.Background(), "export.json", strings.NewReader(archiveJSON()), ImportOptions{SaveAttachments: true, DryRun: true})
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Equal(t, 2, res.Imported)
	require.Len(t, res.Preview, 2)
	assert.Equal(t, "Budget", res.Preview[0].Subject)
	assert.Empty(t, res.Preview[0].Attachments)
	assert.Equal(t, EnrichmentDisabled, res.Enrichment)

	n, err := f.repo.CountMails(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.dispatcher.batches)

	_, err = os.Stat(filepath.Join(f.root, ".staging"))
	assert.True(t, os.IsNotExist(err))
}

func TestImportRejectsStructuralFailures(t *testing.T) {
	f := newImportFixture(t, 100)
	ctx := context.Background()

	_, err := f.svc.Import(ctx, "mailbox.pst", strings.NewReader("x"), ImportOptions{})
	assert.True(t, errors.Is(err, archive.ErrUnsupportedFormat))

	_, err = f.svc.Import(ctx, "empty.json", strings.NewReader("[]"), ImportOptions{})
	assert.True(t, errors.Is(err, archive.ErrEmptyArchive))

	_, err = f.svc.Import(ctx, "broken.msg", strings.NewReader("definitely not a compound file"), ImportOptions{})
	assert.True(t, errors.Is(err, archive.ErrOpenArchive))
}

func TestImportKeepsCommittedBatchesWhenOneFails(t *testing.T) {
	f := newImportFixture(t, 1)
	repo := &failingRepo{Repository: f.repo, failOn: map[int]bool{2: true}}
	f.svc.repo = repo

	payload := `[{"subject": "one", "body": "a"}, {"subject": "two", "body": "b"}, {"subject": "three", "body": "c"}]`
	res, err := f.svc.Import(context.Background(), "three.json", strings.NewReader(payload), ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Imported)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "batch 1-1")
	assert.Contains(t, res.Errors[0], "disk full")

	mails, err := f.repo.ListMails(context.Background(), models.MailFilter{})
	require.NoError(t, err)
	require.Len(t, mails, 2)
	assert.Equal(t, "one", mails[0].Subject)
	assert.Equal(t, "three", mails[1].Subject)
}

func TestImportDispatchFailureStillSucceeds(t *testing.T) {
	f := newImportFixture(t, 100)
	f.dispatcher.err = errors.New("redis down")

	res, err := f.svc.Import(context.Background(), "one.json", strings.NewReader(`{"subject": "hi", "body": "there"}`), ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, EnrichmentDisabled, res.Enrichment)
}
