package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"mail-archive-search/internal/archive"
	"mail-archive-search/internal/attachment"
	"mail-archive-search/internal/logger"
	"mail-archive-search/internal/store"
	"mail-archive-search/internal/telemetry"
	"mail-archive-search/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultBatchSize = 100
	previewLimit     = 20
)

// Enrichment modes reported in ImportResult.Enrichment
const (
	EnrichmentQueued     = "queued"
	EnrichmentBackground = "background"
	EnrichmentDisabled   = "disabled"
)

// Source is an uploaded or opened archive. Compound documents need random access.
type Source interface {
	io.Reader
	io.ReaderAt
}

// EnrichmentDispatcher hands freshly imported mails to enrichment and reports
// the mode it used.
type EnrichmentDispatcher interface {
	Dispatch(ctx context.Context, importID string, ids []string) (string, error)
}

type ImportOptions struct {
	SaveAttachments bool
	DryRun          bool
}

// ImportService runs the synchronous half of an import: parse, persist in
// batches, move staged attachments into place and hand off to enrichment.
type ImportService struct {
	parser     *archive.Parser
	repo       store.Repository
	storage    *attachment.Storage
	dispatcher EnrichmentDispatcher
	batchSize  int
	maxDepth   int
	metrics    *telemetry.Metrics
	log        *slog.Logger
}

func NewImportService(parser *archive.Parser, repo store.Repository, storage *attachment.Storage, dispatcher EnrichmentDispatcher, batchSize, maxDepth int, metrics *telemetry.Metrics, log *slog.Logger) *ImportService {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &ImportService{
		parser:     parser,
		repo:       repo,
		storage:    storage,
		dispatcher: dispatcher,
		batchSize:  batchSize,
		maxDepth:   maxDepth,
		metrics:    metrics,
		log:        logger.OrDefault(log),
	}
}

// Import parses src (named name, whose extension selects the format) and
// stores its messages. Structural failures (unsupported format, unreadable
// container, empty archive) are returned as errors; per-entry failures are
// listed in the result beside the imported count.
func (s *ImportService) Import(ctx context.Context, name string, src Source, opts ImportOptions) (*models.ImportResult, error) {
	ctx, span := otel.Tracer("import-service").Start(ctx, "import")
	defer span.End()
	span.SetAttributes(attribute.String("archive.name", name), attribute.Bool("archive.dry_run", opts.DryRun))

	started := time.Now()
	format, err := archive.DetectFormat(name)
	if err != nil {
		return nil, err
	}

	importID := uuid.NewString()
	parseOpts := archive.Options{
		SaveAttachments: opts.SaveAttachments && !opts.DryRun && s.storage != nil,
		ImportID:        importID,
		Label:           name,
		MaxDepth:        s.maxDepth,
	}
	if parseOpts.SaveAttachments {
		defer func() {
			if err := s.storage.CleanupImport(importID); err != nil {
				s.log.Warn("Failed to clean attachment staging", "import_id", importID, "error", err)
			}
		}()
	}

	var res archive.Result
	switch format {
	case archive.FormatJSON:
		res = s.parser.ParseJSON(ctx, src, parseOpts)
	default:
		res = s.parser.Parse(ctx, src, parseOpts)
	}
	if err := res.Check(); err != nil {
		s.metrics.RecordImport(string(format), "failed", 0, len(res.Errors), time.Since(started).Seconds())
		return nil, err
	}

	result := &models.ImportResult{
		ImportID: importID,
		FileName: name,
		Format:   string(format),
		Errors:   append([]string{}, res.Errors...),
		DryRun:   opts.DryRun,
	}

	if opts.DryRun {
		result.Imported = len(res.Messages)
		for i, m := range res.Messages {
			if i == previewLimit {
				break
			}
			result.Preview = append(result.Preview, *m)
		}
		result.Enrichment = EnrichmentDisabled
		result.Duration = time.Since(started)
		return result, nil
	}

	ids := s.persist(ctx, importID, res.Messages, result)
	result.Imported = len(ids)

	status := "ok"
	if len(result.Errors) > 0 {
		status = "partial"
	}
	s.metrics.RecordImport(string(format), status, result.Imported, len(result.Errors), time.Since(started).Seconds())
	span.SetAttributes(attribute.Int("archive.imported", result.Imported), attribute.Int("archive.errors", len(result.Errors)))

	result.Enrichment = EnrichmentDisabled
	if len(ids) > 0 && s.dispatcher != nil {
		mode, err := s.dispatcher.Dispatch(ctx, importID, ids)
		if err != nil {
			s.log.Error("Failed to schedule enrichment", "import_id", importID, "error", err)
		} else {
			result.Enrichment = mode
		}
	}

	result.Duration = time.Since(started)
	s.log.Info("Import finished",
		"import_id", importID,
		"file", name,
		"format", format,
		"imported", result.Imported,
		"errors", len(result.Errors),
		"enrichment", result.Enrichment,
	)
	return result, nil
}

// persist writes mails batch by batch. A failed batch is reported and skipped;
// the batches before it stay committed.
func (s *ImportService) persist(ctx context.Context, importID string, mails []*models.Mail, result *models.ImportResult) []string {
	ids := make([]string, 0, len(mails))

	for start := 0; start < len(mails); start += s.batchSize {
		end := start + s.batchSize
		if end > len(mails) {
			end = len(mails)
		}
		batch := mails[start:end]

		for _, m := range batch {
			m.ImportID = importID
			m.EnrichmentStatus = models.EnrichmentPending
		}

		if err := s.repo.InsertMails(ctx, batch); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("batch %d-%d: %v", start, end-1, err))
			for _, m := range batch {
				m.ID = ""
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			continue
		}

		for _, m := range batch {
			ids = append(ids, m.ID)
			s.placeAttachments(ctx, importID, m, result)
		}
	}
	return ids
}

// placeAttachments moves staged files into the mail's folder now that it has an ID.
func (s *ImportService) placeAttachments(ctx context.Context, importID string, m *models.Mail, result *models.ImportResult) {
	if s.storage == nil || m.StagingKey == "" || len(m.Attachments) == 0 {
		return
	}

	refs, err := s.storage.Reconcile(importID, m.StagingKey, m.ID, m.Attachments)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("mail %s attachments: %v", m.ID, err))
		return
	}
	if err := s.repo.UpdateAttachments(ctx, m.ID, refs); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("mail %s attachments: %v", m.ID, err))
		return
	}
	m.Attachments = refs
}
