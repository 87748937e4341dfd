// Package archive turns mailbox archives into normalized mail records. It reads
// Outlook compound documents (a single .msg or a container of folders holding
// messages) and flat JSON exports.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"mail-archive-search/internal/attachment"
	"mail-archive-search/internal/logger"
	"mail-archive-search/internal/sender"
	"mail-archive-search/internal/textnorm"
	"mail-archive-search/models"
)

var (
	ErrOpenArchive       = errors.New("failed to open archive")
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	ErrEmptyArchive      = errors.New("archive contains no messages")
)

// Format identifies an accepted input format.
type Format string

const (
	FormatCompound Format = "compound"
	FormatJSON     Format = "json"
)

const defaultMaxDepth = 64

// DetectFormat maps a file name to its input format by extension.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".msg", ".cfb":
		return FormatCompound, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

// Options control a single parse.
type Options struct {
	// SaveAttachments stages attachment content and extracts its text. Preview
	// imports leave it off.
	SaveAttachments bool
	// ImportID namespaces staged attachments.
	ImportID string
	// Label is used for messages outside any named folder, usually the file name.
	Label    string
	MaxDepth int
}

// Result holds the parsed messages and the per-entry errors collected on the way.
// Fatal is set only when the archive could not be opened at all.
type Result struct {
	Messages []*models.Mail
	Errors   []string
	Fatal    error
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func fatalResult(err error) Result {
	return Result{Errors: []string{err.Error()}, Fatal: err}
}

// Parser owns the collaborators used to normalize each entry.
type Parser struct {
	normalizer *textnorm.Normalizer
	resolver   *sender.Resolver
	storage    *attachment.Storage
	log        *slog.Logger
}

// NewParser wires a parser. storage may be nil when attachments are never saved.
func NewParser(normalizer *textnorm.Normalizer, resolver *sender.Resolver, storage *attachment.Storage, log *slog.Logger) *Parser {
	if normalizer == nil {
		normalizer = textnorm.NewNormalizer(nil)
	}
	if resolver == nil {
		resolver = sender.NewResolver()
	}
	return &Parser{
		normalizer: normalizer,
		resolver:   resolver,
		storage:    storage,
		log:        logger.OrDefault(log),
	}
}

// ParseFile opens path and parses it according to its extension. Unsupported
// extensions are rejected before the file is opened.
func (p *Parser) ParseFile(ctx context.Context, path string, opts Options) (Result, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return Result{}, err
	}
	if opts.Label == "" {
		opts.Label = filepath.Base(path)
	}

	f, err := os.Open(path)
	if err != nil {
		res := fatalResult(fmt.Errorf("%w: %v", ErrOpenArchive, err))
		return res, res.Fatal
	}
	defer f.Close()

	var res Result
	switch format {
	case FormatJSON:
		res = p.ParseJSON(ctx, f, opts)
	default:
		res = p.Parse(ctx, f, opts)
	}
	return res, res.Check()
}

// Check reports the structural failures a caller should surface: an archive
// that could not be opened, or one with nothing in it.
func (r Result) Check() error {
	if r.Fatal != nil {
		return r.Fatal
	}
	if len(r.Messages) == 0 && len(r.Errors) == 0 {
		return ErrEmptyArchive
	}
	return nil
}

func (p *Parser) canSaveAttachments(opts Options) bool {
	return opts.SaveAttachments && p.storage != nil
}

func maxDepth(opts Options) int {
	if opts.MaxDepth > 0 {
		return opts.MaxDepth
	}
	return defaultMaxDepth
}
