package models

import "time"

// ImportResult is returned to the caller as soon as ingestion completes.
// Enrichment continues in the background.
type ImportResult struct {
	ImportID   string        `json:"import_id"`
	FileName   string        `json:"file_name"`
	Format     string        `json:"format"`
	Imported   int           `json:"imported"`
	Errors     []string      `json:"errors"`
	DryRun     bool          `json:"dry_run"`
	Preview    []Mail        `json:"preview,omitempty"`
	Duration   time.Duration `json:"duration"`
	Enrichment string        `json:"enrichment"` // queued, background or disabled
}
