package models

import (
	"time"
)

// Importance levels carried over from the source archive
const (
	ImportanceHigh   = "high"
	ImportanceNormal = "normal"
	ImportanceLow    = "low"
)

// Enrichment status values
const (
	EnrichmentPending      = "pending"
	EnrichmentDone         = "done"
	EnrichmentUnclassified = "unclassified"
)

// NoSubject is stored when the source message has an empty subject.
const NoSubject = "(no subject)"

// Mail is one normalized message produced by ingestion. It is written once and
// only the classification and enrichment fields change afterwards.
type Mail struct {
	ID          string          `bson:"_id,omitempty" json:"id"`
	ImportID    string          `bson:"import_id" json:"import_id"`
	Subject     string          `bson:"subject" json:"subject"`
	Sender      string          `bson:"sender" json:"sender"`
	To          string          `bson:"to,omitempty" json:"to,omitempty"`
	Cc          string          `bson:"cc,omitempty" json:"cc,omitempty"`
	Date        string          `bson:"date" json:"date"` // Source-format timestamp, not reparsed
	Body        string          `bson:"body" json:"body"`
	Importance  string          `bson:"importance" json:"importance"`
	Label       string          `bson:"label" json:"label"`
	Attachments []AttachmentRef `bson:"attachments" json:"attachments"`

	Classification   string    `bson:"classification,omitempty" json:"classification,omitempty"`
	Confidence       string    `bson:"confidence,omitempty" json:"confidence,omitempty"`
	EnrichmentStatus string    `bson:"enrichment_status" json:"enrichment_status"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`

	// StagingKey links a parsed mail to its staged attachment folder until the
	// repository assigns an ID. Never persisted.
	StagingKey string `bson:"-" json:"-"`
}

// AttachmentRef describes one stored attachment of a Mail.
type AttachmentRef struct {
	OriginalName  string `bson:"original_name" json:"original_name"`
	StoredName    string `bson:"stored_name" json:"stored_name"`
	RelativePath  string `bson:"relative_path" json:"relative_path"`
	Size          int64  `bson:"size" json:"size"`
	MimeType      string `bson:"mime_type,omitempty" json:"mime_type,omitempty"`
	ExtractedText string `bson:"extracted_text,omitempty" json:"extracted_text,omitempty"`
}

// AttachmentText joins the extracted text of every attachment.
func (m *Mail) AttachmentText() string {
	var out []byte
	for _, a := range m.Attachments {
		if a.ExtractedText == "" {
			continue
		}
		if len(out) > 0 {
			out = append(out, '\n')
		}
		out = append(out, a.ExtractedText...)
	}
	return string(out)
}

// MailFilter narrows ListMails.
type MailFilter struct {
	ImportID         string
	EnrichmentStatus string
	IDs              []string
	Limit            int
}
