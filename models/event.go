package models

import "time"

const (
	EventSourceLLM   = "llm"
	EventSourceRegex = "regex"
)

// Event is a dated item (meeting, deadline) found in a mail body.
type Event struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	MailID    string    `bson:"mail_id" json:"mail_id"`
	Title     string    `bson:"title" json:"title"`
	Date      string    `bson:"date" json:"date"` // YYYY-MM-DD
	Time      string    `bson:"time,omitempty" json:"time,omitempty"`
	Location  string    `bson:"location,omitempty" json:"location,omitempty"`
	Source    string    `bson:"source" json:"source"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
