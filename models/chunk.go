package models

import "time"

// Chunk is a bounded slice of a mail's normalized text with its embedding.
// MailID is a weak reference used for display only.
type Chunk struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	MailID    string    `bson:"mail_id" json:"mail_id"`
	Subject   string    `bson:"subject" json:"subject"`
	Content   string    `bson:"content" json:"content"`
	Index     int       `bson:"index" json:"index"`
	Embedding []float32 `bson:"embedding" json:"-"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// ChunkHit is a chunk ranked by cosine similarity to a query.
type ChunkHit struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float64 `json:"similarity"`
}
