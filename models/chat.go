package models

import "time"

type ChatRequest struct {
	Question string `json:"question" binding:"required,min=1,max=2000"`
	TopK     int    `json:"top_k"`
}

// ChatSource is a retrieved chunk cited by an answer.
type ChatSource struct {
	MailID     string  `json:"mail_id"`
	Subject    string  `json:"subject"`
	Similarity float64 `json:"similarity"`
}

type ChatResponse struct {
	Answer    string       `json:"answer"`
	Sources   []ChatSource `json:"sources"`
	Found     bool         `json:"found"`
	Timestamp time.Time    `json:"timestamp"`
}
