package models

// SearchHit is computed per query and never persisted.
type SearchHit struct {
	MailID  string  `json:"mail_id"`
	Subject string  `json:"subject"`
	Score   float64 `json:"score"`
	Sender  string  `json:"sender"`
	Date    string  `json:"date"`
	Body    string  `json:"body"`
	Snippet string  `json:"snippet"`
}

type SemanticSearchRequest struct {
	Query string `json:"query" binding:"required,min=1,max=2000"`
	TopK  int    `json:"top_k"`
}

type SearchResponse struct {
	Query   string      `json:"query"`
	Method  string      `json:"method"`
	Results []SearchHit `json:"results"`
}
