package routes

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mail-archive-search/internal/ai"
	"mail-archive-search/internal/archive"
	"mail-archive-search/internal/attachment"
	"mail-archive-search/internal/auth"
	"mail-archive-search/internal/config"
	"mail-archive-search/internal/search"
	"mail-archive-search/internal/store"
	"mail-archive-search/middleware"
	"mail-archive-search/models"
	"mail-archive-search/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type constEmbedder struct{}

func (constEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type testServer struct {
	router *gin.Engine
	repo   *store.Memory
}

func newTestServer(t *testing.T, secret string, embedder search.Embedder) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{Pipeline: config.DefaultPipeline()}
	repo := store.NewMemory()
	storage := attachment.NewStorage(t.TempDir(), attachment.NewExtractor(0, nil), nil)
	parser := archive.NewParser(nil, nil, storage, nil)
	vector := search.NewVector(repo, embedder, search.VectorOptions{}, nil)
	llm := ai.Disabled{Dims: 3}

	deps := &Deps{
		Config:  cfg,
		Repo:    repo,
		Storage: storage,
		Imports: services.NewImportService(parser, repo, storage, services.DisabledDispatcher{}, 100, 0, nil, nil),
		Search:  services.NewSearchService(search.NewLexical(repo, 0, nil), vector, repo, nil, nil),
		Chat:    services.NewChatService(vector, llm, nil, nil),
		LLM:     llm,
	}

	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	SetupRoutes(router, deps, middleware.NewAuthMiddleware(secret, nil), nil)
	return &testServer{router: router, repo: repo}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func sampleArchive() string {
	notes := base64.StdEncoding.EncodeToString([]byte("agenda for the budget review"))
	return fmt.Sprintf(`[
		{"subject": "Budget review", "from": "Ann Lee <ann@example.com>", "date": "2024-03-01",
		 "body": "The budget review moves to Friday.",
		 "attachments": [{"filename": "agenda.txt", "content": %q, "mime_type": "text/plain"}]},
		{"subject": "Lunch", "from": "bob@example.com", "body": "Pizza on Thursday?"}
	]`, notes)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestImportSearchAndFetch(t *testing.T) {
	s := newTestServer(t, "", constEmbedder{})

	w := s.do(t, uploadRequest(t, "export.json", sampleArchive(), nil))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var result models.ImportResult
	decode(t, w, &result)
	assert.Equal(t, 2, result.Imported)
	assert.Empty(t, result.Errors)
	assert.Equal(t, services.EnrichmentDisabled, result.Enrichment)

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/search?q=budget&top_k=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.SearchResponse
	decode(t, w, &resp)
	assert.Equal(t, "lexical", resp.Method)
	require.Len(t, resp.Results, 1)
	hit := resp.Results[0]
	assert.Equal(t, "Budget review", hit.Subject)

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/mails/"+hit.MailID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Mail   models.Mail    `json:"mail"`
		Events []models.Event `json:"events"`
	}
	decode(t, w, &detail)
	assert.Contains(t, detail.Mail.Sender, "Ann Lee")
	assert.NotNil(t, detail.Events)
	require.Len(t, detail.Mail.Attachments, 1)

	ref := detail.Mail.Attachments[0]
	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/mails/"+hit.MailID+"/attachments/"+ref.StoredName, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "agenda for the budget review", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "agenda.txt")

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/mails/"+hit.MailID+"/attachments/other.txt", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImportDryRunStoresNothing(t *testing.T) {
	s := newTestServer(t, "", constEmbedder{})

	w := s.do(t, uploadRequest(t, "export.json", sampleArchive(), map[string]string{"dry_run": "true"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result models.ImportResult
	decode(t, w, &result)
	assert.True(t, result.DryRun)
	assert.Len(t, result.Preview, 2)

	n, err := s.repo.CountMails(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestImportRejections(t *testing.T) {
	s := newTestServer(t, "", constEmbedder{})

	w := s.do(t, uploadRequest(t, "notes.txt", "hello", nil))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = s.do(t, uploadRequest(t, "export.json", "[]", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, uploadRequest(t, "export.json", "[]", map[string]string{"dry_run": "maybe"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/imports", nil)
	w = s.do(t, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchValidation(t *testing.T) {
	s := newTestServer(t, "", constEmbedder{})

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/api/search", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/search?q=x&top_k=zero", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/mails/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSemanticSearchWithoutModel(t *testing.T) {
	s := newTestServer(t, "", ai.Disabled{Dims: 3})

	body := bytes.NewBufferString(`{"query": "budget"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/search/semantic", body)
	req.Header.Set("Content-Type", "application/json")
	w := s.do(t, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestChatWithEmptyCorpus(t *testing.T) {
	s := newTestServer(t, "", constEmbedder{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{"question": "When is the review?"}`))
	req.Header.Set("Content-Type", "application/json")
	w := s.do(t, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ChatResponse
	decode(t, w, &resp)
	assert.False(t, resp.Found)
	assert.Equal(t, services.NoInformationAnswer, resp.Answer)
	assert.Empty(t, resp.Sources)

	req = httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w = s.do(t, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventsAndCorpusReset(t *testing.T) {
	s := newTestServer(t, "", constEmbedder{})
	ctx := context.Background()

	mail := &models.Mail{Subject: "Kickoff", Body: "Kickoff on 2024-05-02"}
	require.NoError(t, s.repo.InsertMails(ctx, []*models.Mail{mail}))
	require.NoError(t, s.repo.InsertEvents(ctx, []models.Event{{MailID: mail.ID, Title: "Kickoff", Date: "2024-05-02", Source: models.EventSourceRegex}}))

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var events struct {
		Events []models.Event `json:"events"`
		Count  int            `json:"count"`
	}
	decode(t, w, &events)
	assert.Equal(t, 1, events.Count)

	w = s.do(t, httptest.NewRequest(http.MethodDelete, "/api/corpus", nil))
	require.Equal(t, http.StatusOK, w.Code)

	n, err := s.repo.CountMails(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "", constEmbedder{})

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "unavailable", body["llm"])
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestTokenScopes(t *testing.T) {
	s := newTestServer(t, testSecret, constEmbedder{})

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	readToken, _, err := auth.IssueToken(testSecret, "reader", auth.ScopeRead, time.Hour)
	require.NoError(t, err)
	writeToken, _, err := auth.IssueToken(testSecret, "writer", auth.ScopeWrite, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("Authorization", "Bearer "+readToken)
	assert.Equal(t, http.StatusOK, s.do(t, req).Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/corpus", nil)
	req.Header.Set("Authorization", "Bearer "+readToken)
	assert.Equal(t, http.StatusForbidden, s.do(t, req).Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/corpus", nil)
	req.Header.Set("Authorization", "Bearer "+writeToken)
	assert.Equal(t, http.StatusOK, s.do(t, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, s.do(t, req).Code)

	// Health stays open.
	assert.Equal(t, http.StatusOK, s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
}
