package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnmate-go/internal/config"
	"learnmate-go/internal/engine"
	"learnmate-go/internal/model"
	"learnmate-go/pkg/llm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSearcher struct {
	hits []model.SearchHit
}

func (f *fakeSearcher) Search(ctx context.Context, scope model.Scope, queryText string, k int) ([]model.SearchHit, error) {
	return f.hits, nil
}

type fakeSessions struct{}

func (fakeSessions) History(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error) {
	return nil, nil
}
func (fakeSessions) Append(ctx context.Context, sessionID string, messages ...model.ChatMessage) error {
	return nil
}
func (fakeSessions) Reset(ctx context.Context, sessionID string) error { return nil }

type fakeChat struct{ answer string }

func (f fakeChat) Chat(ctx context.Context, messages []llm.Message, params *llm.GenerationParams) (string, error) {
	return f.answer, nil
}
func (f fakeChat) StreamChat(ctx context.Context, messages []llm.Message, params *llm.GenerationParams, writer llm.MessageWriter) error {
	return writer.WriteMessage(1, []byte(f.answer))
}

func testEngine(hits []model.SearchHit) *engine.Engine {
	return engine.New(fakeChat{answer: "an answer"}, &fakeSearcher{hits: hits}, fakeSessions{}, config.QueryConfig{
		TopK: 3, TopKPersonal: 2, TopKGlobal: 2,
		RetrievalTimeoutSec: 5, RetrievalWorkers: 2, HistoryLimit: 10,
	})
}

func newRouter(h *RAGHandler) *gin.Engine {
	r := gin.New()
	r.POST("/api/v1/rag/ingest", h.Ingest)
	r.POST("/api/v1/rag/query", h.Query)
	r.GET("/api/v1/rag/context", h.Context)
	r.GET("/api/v1/rag/supported-types", h.SupportedTypes)
	r.POST("/api/v1/rag/session/reset", h.ResetSession)
	return r
}

func TestQuery_Success(t *testing.T) {
	hits := []model.SearchHit{{Entry: model.IndexEntry{Text: "a fact", FileName: "f.txt"}, Score: 0.9}}
	h := NewRAGHandler(nil, testEngine(hits), nil)
	r := newRouter(h)

	body := `{"question":"what?","session_id":"s1"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/rag/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var res model.QueryResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, "an answer", res.Answer)
	assert.True(t, res.HasContext)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "a fact", res.Sources[0].Content)
}

func TestQuery_MissingQuestion(t *testing.T) {
	h := NewRAGHandler(nil, testEngine(nil), nil)
	r := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/rag/query", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuery_BadScope(t *testing.T) {
	h := NewRAGHandler(nil, testEngine(nil), nil)
	r := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/rag/query", strings.NewReader(`{"question":"q","scope":"tenant:1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContext_Endpoint(t *testing.T) {
	hits := []model.SearchHit{{Entry: model.IndexEntry{Text: "ctx passage"}, Score: 0.8}}
	h := NewRAGHandler(nil, testEngine(hits), nil)
	r := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/rag/context?query=hello&scope=user:u1", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ctx passage")
}

func TestContext_RequiresQuery(t *testing.T) {
	h := NewRAGHandler(nil, testEngine(nil), nil)
	r := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/rag/context", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSupportedTypes(t *testing.T) {
	h := NewRAGHandler(nil, testEngine(nil), nil)
	r := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/rag/supported-types", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	for _, f := range model.SupportedFormats() {
		assert.Contains(t, w.Body.String(), string(f))
	}
}

func TestResetSession_RequiresSessionID(t *testing.T) {
	h := NewRAGHandler(nil, testEngine(nil), nil)
	r := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/rag/session/reset", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResetSession_OK(t *testing.T) {
	h := NewRAGHandler(nil, testEngine(nil), nil)
	r := newRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/rag/session/reset", strings.NewReader(`{"session_id":"s1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIngest_RequiresFile(t *testing.T) {
	h := NewRAGHandler(nil, testEngine(nil), nil)
	r := newRouter(h)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("scope", "global"))
	require.NoError(t, mw.Close())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/rag/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngest_RejectsBadScope(t *testing.T) {
	h := NewRAGHandler(nil, testEngine(nil), nil)
	r := newRouter(h)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "a.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("content"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/rag/ingest?scope=bogus", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngest_AsyncWithoutProducer(t *testing.T) {
	h := NewRAGHandler(nil, testEngine(nil), nil)
	r := newRouter(h)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "a.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("content"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/rag/ingest?async=true", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
