// Package handler contains the HTTP controllers.
package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"learnmate-go/internal/engine"
	"learnmate-go/internal/extract"
	"learnmate-go/internal/model"
	"learnmate-go/internal/pipeline"
	"learnmate-go/pkg/kafka"
	"learnmate-go/pkg/log"
)

// maxUploadBytes caps the accepted document payload at 50 MiB.
const maxUploadBytes = 50 << 20

// RAGHandler exposes ingestion and query over HTTP.
type RAGHandler struct {
	orchestrator *pipeline.Orchestrator
	engine       *engine.Engine
	producer     *kafka.Producer
}

// NewRAGHandler creates a RAGHandler. producer may be nil when the task
// queue is disabled; async ingestion then reports an error.
func NewRAGHandler(orch *pipeline.Orchestrator, eng *engine.Engine, producer *kafka.Producer) *RAGHandler {
	return &RAGHandler{orchestrator: orch, engine: eng, producer: producer}
}

func scopeFromRequest(c *gin.Context) (model.Scope, bool) {
	raw := c.Query("scope")
	if raw == "" {
		raw = c.PostForm("scope")
	}
	scope, err := model.ParseScope(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": model.StatusError, "message": err.Error()})
		return "", false
	}
	return scope, true
}

// Ingest accepts a multipart document upload. With async=true the payload is
// staged and queued instead of processed inline.
func (h *RAGHandler) Ingest(c *gin.Context) {
	scope, ok := scopeFromRequest(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": model.StatusError, "message": "file field is required"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"status": model.StatusError, "message": "file too large"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		log.Errorf("[RAGHandler] open upload failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": model.StatusError, "message": "failed to read upload"})
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		log.Errorf("[RAGHandler] read upload failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": model.StatusError, "message": "failed to read upload"})
		return
	}

	log.Infof("[RAGHandler] ingest request, file: %s, size: %d, scope: %s, async: %s",
		fileHeader.Filename, len(raw), scope, c.Query("async"))

	if c.Query("async") == "true" {
		h.ingestAsync(c, raw, fileHeader.Filename, scope)
		return
	}

	result, err := h.orchestrator.Ingest(c.Request.Context(), pipeline.IngestRequest{
		Raw:      raw,
		FileName: fileHeader.Filename,
		Scope:    scope,
	})
	if err != nil {
		log.Errorf("[RAGHandler] ingest failed, file: %s: %v", fileHeader.Filename, err)
		c.JSON(ingestStatusCode(err), result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *RAGHandler) ingestAsync(c *gin.Context, raw []byte, fileName string, scope model.Scope) {
	if h.producer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": model.StatusError, "message": "async ingestion is not enabled"})
		return
	}
	task, err := h.orchestrator.Stage(c.Request.Context(), raw, fileName, scope)
	if err != nil {
		log.Errorf("[RAGHandler] staging failed, file: %s: %v", fileName, err)
		c.JSON(ingestStatusCode(err), gin.H{"status": model.StatusError, "message": err.Error()})
		return
	}
	if err := h.producer.ProduceIngestTask(c.Request.Context(), task); err != nil {
		log.Errorf("[RAGHandler] enqueue failed, task: %s: %v", task.TaskID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": model.StatusError, "message": "failed to enqueue task"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": model.StatusSuccess, "task_id": task.TaskID, "doc_id": task.DocHash})
}

func ingestStatusCode(err error) int {
	switch {
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, extract.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, extract.ErrExtractionFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type queryRequest struct {
	Question  string `json:"question" binding:"required"`
	SessionID string `json:"session_id"`
	Scope     string `json:"scope"`
}

// Query answers a question with retrieval-augmented synthesis.
func (h *RAGHandler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": model.StatusError, "message": "question is required"})
		return
	}
	scope, err := model.ParseScope(req.Scope)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": model.StatusError, "message": err.Error()})
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "anonymous"
	}

	log.Infof("[RAGHandler] query request, session: %s, scope: %s", sessionID, scope)
	result := h.engine.Answer(c.Request.Context(), req.Question, sessionID, scope)
	if result.Status == model.StatusError {
		c.JSON(http.StatusInternalServerError, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Context returns raw retrieval results without synthesis.
func (h *RAGHandler) Context(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": model.StatusError, "message": "query parameter is required"})
		return
	}
	scope, ok := scopeFromRequest(c)
	if !ok {
		return
	}
	k, err := strconv.Atoi(c.DefaultQuery("k", "0"))
	if err != nil || k < 0 {
		k = 0
	}

	sources, err := h.engine.Context(c.Request.Context(), query, scope, k)
	if err != nil {
		log.Errorf("[RAGHandler] context retrieval failed, scope: %s: %v", scope, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": model.StatusError, "message": "retrieval failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": model.StatusSuccess, "sources": sources})
}

// SupportedTypes lists the document formats ingestion accepts.
func (h *RAGHandler) SupportedTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": model.StatusSuccess, "formats": model.SupportedFormats()})
}

type resetRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// ResetSession clears one session's conversation history.
func (h *RAGHandler) ResetSession(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": model.StatusError, "message": "session_id is required"})
		return
	}
	if err := h.engine.ResetSession(c.Request.Context(), req.SessionID); err != nil {
		log.Errorf("[RAGHandler] session reset failed, session: %s: %v", req.SessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": model.StatusError, "message": "failed to reset session"})
		return
	}
	log.Infof("[RAGHandler] session reset, session: %s", req.SessionID)
	c.JSON(http.StatusOK, gin.H{"status": model.StatusSuccess})
}
