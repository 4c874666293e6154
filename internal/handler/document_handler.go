package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"learnmate-go/internal/index"
	"learnmate-go/internal/model"
	"learnmate-go/pkg/log"
)

// DocumentHandler exposes document management over HTTP.
type DocumentHandler struct {
	indexer *index.Indexer
}

// NewDocumentHandler creates a DocumentHandler.
func NewDocumentHandler(indexer *index.Indexer) *DocumentHandler {
	return &DocumentHandler{indexer: indexer}
}

// Delete removes a document and all its chunks from one scope.
func (h *DocumentHandler) Delete(c *gin.Context) {
	docID := c.Param("docId")
	scope, ok := scopeFromRequest(c)
	if !ok {
		return
	}

	log.Infof("[DocumentHandler] delete request, doc: %s, scope: %s", docID, scope)
	if err := h.indexer.Remove(c.Request.Context(), scope, docID); err != nil {
		if errors.Is(err, index.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": model.StatusError, "message": "document not indexed in scope"})
			return
		}
		log.Errorf("[DocumentHandler] delete failed, doc: %s, scope: %s: %v", docID, scope, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": model.StatusError, "message": "failed to delete document"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": model.StatusSuccess, "doc_id": docID})
}

// Get reports a document's registry entry in one scope.
func (h *DocumentHandler) Get(c *gin.Context) {
	docID := c.Param("docId")
	scope, ok := scopeFromRequest(c)
	if !ok {
		return
	}

	rec, err := h.indexer.Lookup(c.Request.Context(), scope, docID)
	if err != nil || rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"status": model.StatusError, "message": "document not indexed in scope"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      model.StatusSuccess,
		"doc_id":      rec.DocHash,
		"file_name":   rec.FileName,
		"format":      rec.Format,
		"scope":       rec.Scope,
		"chunk_count": rec.ChunkCount,
	})
}
