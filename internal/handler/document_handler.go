package handler

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/recall/internal/model"
	"github.com/xxxsen/recall/internal/pkg/errcode"
	"github.com/xxxsen/recall/internal/pkg/response"
	"github.com/xxxsen/recall/internal/retrieval"
	"github.com/xxxsen/recall/internal/service"
)

type DocumentHandler struct {
	ingest        *service.IngestService
	maxUploadSize int64
}

func NewDocumentHandler(ingest *service.IngestService, maxUploadSize int64) *DocumentHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxUploadSize
	}
	return &DocumentHandler{ingest: ingest, maxUploadSize: maxUploadSize}
}

type ingestRequest struct {
	Units []model.RawUnit `json:"units"`
}

func (h *DocumentHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if len(req.Units) == 0 {
		response.Error(c, errcode.ErrInvalid, "units required")
		return
	}
	res, err := h.ingest.Ingest(c.Request.Context(), getOwnerID(c), req.Units)
	if err != nil {
		logRequestError(c, "ingest failed", err)
		response.Error(c, errcode.ErrIngestFailed, "ingest failed")
		return
	}
	response.Success(c, res)
}

// Upload ingests one multipart file. The external id defaults to the file
// name so re-uploading the same file replaces its chunks.
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if file.Size > h.maxUploadSize {
		response.Error(c, errcode.ErrInvalidFile, "file too large (max "+formatUploadLimit(h.maxUploadSize)+")")
		return
	}
	data, err := readUpload(file, h.maxUploadSize)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			response.Error(c, errcode.ErrInvalidFile, "file too large (max "+formatUploadLimit(h.maxUploadSize)+")")
			return
		}
		response.Error(c, errcode.ErrInvalidFile, "failed to read file")
		return
	}
	name := filepath.Base(file.Filename)
	externalID := c.PostForm("external_id")
	if externalID == "" {
		externalID = name
	}
	res, err := h.ingest.Ingest(c.Request.Context(), getOwnerID(c), []model.RawUnit{{
		ExternalID: externalID,
		Title:      name,
		Content:    string(data),
		Timestamp:  time.Now().UnixMilli(),
	}})
	if err != nil {
		logRequestError(c, "ingest failed", err)
		response.Error(c, errcode.ErrIngestFailed, "ingest failed")
		return
	}
	response.Success(c, res)
}

func (h *DocumentHandler) List(c *gin.Context) {
	sources, err := h.ingest.ListSources(c.Request.Context(), getOwnerID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"sources": sources})
}

func (h *DocumentHandler) Reindex(c *gin.Context) {
	src, err := h.ingest.Reindex(c.Request.Context(), getOwnerID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, src)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.ingest.DeleteSource(c.Request.Context(), getOwnerID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

type searchRequest struct {
	Query         string  `json:"query"`
	Limit         int     `json:"limit"`
	TokenBudget   int     `json:"token_budget"`
	MinSimilarity float64 `json:"min_similarity"`
}

func (h *DocumentHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	items, err := h.ingest.Search(c.Request.Context(), getOwnerID(c), req.Query, retrieval.Options{
		Limit:         req.Limit,
		TokenBudget:   req.TokenBudget,
		MinSimilarity: req.MinSimilarity,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"items": items})
}
