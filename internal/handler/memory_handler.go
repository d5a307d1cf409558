package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/recall/internal/pkg/errcode"
	"github.com/xxxsen/recall/internal/pkg/response"
	"github.com/xxxsen/recall/internal/retrieval"
	"github.com/xxxsen/recall/internal/service"
)

type MemoryHandler struct {
	memories *service.MemoryService
}

func NewMemoryHandler(memories *service.MemoryService) *MemoryHandler {
	return &MemoryHandler{memories: memories}
}

func (h *MemoryHandler) Remember(c *gin.Context) {
	var req service.RememberInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		response.Error(c, errcode.ErrInvalid, "content required")
		return
	}
	rec, err := h.memories.Remember(c.Request.Context(), getOwnerID(c), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, rec)
}

type recallRequest struct {
	Query         string  `json:"query"`
	SemanticLimit int     `json:"semantic_limit"`
	RecentLimit   int     `json:"recent_limit"`
	MinSimilarity float64 `json:"min_similarity"`
}

func (h *MemoryHandler) Recall(c *gin.Context) {
	var req recallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	items, err := h.memories.Recall(c.Request.Context(), getOwnerID(c), req.Query, retrieval.Options{
		SemanticLimit: req.SemanticLimit,
		RecentLimit:   req.RecentLimit,
		MinSimilarity: req.MinSimilarity,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"items": items})
}

func (h *MemoryHandler) Thread(c *gin.Context) {
	records, err := h.memories.ListThread(c.Request.Context(), getOwnerID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"records": records})
}

type renameRequest struct {
	Title string `json:"title"`
}

func (h *MemoryHandler) RenameThread(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if err := h.memories.RenameThread(c.Request.Context(), getOwnerID(c), c.Param("id"), req.Title); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *MemoryHandler) DeleteThread(c *gin.Context) {
	deleted, err := h.memories.DeleteThread(c.Request.Context(), getOwnerID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": deleted})
}
