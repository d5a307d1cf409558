package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/recall/internal/pkg/response"
	"github.com/xxxsen/recall/internal/service"
)

type OwnerHandler struct {
	owners *service.OwnerService
}

func NewOwnerHandler(owners *service.OwnerService) *OwnerHandler {
	return &OwnerHandler{owners: owners}
}

func (h *OwnerHandler) DeleteData(c *gin.Context) {
	if err := h.owners.DeleteOwnerData(c.Request.Context(), getOwnerID(c)); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}
