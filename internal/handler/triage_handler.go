package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/recall/internal/event"
	"github.com/xxxsen/recall/internal/model"
	"github.com/xxxsen/recall/internal/pkg/errcode"
	"github.com/xxxsen/recall/internal/pkg/response"
	"github.com/xxxsen/recall/internal/service"
)

type TriageHandler struct {
	triage *service.TriageService
	hub    *event.Hub
}

func NewTriageHandler(triage *service.TriageService, hub *event.Hub) *TriageHandler {
	return &TriageHandler{triage: triage, hub: hub}
}

type syncRequest struct {
	Candidates []model.RawCandidate `json:"candidates"`
}

func (h *TriageHandler) Sync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	res, err := h.triage.SyncAndEnrich(c.Request.Context(), getOwnerID(c), req.Candidates)
	if err != nil {
		logRequestError(c, "sync failed", err)
		response.Error(c, errcode.ErrSyncFailed, "sync failed")
		return
	}
	response.Success(c, res)
}

func (h *TriageHandler) List(c *gin.Context) {
	list, err := h.triage.ListCandidates(c.Request.Context(), getOwnerID(c), c.Query("status"), queryInt(c, "offset"), queryInt(c, "limit"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"candidates": list})
}

func (h *TriageHandler) Get(c *gin.Context) {
	rec, err := h.triage.GetCandidate(c.Request.Context(), getOwnerID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, rec)
}

func (h *TriageHandler) Status(c *gin.Context) {
	st, err := h.triage.Status(c.Request.Context(), getOwnerID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, st)
}

func (h *TriageHandler) Cancel(c *gin.Context) {
	response.Success(c, gin.H{"cancelled": h.triage.Cancel(getOwnerID(c))})
}

// Events streams the owner's enrichment progress until the client leaves.
func (h *TriageHandler) Events(c *gin.Context) {
	ownerID := getOwnerID(c)
	ch, cancel := h.hub.Subscribe(ownerID)
	defer cancel()
	logger := logutil.GetLogger(c.Request.Context()).With(zap.String("owner_id", ownerID))
	logger.Debug("event stream opened")
	response.Stream(c, ch, func(ev event.Event) (string, interface{}) {
		return ev.Name, ev
	})
	logger.Debug("event stream closed")
}
