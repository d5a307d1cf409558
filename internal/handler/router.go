package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/recall/internal/middleware"
)

type RouterDeps struct {
	Memory    *MemoryHandler
	Documents *DocumentHandler
	Triage    *TriageHandler
	Owner     *OwnerHandler
	JWTSecret []byte
	SyncEvery time.Duration
	SyncBurst int
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))

	authGroup.POST("/memories", deps.Memory.Remember)
	authGroup.POST("/memories/recall", deps.Memory.Recall)
	authGroup.GET("/threads/:id", deps.Memory.Thread)
	authGroup.PUT("/threads/:id/title", deps.Memory.RenameThread)
	authGroup.DELETE("/threads/:id", deps.Memory.DeleteThread)

	authGroup.POST("/sources", deps.Documents.Ingest)
	authGroup.POST("/sources/upload", deps.Documents.Upload)
	authGroup.GET("/sources", deps.Documents.List)
	authGroup.POST("/sources/:id/reindex", deps.Documents.Reindex)
	authGroup.DELETE("/sources/:id", deps.Documents.Delete)
	authGroup.POST("/search", deps.Documents.Search)

	authGroup.POST("/triage/sync", middleware.RateLimit(deps.SyncEvery, deps.SyncBurst), deps.Triage.Sync)
	authGroup.GET("/triage/candidates", deps.Triage.List)
	authGroup.GET("/triage/candidates/:id", deps.Triage.Get)
	authGroup.GET("/triage/status", deps.Triage.Status)
	authGroup.POST("/triage/cancel", deps.Triage.Cancel)
	authGroup.GET("/triage/events", deps.Triage.Events)

	authGroup.DELETE("/owner/data", deps.Owner.DeleteData)
}
