package enrich

import "github.com/xxxsen/recall/internal/model"

const (
	EventItemStarted = "itemStarted"
	EventItemDone    = "itemDone"
	EventBatchDone   = "batchDone"
	EventBatchFailed = "batchFailed"
)

// Index is 1-based.
type ItemStarted struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
}

type ItemDone struct {
	ID       string                `json:"id"`
	Analysis *model.AnalysisResult `json:"analysis"`
	Index    int                   `json:"index"`
	Total    int                   `json:"total"`
}

type BatchDone struct {
	AnalyzedCount int `json:"analyzedCount"`
	Total         int `json:"total"`
}

type BatchFailed struct {
	Reason string `json:"reason"`
}
