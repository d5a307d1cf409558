package model

const (
	CandidateStatusPending   = "pending"
	CandidateStatusAnalyzing = "analyzing"
	CandidateStatusAnalyzed  = "analyzed"
	CandidateStatusFailed    = "failed"
)

type CandidateRecord struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	ExternalID      string          `json:"external_id"`
	Subject         string          `json:"subject"`
	Body            string          `json:"body"`
	Embedding       []float32       `json:"-"`
	SimilarityScore float64         `json:"similarity_score"`
	Likely          bool            `json:"likely"`
	Status          string          `json:"status"`
	Analysis        *AnalysisResult `json:"analysis,omitempty"`
	Error           string          `json:"error,omitempty"`
	ReceivedAt      int64           `json:"received_at"`
	LastSeenAt      int64           `json:"last_seen_at"`
	AnalyzedAt      int64           `json:"analyzed_at,omitempty"`
}

func (c *CandidateRecord) Analyzed() bool {
	return c.Status == CandidateStatusAnalyzed
}

// RawCandidate is one entry of a bulk sync request.
type RawCandidate struct {
	ExternalID string `json:"external_id"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Timestamp  int64  `json:"timestamp"`
}

type SyncCursor struct {
	OwnerID    string `json:"owner_id"`
	LastSyncAt int64  `json:"last_sync_at"`
}
