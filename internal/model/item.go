package model

const (
	OriginSemantic = "semantic"
	OriginRecent   = "recent"
	OriginKeyword  = "keyword"
)

// Item is a retrieval result, either a memory record or a document chunk.
type Item struct {
	ID         string  `json:"id"`
	SourceID   string  `json:"source_id"`
	Kind       string  `json:"kind"`
	Role       string  `json:"role,omitempty"`
	Content    string  `json:"content"`
	TokenCount int     `json:"token_count"`
	StartLine  int     `json:"start_line,omitempty"`
	EndLine    int     `json:"end_line,omitempty"`
	CreatedAt  int64   `json:"created_at"`
	Score      float64 `json:"score"`
	Origin     string  `json:"origin"`
}

type Match struct {
	Item     Item
	Distance float64
}

func (m Match) Similarity() float64 {
	return 1 - m.Distance
}
