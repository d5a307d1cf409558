package model

const (
	ChunkKindParagraph = "paragraph"
	ChunkKindSentence  = "sentence"
	ChunkKindCodeNode  = "codeNode"
	ChunkKindTextBlock = "textBlock"
)

// Chunk parents share one table; ParentKind tells them apart.
const (
	ChunkParentSource = "source"
	ChunkParentMemory = "memory"
)

type Chunk struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	ParentID   string    `json:"parent_id"`
	ParentKind string    `json:"parent_kind"`
	Index      int       `json:"index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Kind       string    `json:"kind"`
	TokenCount int       `json:"token_count"`
	StartLine  int       `json:"start_line,omitempty"`
	EndLine    int       `json:"end_line,omitempty"`
	CreatedAt  int64     `json:"created_at"`
}
