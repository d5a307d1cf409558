package model

// CachedEmbedding is one memoized provider answer. ContentHash is the hex
// sha256 of the embedded text; CreatedAt is unix seconds.
type CachedEmbedding struct {
	Model       string    `json:"model"`
	Task        string    `json:"task"`
	ContentHash string    `json:"content_hash"`
	Vector      []float32 `json:"vector"`
	CreatedAt   int64     `json:"created_at"`
}
