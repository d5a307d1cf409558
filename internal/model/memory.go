package model

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type MemoryRecord struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	ThreadID    string    `json:"thread_id"`
	ThreadTitle string    `json:"thread_title"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Embedding   []float32 `json:"embedding,omitempty"`
	TokenCount  int       `json:"token_count"`
	Chunked     bool      `json:"chunked"`
	CreatedAt   int64     `json:"created_at"`
}

func IsValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}
