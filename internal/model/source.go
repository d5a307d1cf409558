package model

type Source struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	ExternalID  string `json:"external_id"`
	Name        string `json:"name"`
	Language    string `json:"language"`
	ContentHash string `json:"content_hash"`
	ArchiveKey  string `json:"archive_key"`
	ChunkCount  int    `json:"chunk_count"`
	Mtime       int64  `json:"mtime"`
}

// RawUnit is one document handed to ingest.
type RawUnit struct {
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
}
