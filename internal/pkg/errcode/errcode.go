package errcode

// Codes carried in the "code" field of every response body. 0 is success.
const (
	ErrUnknown = 10000000 + iota
	ErrUnauthorized
	ErrForbidden
	ErrNotFound
	ErrInvalid
	ErrConflict
	ErrTooMany
	ErrInternal
	ErrInvalidFile
	ErrIngestFailed
	ErrSyncFailed
	ErrAIUnavailable
)

var messages = map[int]string{
	ErrUnauthorized:  "unauthorized",
	ErrForbidden:     "forbidden",
	ErrNotFound:      "not found",
	ErrInvalid:       "invalid request",
	ErrConflict:      "conflict",
	ErrTooMany:       "too many requests",
	ErrInternal:      "internal error",
	ErrInvalidFile:   "invalid file",
	ErrIngestFailed:  "ingest failed",
	ErrSyncFailed:    "sync failed",
	ErrAIUnavailable: "ai provider unavailable",
}

// Message is the default client-facing text for code.
func Message(code int) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return "unknown error"
}
