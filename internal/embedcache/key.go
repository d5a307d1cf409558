package embedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Key identifies one embedding: the same text embedded by another model or
// for another task type is a different entry.
type Key struct {
	Model string
	Task  string
	Hash  string
}

func NewKey(modelName, task, text string) Key {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	sum := sha256.Sum256([]byte(text))
	return Key{Model: modelName, Task: task, Hash: hex.EncodeToString(sum[:])}
}

func (k Key) String() string {
	return k.Model + "\x00" + k.Task + "\x00" + k.Hash
}

func cloneVector(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	out := make([]float32, len(values))
	copy(out, values)
	return out
}
