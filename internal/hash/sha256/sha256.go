// Package sha256 computes the dedup digest of result texts.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements collector.Hasher using SHA-256. Indexing the full result
// text is infeasible, so the hex digest stands in for it in the uniqueness
// constraint.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of the text. An empty text yields ok=false:
// a record without a result carries no hash.
func (Hasher) Hash(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:]), true
}
