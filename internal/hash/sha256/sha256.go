// Package sha256 addresses stored page content by its SHA-256 digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ObjectPath shards a digest into <prefix>/<d[0:2]>/<digest><ext> so that no
// single directory or listing prefix grows unbounded.
func ObjectPath(prefix, digest, ext string) string {
	shard := digest
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return path.Join(prefix, shard, digest+ext)
}
