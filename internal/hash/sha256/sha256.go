// Package sha256 fingerprints published postings so consumers of a run's
// notification can check the object they download.
package sha256

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Hasher renders SHA-256 digests as lowercase hex.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher { return &Hasher{} }

// Hash digests an in-memory artifact.
func (h *Hasher) Hash(data []byte) (string, error) {
	return h.HashReader(bytes.NewReader(data))
}

// HashReader digests everything r yields.
func (*Hasher) HashReader(r io.Reader) (string, error) {
	d := sha256.New()
	if _, err := io.Copy(d, r); err != nil {
		return "", fmt.Errorf("digest artifact: %w", err)
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}
