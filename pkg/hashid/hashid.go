// Package hashid derives PeerID and ChunkHash values: the leading 20 bytes
// of a BLAKE3-256 digest, hex-encoded. Grounded on this lineage's
// pkg/content/cid.go, which builds its Content Identifiers the same way
// (blake3.Sum256 then a fixed-width truncation/encoding), adapted here to a
// plain hex ID with no multibase prefix since the wire format's sender
// field is a bare fixed-width byte string, not a self-describing CID.
package hashid

import (
	"crypto/rand"
	"encoding/hex"
	"io"

	"lukechampine.com/blake3"

	"github.com/WebFirstLanguage/lanbeacon/pkg/constants"
)

// ChunkHash returns the hex-encoded ChunkHash for data: the leading
// constants.ChunkHashSize bytes of its BLAKE3-256 digest.
func ChunkHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:constants.ChunkHashSize])
}

// NewChunkHasher returns a streaming hasher that produces a ChunkHash from
// bytes written incrementally, used by the download worker's rolling
// verifier so it never needs to buffer a whole chunk to check it.
func NewChunkHasher() *Hasher {
	return &Hasher{h: blake3.New(32, nil)}
}

// Hasher wraps a BLAKE3 hash.Hash to produce a truncated hex digest.
type Hasher struct {
	h *blake3.Hasher
}

func (c *Hasher) Write(p []byte) (int, error) { return c.h.Write(p) }

// Sum returns the hex-encoded ChunkHash of everything written so far.
func (c *Hasher) Sum() string {
	sum := c.h.Sum(nil)
	return hex.EncodeToString(sum[:constants.ChunkHashSize])
}

// NewPeerID generates a random PeerID: BLAKE3-256 of a fresh random nonce,
// truncated to constants.PeerIDSize bytes. Used once at first run; the
// result is then persisted by pkg/settings so the PeerID is stable across
// restarts (§3's "PeerID is stable for the lifetime of a remote process").
func NewPeerID() (string, error) {
	nonce := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sum := blake3.Sum256(nonce)
	return hex.EncodeToString(sum[:constants.PeerIDSize]), nil
}
