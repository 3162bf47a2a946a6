// Package catalog is the local view of chunks this node can serve, keyed
// by content hash (§3, §4.E of SPEC_FULL.md). It answers "do I have chunk
// H?" in O(1) for the upload engine, the discovery transport's beacon
// interest-matching, and the download engine's skip-if-already-present
// check. Mutation is restricted to the download engine's completion
// callback and the file manager's rescan notifications.
package catalog

import "sync"

// Handle is an opaque reference the file manager hands back for a chunk;
// the catalog never interprets it, only stores and returns it.
type Handle struct {
	FileKey string // owning file identity, opaque to the catalog
	Index   int    // chunk index within the file
	Size    uint64 // total chunk size in bytes
}

// Catalog maps a ChunkHash (hex-encoded) to the local Handle that can serve
// it.
type Catalog struct {
	mu     sync.RWMutex
	chunks map[string]Handle
}

// New creates an empty Catalog.
func New() *Catalog {
	return &Catalog{chunks: make(map[string]Handle)}
}

// Has reports whether hash is locally available.
func (c *Catalog) Has(hash string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.chunks[hash]
	return ok
}

// Lookup returns the Handle for hash, if present.
func (c *Catalog) Lookup(hash string) (Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.chunks[hash]
	return h, ok
}

// Publish records hash as locally available. Called by the download engine
// after a chunk passes hash verification, and by the file manager after a
// rescan discovers a chunk already on disk.
func (c *Catalog) Publish(hash string, h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks[hash] = h
}

// Remove drops hash from the catalog (e.g. the backing file was deleted).
func (c *Catalog) Remove(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.chunks, hash)
}

// MatchInterest returns the subset of candidate hashes this node owns, used
// by the discovery transport to answer an IMAlive beacon's interest sample
// with ChunkOwned replies (§4.C).
func (c *Catalog) MatchInterest(candidates []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var owned []string
	for _, h := range candidates {
		if _, ok := c.chunks[h]; ok {
			owned = append(owned, h)
		}
	}
	return owned
}

// Len returns the number of chunks currently cataloged.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.chunks)
}
