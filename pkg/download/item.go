// Package download implements the chunk download engine (§4.G of
// SPEC_FULL.md): a user-ordered queue of files/directories, a scheduler
// that assigns pending chunks to sources under global and per-peer
// concurrency caps, and per-chunk workers that fetch and verify bytes over
// a borrowed pool stream. The directory rollup follows DownloadsTreeModel's
// incremental-counter approach; the GetChunk/GetChunkResult wire exchange
// is the client side of the contract ChunkUploader::run serves.
package download

import (
	"sync"
	"time"

	"github.com/WebFirstLanguage/lanbeacon/pkg/hashid"
)

// ChunkStatus is the per-chunk state machine (§4.G.6).
type ChunkStatus int

const (
	ChunkQueued ChunkStatus = iota
	ChunkRequesting
	ChunkTransferring
	ChunkComplete
	ChunkHashMismatch
	ChunkIOError
	ChunkNoSource
)

func (s ChunkStatus) String() string {
	switch s {
	case ChunkQueued:
		return "queued"
	case ChunkRequesting:
		return "requesting"
	case ChunkTransferring:
		return "transferring"
	case ChunkComplete:
		return "complete"
	case ChunkHashMismatch:
		return "hash_mismatch"
	case ChunkIOError:
		return "io_error"
	case ChunkNoSource:
		return "no_source"
	default:
		return "unknown"
	}
}

// FileStatus is the rollup status exposed for a file or directory entry
// (§3 "File entry", §4.G.5).
type FileStatus int

const (
	FileQueued FileStatus = iota
	FileDownloading
	FileComplete
	FilePaused
	FileUnknownPeerSource
	FileNoSource
	FileIOError
	FileHashMismatch
)

func (s FileStatus) String() string {
	switch s {
	case FileQueued:
		return "queued"
	case FileDownloading:
		return "downloading"
	case FileComplete:
		return "complete"
	case FilePaused:
		return "paused"
	case FileUnknownPeerSource:
		return "unknown_peer_source"
	case FileNoSource:
		return "no_source"
	case FileIOError:
		return "io_error"
	case FileHashMismatch:
		return "hash_mismatch"
	default:
		return "unknown"
	}
}

// Chunk is one content-addressed slot within a file (§3 "Chunk"). Status and
// Offset are mutated by the fetch worker and read by the scheduler and
// rollup computations concurrently; go through the lock-guarded accessors
// below rather than the bare fields from outside a chunk's owning worker.
type Chunk struct {
	Hash    string
	Index   int
	Size    uint64 // total bytes in this chunk
	Offset  uint64 // bytes verified so far; resumed GetChunk starts here
	Status  ChunkStatus
	FileKey string

	mu sync.Mutex

	failureCount int
	lastFailure  time.Time
	hasher       *hashid.Hasher // rolling verifier, seeded fresh only when Offset is 0
}

// GetStatus returns the chunk's current status under lock.
func (c *Chunk) GetStatus() ChunkStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Status
}

// SetStatus updates the chunk's status under lock.
func (c *Chunk) SetStatus(s ChunkStatus) {
	c.mu.Lock()
	c.Status = s
	c.mu.Unlock()
}

// GetOffset returns the chunk's verified-byte offset under lock.
func (c *Chunk) GetOffset() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Offset
}

// SetOffset sets the chunk's verified-byte offset under lock.
func (c *Chunk) SetOffset(n uint64) {
	c.mu.Lock()
	c.Offset = n
	c.mu.Unlock()
}

// AddOffset advances the chunk's verified-byte offset by n under lock.
func (c *Chunk) AddOffset(n uint64) {
	c.mu.Lock()
	c.Offset += n
	c.mu.Unlock()
}

// File is a leaf queue entry: one remote file with a known, ordered chunk
// list (§4.G.1).
type File struct {
	ID         uint64
	SharedRoot string
	Path       string
	PeerID     string // peer this entry was enqueued against
	TotalSize  uint64
	Chunks     []*Chunk
	Paused     bool

	// UnknownSource is set by the scheduler whenever a pending chunk of this
	// file has no known source on a scheduling pass (§4.G.2's admission
	// rule); cleared when the scheduler assigns any chunk of this file to a
	// source.
	UnknownSource bool
}

// Item is either a *File or a *Dir; both answer the same rollup questions,
// so the queue can hold a flat, totally ordered list of mixed file/
// directory roots (§4.G.1's "atomic enqueue at a position").
type Item interface {
	Size() uint64
	DownloadedBytes() uint64
	Status() FileStatus
}

// Size is the file's known total size.
func (f *File) Size() uint64 { return f.TotalSize }

// DownloadedBytes sums the verified offset of every chunk.
func (f *File) DownloadedBytes() uint64 {
	var n uint64
	for _, c := range f.Chunks {
		n += c.GetOffset()
	}
	return n
}

// Status derives the file's rollup status from its chunks' states and the
// pause bit, per the File entry invariant in §3.
func (f *File) Status() FileStatus {
	if f.Paused {
		return FilePaused
	}
	if f.TotalSize > 0 && f.DownloadedBytes() == f.TotalSize {
		return FileComplete
	}
	downloading := false
	queued := false
	for _, c := range f.Chunks {
		switch c.GetStatus() {
		case ChunkIOError:
			return FileIOError
		case ChunkHashMismatch:
			return FileHashMismatch
		case ChunkNoSource:
			return FileNoSource
		case ChunkTransferring, ChunkRequesting:
			downloading = true
		case ChunkQueued:
			queued = true
		}
	}
	if downloading {
		return FileDownloading
	}
	if queued && f.UnknownSource {
		return FileUnknownPeerSource
	}
	return FileQueued
}

// Dir is an interior queue node: its size/downloaded/status are a pure
// rollup of its children (§4.G.5). nbError/nbPaused/nbDownloading are
// re-derived by RecomputeCounters, which Status calls on every call, so each
// rollup walks the direct children (and, through nested Dirs, the subtree);
// the counters are not updated incrementally on child transitions.
type Dir struct {
	ID       uint64
	Path     string
	Children []Item

	// PeerAddr/SharedRoot identify where Path was expanded from, so a
	// directory can be re-queried later to reconcile against a shrunk
	// remote entry list (§4.G.1). Empty on a Dir that was never directly
	// expanded from a remote GetEntries call.
	PeerAddr   string
	SharedRoot string

	nbError       int
	nbPaused      int
	nbDownloading int
}

func (d *Dir) Size() uint64 {
	var n uint64
	for _, c := range d.Children {
		n += c.Size()
	}
	return n
}

func (d *Dir) DownloadedBytes() uint64 {
	var n uint64
	for _, c := range d.Children {
		n += c.DownloadedBytes()
	}
	return n
}

// RecomputeCounters re-derives nbError/nbPaused/nbDownloading from the
// current child statuses. Status calls it first; the expand and reconcile
// paths also call it after changing Children.
func (d *Dir) RecomputeCounters() {
	d.nbError, d.nbPaused, d.nbDownloading = 0, 0, 0
	for _, c := range d.Children {
		switch c.Status() {
		case FileIOError, FileHashMismatch, FileNoSource, FileUnknownPeerSource:
			d.nbError++
		case FilePaused:
			d.nbPaused++
		case FileDownloading:
			d.nbDownloading++
		}
	}
}

// Status implements the §4.G.5 rollup rule from the counters, refreshed
// from the current child statuses first.
func (d *Dir) Status() FileStatus {
	d.RecomputeCounters()
	size := d.Size()
	if size > 0 && d.DownloadedBytes() == size {
		return FileComplete
	}
	if d.nbError > 0 {
		for _, c := range d.Children {
			switch c.Status() {
			case FileIOError, FileHashMismatch, FileNoSource, FileUnknownPeerSource:
				return c.Status()
			}
		}
	}
	if d.nbPaused > 0 && d.nbError == 0 {
		return FilePaused
	}
	if d.nbDownloading > 0 {
		return FileDownloading
	}
	return FileQueued
}
