package download

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/WebFirstLanguage/lanbeacon/pkg/catalog"
	"github.com/WebFirstLanguage/lanbeacon/pkg/codec/cborcanon"
	"github.com/WebFirstLanguage/lanbeacon/pkg/config"
	"github.com/WebFirstLanguage/lanbeacon/pkg/constants"
	"github.com/WebFirstLanguage/lanbeacon/pkg/filemanager"
	"github.com/WebFirstLanguage/lanbeacon/pkg/hashid"
	"github.com/WebFirstLanguage/lanbeacon/pkg/pool"
	"github.com/WebFirstLanguage/lanbeacon/pkg/wire"
)

// Engine drives the download queue to completion (§4.G, the "hardest"
// component). One scheduler goroutine assigns pending chunks to sources
// under global/per-peer concurrency caps; each assignment runs as its own
// worker goroutine.
type Engine struct {
	cfg     *config.Snapshot
	selfID  string
	queue   *Queue
	sources *SourceTracker
	pool    *pool.Pool
	cat     *catalog.Catalog
	fm      filemanager.Collaborator
	log     *logrus.Entry

	globalSem *semaphore.Weighted

	peerSemMu sync.Mutex
	peerSem   map[string]*semaphore.Weighted

	activeMu sync.Mutex
	active   map[string]time.Time // chunk hash -> scheduled time, for beacon interest (§4.G.2)

	nowDownloading map[string]bool // chunk hash -> worker running, avoids double-scheduling

	tagMu sync.Mutex
	tag   uint32

	reconcileMu sync.Mutex
	reconciled  map[uint64]bool // dir ID -> already re-checked against its remote entry list
}

func (e *Engine) nextTag() uint32 {
	e.tagMu.Lock()
	defer e.tagMu.Unlock()
	e.tag++
	return e.tag
}

// New builds an Engine. fm is the File Manager collaborator that answers
// GetEntries/OpenWriter/OnChunkComplete.
func New(cfg *config.Snapshot, selfID string, q *Queue, pl *pool.Pool, cat *catalog.Catalog, fm filemanager.Collaborator, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		cfg:            cfg,
		selfID:         selfID,
		queue:          q,
		sources:        NewSourceTracker(constants.HashMismatchCooldown),
		pool:           pl,
		cat:            cat,
		fm:             fm,
		log:            log.WithField("component", "download"),
		globalSem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentDownloads)),
		peerSem:        make(map[string]*semaphore.Weighted),
		active:         make(map[string]time.Time),
		nowDownloading: make(map[string]bool),
		reconciled:     make(map[uint64]bool),
	}
}

// LearnSource wires discovery's ChunkOwned callback (§4.G.2's "peer
// directory event" trigger).
func (e *Engine) LearnSource(hash, peerID, addr string) {
	e.sources.Learn(hash, peerID, addr)
}

func (e *Engine) peerSemaphore(peerID string) *semaphore.Weighted {
	e.peerSemMu.Lock()
	defer e.peerSemMu.Unlock()
	s, ok := e.peerSem[peerID]
	if !ok {
		s = semaphore.NewWeighted(int64(e.cfg.MaxConcurrentDownloadsPerPeer))
		e.peerSem[peerID] = s
	}
	return s
}

// Run drives the scheduling loop on every timer tick (§4.G.2) until ctx is
// cancelled. The only other scheduling passes come from Kick, which the node
// calls after each peer-eviction sweep; a finished transfer or a queue change
// does not trigger a pass of its own and is picked up on the next tick.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(constants.SchedulingTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.schedule(ctx)
		}
	}
}

// Kick runs one scheduling pass immediately, outside the timer tick.
func (e *Engine) Kick(ctx context.Context) {
	e.schedule(ctx)
}

// pendingChunk pairs a chunk with its owning file for scheduling.
type pendingChunk struct {
	file  *File
	chunk *Chunk
}

func (e *Engine) pendingChunks() []pendingChunk {
	var out []pendingChunk
	for _, it := range e.queue.Items() {
		collectPending(it.Item, &out)
	}
	return out
}

func collectPending(item Item, out *[]pendingChunk) {
	switch v := item.(type) {
	case *File:
		if v.Paused {
			return
		}
		for _, c := range v.Chunks {
			if s := c.GetStatus(); s == ChunkQueued || s == ChunkNoSource {
				*out = append(*out, pendingChunk{file: v, chunk: c})
			}
		}
	case *Dir:
		for _, child := range v.Children {
			collectPending(child, out)
		}
	}
}

// schedule performs one scan-and-assign pass (§4.G.2).
func (e *Engine) schedule(ctx context.Context) {
	for _, it := range e.queue.Items() {
		if dir, ok := it.Item.(*Dir); ok {
			e.maybeReconcile(ctx, dir)
		}
	}

	pending := e.pendingChunks()

	e.activeMu.Lock()
	for _, p := range pending {
		if _, already := e.active[p.chunk.Hash]; !already {
			e.active[p.chunk.Hash] = time.Now()
		}
	}
	e.activeMu.Unlock()

	for _, p := range pending {
		e.activeMu.Lock()
		inFlight := e.nowDownloading[p.chunk.Hash]
		e.activeMu.Unlock()
		if inFlight {
			continue
		}

		peerID, addr, ok := e.sources.Choose(p.chunk.Hash)
		if !ok {
			p.file.UnknownSource = true
			continue
		}

		if !e.globalSem.TryAcquire(1) {
			return // global cap reached; try again next trigger
		}
		peerSem := e.peerSemaphore(peerID)
		if !peerSem.TryAcquire(1) {
			e.globalSem.Release(1)
			continue // this peer is at its cap; other chunks may still have room
		}

		e.activeMu.Lock()
		e.nowDownloading[p.chunk.Hash] = true
		e.activeMu.Unlock()
		p.file.UnknownSource = false
		p.chunk.SetStatus(ChunkRequesting)
		e.sources.MarkStarted(peerID)

		go e.runWorker(ctx, p.file, p.chunk, peerID, addr, peerSem)
	}
}

// runWorker executes one (chunk, source) download attempt and releases its
// concurrency slots and active-interest entry on return.
func (e *Engine) runWorker(ctx context.Context, file *File, chunk *Chunk, peerID, addr string, peerSem *semaphore.Weighted) {
	defer func() {
		e.globalSem.Release(1)
		peerSem.Release(1)
		e.activeMu.Lock()
		delete(e.nowDownloading, chunk.Hash)
		if chunk.GetStatus() == ChunkComplete {
			delete(e.active, chunk.Hash)
		}
		e.activeMu.Unlock()
	}()

	failed, err := e.fetchChunk(ctx, file, chunk, peerID, addr)
	e.sources.MarkFinished(peerID, failed)
	if err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{"hash": chunk.Hash, "peer": peerID}).Debug("chunk fetch did not complete")
	}
}

// fetchChunk implements §4.G.3's wire exchange and verification.
func (e *Engine) fetchChunk(ctx context.Context, file *File, chunk *Chunk, peerID, addr string) (failed bool, err error) {
	conn, err := e.pool.Acquire(ctx, addr)
	if err != nil {
		e.requeueAfterTransientFailure(chunk)
		return true, fmt.Errorf("acquire stream to %s: %w", addr, err)
	}

	req := wire.NewGetChunk(e.selfID, e.nextTag(), chunk.Hash, chunk.GetOffset())
	if err := wire.WriteFrame(conn, req); err != nil {
		e.pool.Release(addr, false)
		e.requeueAfterTransientFailure(chunk)
		return true, fmt.Errorf("send GetChunk: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(constants.ChunkRequestTimeout))
	resp, err := wire.ReadFrame(conn)
	if err != nil {
		e.pool.Release(addr, false)
		e.requeueAfterTransientFailure(chunk)
		return true, fmt.Errorf("read GetChunkResult: %w", err)
	}

	var body wire.GetChunkResultBody
	if err := reencode(resp.Body, &body); err != nil {
		e.pool.Release(addr, false)
		e.requeueAfterTransientFailure(chunk)
		return true, fmt.Errorf("decode GetChunkResult: %w", err)
	}

	switch body.Status {
	case constants.ChunkStatusDontHave:
		e.pool.Release(addr, true)
		e.sources.Forget(chunk.Hash, peerID)
		chunk.SetStatus(ChunkQueued)
		return true, nil
	case constants.ChunkStatusError:
		e.pool.Release(addr, true)
		chunk.SetStatus(ChunkQueued)
		return true, fmt.Errorf("source reported error for chunk %s", chunk.Hash)
	}

	chunk.SetStatus(ChunkTransferring)
	remaining := body.ChunkSize // full_size - offset, §4.G.3/§12

	offset := chunk.GetOffset()
	writer, err := e.fm.OpenWriter(chunk.FileKey, fileAbsoluteOffset(file, chunk)+offset)
	if err != nil {
		e.pool.Release(addr, true)
		chunk.SetStatus(ChunkIOError)
		return true, fmt.Errorf("open writer: %w", err)
	}
	defer writer.Close()

	// A resumed GetChunk only carries the chunk's tail, so the rolling
	// verifier must keep the hash state accumulated by earlier attempts on
	// this same chunk rather than starting over at the resume point: a
	// fresh hasher is seeded only when there is no verified prefix yet.
	if offset == 0 || chunk.hasher == nil {
		chunk.hasher = hashid.NewChunkHasher()
	}
	hasher := chunk.hasher

	buf := make([]byte, constants.ReadBufferSize)
	var got uint64
	for got < remaining {
		n := len(buf)
		if want := remaining - got; want < uint64(n) {
			n = int(want)
		}
		conn.SetReadDeadline(time.Now().Add(constants.ChunkRequestTimeout))
		rn, rerr := conn.Read(buf[:n])
		if rn > 0 {
			hasher.Write(buf[:rn])
			if _, werr := writer.Write(buf[:rn]); werr != nil {
				e.pool.Release(addr, false)
				chunk.SetStatus(ChunkIOError)
				return true, fmt.Errorf("write chunk bytes: %w", werr)
			}
			got += uint64(rn)
			chunk.AddOffset(uint64(rn))
		}
		if rerr != nil {
			e.pool.Release(addr, false)
			e.requeueAfterTransientFailure(chunk)
			return true, fmt.Errorf("read chunk bytes: %w", rerr)
		}
	}

	if hasher.Sum() != chunk.Hash {
		e.pool.Release(addr, true)
		e.sources.Blacklist(chunk.Hash, peerID)
		chunk.SetOffset(0)
		chunk.hasher = nil
		// The (chunk,source) blacklist already keeps this peer from being
		// re-picked for this chunk during its cooldown, so the chunk goes
		// straight back to ChunkQueued instead of a terminal mismatch
		// status: a second known source can pick it up on the very next
		// scheduling pass instead of waiting out a status that never
		// un-sticks on its own (§4.G.6).
		chunk.SetStatus(ChunkQueued)
		return true, fmt.Errorf("chunk %s failed verification from %s", chunk.Hash, peerID)
	}

	e.pool.Release(addr, true)
	chunk.SetStatus(ChunkComplete)
	chunk.hasher = nil
	e.cat.Publish(chunk.Hash, catalog.Handle{FileKey: chunk.FileKey, Index: chunk.Index, Size: chunk.Size})
	e.fm.OnChunkComplete(chunk.Hash)
	return false, nil
}

// requeueAfterTransientFailure implements §7's bounded-retry policy for
// transport-level failures (acquire/send/read errors, as opposed to an
// explicit DONT_HAVE or hash-mismatch verdict from the source): the chunk
// goes back to ChunkQueued for another attempt, up to
// constants.MaxTransportRetries, after which it is marked ChunkNoSource.
// collectPending still treats ChunkNoSource chunks as pending, so the
// scheduler tries such a chunk again whenever Choose finds a source for it.
func (e *Engine) requeueAfterTransientFailure(chunk *Chunk) {
	chunk.failureCount++
	chunk.lastFailure = time.Now()
	if chunk.failureCount > constants.MaxTransportRetries {
		chunk.SetStatus(ChunkNoSource)
		return
	}
	chunk.SetStatus(ChunkQueued)
}

// reencode round-trips a generically-CBOR-decoded interface{} body back
// into a concrete struct, mirroring pkg/discovery's helper of the same
// name (Frame.Body is decoded as interface{} by the generic Unmarshal).
func reencode(from interface{}, to interface{}) error {
	data, err := cborcanon.Marshal(from)
	if err != nil {
		return err
	}
	return cborcanon.Unmarshal(data, to)
}

// fileAbsoluteOffset returns the byte offset of chunk within its file, used
// to position the File Manager's writer (§4.G.4's "writer at absolute
// offset").
func fileAbsoluteOffset(file *File, chunk *Chunk) uint64 {
	var off uint64
	for _, c := range file.Chunks {
		if c.Index == chunk.Index {
			break
		}
		off += c.Size
	}
	return off
}

// OldestInterest implements discovery.InterestSource: the n chunks that
// have been active longest (§4.G.2's beacon sample rotation).
func (e *Engine) OldestInterest(n int) []string {
	return e.interestSample(n, true)
}

// NewestInterest implements discovery.InterestSource.
func (e *Engine) NewestInterest(n int) []string {
	return e.interestSample(n, false)
}

type interestEntry struct {
	hash string
	at   time.Time
}

func (e *Engine) interestSample(n int, oldest bool) []string {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()

	entries := make([]interestEntry, 0, len(e.active))
	for h, t := range e.active {
		entries = append(entries, interestEntry{h, t})
	}
	sortEntries(entries, oldest)

	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]string, len(entries))
	for i, ent := range entries {
		out[i] = ent.hash
	}
	return out
}

func sortEntries(entries []interestEntry, oldest bool) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0; j-- {
			less := entries[j].at.Before(entries[j-1].at)
			if !oldest {
				less = entries[j].at.After(entries[j-1].at)
			}
			if !less {
				break
			}
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}
