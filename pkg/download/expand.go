package download

import (
	"context"
	"fmt"
	"time"

	"github.com/WebFirstLanguage/lanbeacon/pkg/constants"
	"github.com/WebFirstLanguage/lanbeacon/pkg/wire"
)

// EnqueueRemotePath expands a remote path on peerAddr into a queue item and
// appends it (§4.G.1): it issues GetEntries over a pool stream, turns each
// file with a known chunk-hash list into a File with ChunkQueued slots, and
// recurses into subdirectories. The caller supplies peerID purely for
// bookkeeping (chunk sources still come from discovery's ChunkOwned
// announcements, not from the owning peer alone).
func (e *Engine) EnqueueRemotePath(ctx context.Context, peerID, peerAddr, sharedRoot, path string) (uint64, error) {
	item, err := e.expand(ctx, peerID, peerAddr, sharedRoot, path)
	if err != nil {
		return 0, err
	}
	return e.queue.Append(item, 0), nil
}

func (e *Engine) expand(ctx context.Context, peerID, peerAddr, sharedRoot, path string) (Item, error) {
	conn, err := e.pool.Acquire(ctx, peerAddr)
	if err != nil {
		return nil, fmt.Errorf("acquire stream to %s: %w", peerAddr, err)
	}

	req := wire.NewGetEntries(e.selfID, e.nextTag(), sharedRoot, path)
	if err := wire.WriteFrame(conn, req); err != nil {
		e.pool.Release(peerAddr, false)
		return nil, fmt.Errorf("send GetEntries: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(constants.ChunkRequestTimeout))
	resp, err := wire.ReadFrame(conn)
	if err != nil {
		e.pool.Release(peerAddr, false)
		return nil, fmt.Errorf("read GetEntriesResult: %w", err)
	}
	e.pool.Release(peerAddr, true)

	var body wire.GetEntriesResultBody
	if err := reencode(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("decode GetEntriesResult: %w", err)
	}

	dir := &Dir{ID: e.queue.NextID(), Path: path, PeerAddr: peerAddr, SharedRoot: sharedRoot}
	for _, entry := range body.Entries {
		childPath := path + "/" + entry.Name
		if entry.IsDir {
			child, err := e.expand(ctx, peerID, peerAddr, sharedRoot, childPath)
			if err != nil {
				// A subdirectory that failed to expand is dropped rather
				// than aborting the whole enqueue (§9: vanished entries
				// are dropped, not errored).
				continue
			}
			dir.Children = append(dir.Children, child)
			continue
		}
		if len(entry.Hashes) == 0 {
			continue // no known chunk list yet; nothing to schedule
		}
		f := &File{
			ID:         e.queue.NextID(),
			SharedRoot: sharedRoot,
			Path:       childPath,
			PeerID:     peerID,
			TotalSize:  entry.Size,
		}
		f.Chunks = chunksFromHashes(f, entry.Hashes, entry.Size)
		dir.Children = append(dir.Children, f)
	}
	dir.RecomputeCounters()
	return dir, nil
}

func chunksFromHashes(f *File, hashes []string, totalSize uint64) []*Chunk {
	out := make([]*Chunk, len(hashes))
	remaining := totalSize
	chunkSize := constants.DefaultChunkSize
	for i, h := range hashes {
		size := uint64(chunkSize)
		if remaining < size {
			size = remaining
		}
		remaining -= size
		out[i] = &Chunk{Hash: h, Index: i, Size: size, FileKey: f.Path, Status: ChunkQueued}
	}
	return out
}

// maybeReconcile runs reconcileDir against dir once, the first time the
// scheduler sees it among the queue's top-level items. That first contact
// is the engine's only notion of "download start" for a directory root: it
// happens on the very next scheduling tick after enqueue, which is as close
// as a tick-driven scheduler gets to the moment transfers for it would
// begin.
func (e *Engine) maybeReconcile(ctx context.Context, dir *Dir) {
	if dir.PeerAddr == "" {
		return
	}
	e.reconcileMu.Lock()
	if e.reconciled[dir.ID] {
		e.reconcileMu.Unlock()
		return
	}
	e.reconciled[dir.ID] = true
	e.reconcileMu.Unlock()

	go e.reconcileDir(ctx, dir)
}

// reconcileDir re-issues GetEntries for dir and drops any child whose name
// is no longer present in the response, recursing into child directories
// that are still present (§4.G.1: "file-entry list shrinks between enqueue
// and download start"). A vanished child's chunks are not forcibly
// interrupted mid-attempt — this engine has no per-chunk cancellation
// signal, only a "don't schedule this again" one — so an attempt already in
// flight against a dropped file still runs to completion; the next
// scheduling pass never picks it up again because it is no longer in the
// tree. A GetEntries failure here (peer unreachable) leaves dir untouched
// rather than assuming everything vanished.
func (e *Engine) reconcileDir(ctx context.Context, dir *Dir) {
	conn, err := e.pool.Acquire(ctx, dir.PeerAddr)
	if err != nil {
		return
	}

	req := wire.NewGetEntries(e.selfID, e.nextTag(), dir.SharedRoot, dir.Path)
	if err := wire.WriteFrame(conn, req); err != nil {
		e.pool.Release(dir.PeerAddr, false)
		return
	}

	conn.SetReadDeadline(time.Now().Add(constants.ChunkRequestTimeout))
	resp, err := wire.ReadFrame(conn)
	if err != nil {
		e.pool.Release(dir.PeerAddr, false)
		return
	}
	e.pool.Release(dir.PeerAddr, true)

	var body wire.GetEntriesResultBody
	if err := reencode(resp.Body, &body); err != nil {
		return
	}

	present := make(map[string]bool, len(body.Entries))
	for _, entry := range body.Entries {
		present[dir.Path+"/"+entry.Name] = true
	}

	kept := dir.Children[:0]
	for _, child := range dir.Children {
		if !present[childPath(child)] {
			continue
		}
		if sub, ok := child.(*Dir); ok {
			e.reconcileDir(ctx, sub)
		}
		kept = append(kept, child)
	}
	dir.Children = kept
	dir.RecomputeCounters()
}

func childPath(item Item) string {
	switch v := item.(type) {
	case *File:
		return v.Path
	case *Dir:
		return v.Path
	default:
		return ""
	}
}
