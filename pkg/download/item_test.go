package download

import "testing"

func TestFileStatusComplete(t *testing.T) {
	f := &File{TotalSize: 10, Chunks: []*Chunk{{Size: 10, Offset: 10, Status: ChunkComplete}}}
	if got := f.Status(); got != FileComplete {
		t.Fatalf("expected FileComplete, got %v", got)
	}
}

func TestFileStatusPausedOverridesAll(t *testing.T) {
	f := &File{TotalSize: 10, Paused: true, Chunks: []*Chunk{{Size: 10, Status: ChunkTransferring}}}
	if got := f.Status(); got != FilePaused {
		t.Fatalf("expected FilePaused, got %v", got)
	}
}

func TestFileStatusHashMismatch(t *testing.T) {
	f := &File{TotalSize: 10, Chunks: []*Chunk{{Size: 10, Status: ChunkHashMismatch}}}
	if got := f.Status(); got != FileHashMismatch {
		t.Fatalf("expected FileHashMismatch, got %v", got)
	}
}

func TestFileStatusUnknownSource(t *testing.T) {
	f := &File{TotalSize: 10, UnknownSource: true, Chunks: []*Chunk{{Size: 10, Status: ChunkQueued}}}
	if got := f.Status(); got != FileUnknownPeerSource {
		t.Fatalf("expected FileUnknownPeerSource, got %v", got)
	}
}

func TestDirRollupAggregatesChildren(t *testing.T) {
	complete := &File{TotalSize: 5, Chunks: []*Chunk{{Size: 5, Offset: 5, Status: ChunkComplete}}}
	downloading := &File{TotalSize: 5, Chunks: []*Chunk{{Size: 5, Status: ChunkTransferring}}}
	d := &Dir{Children: []Item{complete, downloading}}
	d.RecomputeCounters()

	if got := d.Size(); got != 10 {
		t.Fatalf("expected total size 10, got %d", got)
	}
	if got := d.DownloadedBytes(); got != 5 {
		t.Fatalf("expected downloaded 5, got %d", got)
	}
	if got := d.Status(); got != FileDownloading {
		t.Fatalf("expected FileDownloading, got %v", got)
	}
}

func TestDirRollupCompleteWhenAllChildrenComplete(t *testing.T) {
	a := &File{TotalSize: 5, Chunks: []*Chunk{{Size: 5, Offset: 5, Status: ChunkComplete}}}
	b := &File{TotalSize: 5, Chunks: []*Chunk{{Size: 5, Offset: 5, Status: ChunkComplete}}}
	d := &Dir{Children: []Item{a, b}}
	d.RecomputeCounters()

	if got := d.Status(); got != FileComplete {
		t.Fatalf("expected FileComplete, got %v", got)
	}
}

func TestDirRollupErrorPropagates(t *testing.T) {
	ok := &File{TotalSize: 5, Chunks: []*Chunk{{Size: 5, Offset: 5, Status: ChunkComplete}}}
	bad := &File{TotalSize: 5, Chunks: []*Chunk{{Size: 5, Status: ChunkIOError}}}
	d := &Dir{Children: []Item{ok, bad}}
	d.RecomputeCounters()

	if got := d.Status(); got != FileIOError {
		t.Fatalf("expected FileIOError to propagate, got %v", got)
	}
}
