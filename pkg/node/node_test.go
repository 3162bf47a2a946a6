package node

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/WebFirstLanguage/lanbeacon/pkg/catalog"
	"github.com/WebFirstLanguage/lanbeacon/pkg/constants"
	"github.com/WebFirstLanguage/lanbeacon/pkg/filemanager"
	"github.com/WebFirstLanguage/lanbeacon/pkg/hashid"
	"github.com/WebFirstLanguage/lanbeacon/pkg/transport"
	"github.com/WebFirstLanguage/lanbeacon/pkg/wire"
)

// fakeTransport never actually binds a socket; Listen returns a listener
// whose Accept blocks until the context is cancelled, matching how a real
// listener behaves under Node.Stop without requiring a free port in tests.
type fakeTransport struct{}

func (fakeTransport) Name() string { return "fake" }
func (fakeTransport) Listen(ctx context.Context, addr string) (transport.Listener, error) {
	return &fakeListener{}, nil
}
func (fakeTransport) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	return nil, io.EOF
}

type fakeListener struct{}

func (l *fakeListener) Accept(ctx context.Context) (transport.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (l *fakeListener) Close() error   { return nil }
func (l *fakeListener) Addr() net.Addr { return &net.TCPAddr{} }

type fakeCollaborator struct {
	entries []filemanager.Entry
	chunks  map[string][]byte
	handles map[string]string // hash -> handle
}

func (c *fakeCollaborator) GetChunkHandle(hash string) (string, bool) {
	h, ok := c.handles[hash]
	return h, ok
}
func (c *fakeCollaborator) OpenReader(handle string, offset uint64) (filemanager.ChunkReader, error) {
	data, ok := c.chunks[handle]
	if !ok {
		return nil, filemanager.ErrUnableToOpen
	}
	return io.NopCloser(bytes.NewReader(data[offset:])), nil
}
func (c *fakeCollaborator) OpenWriter(fileKey string, absoluteOffset uint64) (filemanager.ChunkWriter, error) {
	return nil, filemanager.ErrIOError
}
func (c *fakeCollaborator) Query(pattern string) ([]filemanager.Entry, error) { return nil, nil }
func (c *fakeCollaborator) GetEntries(sharedRoot, path string) ([]filemanager.Entry, error) {
	return c.entries, nil
}
func (c *fakeCollaborator) OnChunkComplete(hash string) {}

func TestNodeLifecycleStartStop(t *testing.T) {
	dir := t.TempDir()
	n, err := New(dir, &fakeCollaborator{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n.State() != StateStopped {
		t.Fatalf("expected StateStopped, got %v", n.State())
	}
	n.tr = fakeTransport{}

	ctx, cancel := context.WithCancel(context.Background())
	if err := n.Start(ctx, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n.State() != StateRunning {
		t.Fatalf("expected StateRunning, got %v", n.State())
	}

	cancel()
	n.Stop()
	if n.State() != StateStopped {
		t.Fatalf("expected StateStopped after Stop, got %v", n.State())
	}
}

func TestNodeNewGeneratesAndPersistsPeerID(t *testing.T) {
	dir := t.TempDir()
	n1, err := New(dir, &fakeCollaborator{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n1.SelfID() == "" {
		t.Fatal("expected a generated PeerID")
	}

	n2, err := New(dir, &fakeCollaborator{}, nil)
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}
	if n2.SelfID() != n1.SelfID() {
		t.Fatalf("expected PeerID to persist across New calls, got %q then %q", n1.SelfID(), n2.SelfID())
	}
}

func TestNodeServeGetEntries(t *testing.T) {
	dir := t.TempDir()
	fm := &fakeCollaborator{entries: []filemanager.Entry{
		{SharedRoot: "music", Path: "a.flac", Size: 123},
		{SharedRoot: "music", Path: "sub", IsDir: true},
	}}
	n, err := New(dir, fm, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := wire.NewGetEntries("peerA", 9, "music", "")
	reply := n.dispatch(nil, "peerA-addr", req)
	if reply == nil {
		t.Fatal("expected a reply frame for GetEntries")
	}
	var body wire.GetEntriesResultBody
	if err := reencode(reply.Body, &body); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if len(body.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(body.Entries))
	}
	if body.Entries[0].Name != "a.flac" || body.Entries[0].Size != 123 {
		t.Errorf("unexpected first entry: %+v", body.Entries[0])
	}
	if !body.Entries[1].IsDir {
		t.Errorf("expected second entry to be a directory: %+v", body.Entries[1])
	}
}

func TestNodeServeGetChunk(t *testing.T) {
	dir := t.TempDir()
	data := []byte("the quick brown fox jumps over the lazy dog")
	hash := hashid.ChunkHash(data)

	fm := &fakeCollaborator{
		chunks:  map[string][]byte{"handle-1": data},
		handles: map[string]string{hash: "handle-1"},
	}
	n, err := New(dir, fm, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n.ctx = context.Background()
	n.cat.Publish(hash, catalog.Handle{FileKey: "f", Index: 0, Size: uint64(len(data))})

	client, server := net.Pipe()
	defer client.Close()

	req := wire.NewGetChunk("peerA", 5, hash, 0)
	done := make(chan struct{})
	go func() {
		n.dispatch(wrapConn(server), "peerA-addr", req)
		server.Close()
		close(done)
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resultFrame, err := wire.ReadFrame(client)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	var resultBody wire.GetChunkResultBody
	if err := reencode(resultFrame.Body, &resultBody); err != nil {
		t.Fatalf("decode GetChunkResult: %v", err)
	}
	if resultBody.Status != constants.ChunkStatusOK {
		t.Fatalf("expected ChunkStatusOK, got %d", resultBody.Status)
	}
	if resultBody.ChunkSize != uint64(len(data)) {
		t.Fatalf("expected chunk size %d, got %d", len(data), resultBody.ChunkSize)
	}

	got := make([]byte, len(data))
	if _, err := io.ReadFull(client, got); err != nil {
		t.Fatalf("read chunk bytes: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("chunk bytes mismatch: got %q, want %q", got, data)
	}
	<-done
}

// wrapConn adapts a net.Conn to transport.Conn for tests that exercise
// dispatch directly without a real transport.Transport.
type connAdapter struct{ net.Conn }

func wrapConn(c net.Conn) transport.Conn { return connAdapter{c} }
