package node

import (
	"github.com/sirupsen/logrus"

	"github.com/WebFirstLanguage/lanbeacon/pkg/codec/cborcanon"
	"github.com/WebFirstLanguage/lanbeacon/pkg/constants"
	"github.com/WebFirstLanguage/lanbeacon/pkg/transport"
	"github.com/WebFirstLanguage/lanbeacon/pkg/upload"
	"github.com/WebFirstLanguage/lanbeacon/pkg/wire"
)

// dispatch answers inbound stream requests delivered to an idle pool
// socket: GetEntries is a single request/reply handled synchronously;
// GetChunk is answered by serveGetChunk, which writes the GetChunkResult
// frame itself and then runs an Uploader in the calling goroutine to stream
// the raw chunk bytes to conn, so dispatch returns nil for it (§4.B, §4.F
// of SPEC_FULL.md).
func (n *Node) dispatch(conn transport.Conn, peerAddr string, frame *wire.Frame) *wire.Frame {
	switch frame.Kind {
	case constants.KindGetEntries:
		return n.serveGetEntries(frame)
	case constants.KindGetChunk:
		n.serveGetChunk(conn, frame)
		return nil
	default:
		return nil
	}
}

func (n *Node) serveGetEntries(frame *wire.Frame) *wire.Frame {
	var body wire.GetEntriesBody
	if err := reencode(frame.Body, &body); err != nil {
		return wire.NewGetEntriesResult(n.selfID, frame.Tag, nil)
	}

	entries, err := n.fm.GetEntries(body.SharedRoot, body.Path)
	if err != nil {
		return wire.NewGetEntriesResult(n.selfID, frame.Tag, nil)
	}

	out := make([]wire.EntryDesc, len(entries))
	for i, e := range entries {
		out[i] = wire.EntryDesc{Name: e.Path, IsDir: e.IsDir, Size: e.Size, Hashes: e.Hashes}
	}
	return wire.NewGetEntriesResult(n.selfID, frame.Tag, out)
}

// serveGetChunk answers a GetChunk request on the stream it arrived on.
// Status/DontHave is replied inline; an OK reply is followed by an Uploader
// run, which streams the raw bytes itself.
func (n *Node) serveGetChunk(conn transport.Conn, frame *wire.Frame) {
	var body wire.GetChunkBody
	if err := reencode(frame.Body, &body); err != nil {
		wire.WriteFrame(conn, wire.NewGetChunkResult(n.selfID, frame.Tag, constants.ChunkStatusError, 0))
		return
	}

	handle, ok := n.fm.GetChunkHandle(body.Hash)
	if !ok {
		wire.WriteFrame(conn, wire.NewGetChunkResult(n.selfID, frame.Tag, constants.ChunkStatusDontHave, 0))
		return
	}

	catHandle, ok := n.cat.Lookup(body.Hash)
	if !ok {
		wire.WriteFrame(conn, wire.NewGetChunkResult(n.selfID, frame.Tag, constants.ChunkStatusDontHave, 0))
		return
	}
	if body.Offset > catHandle.Size {
		wire.WriteFrame(conn, wire.NewGetChunkResult(n.selfID, frame.Tag, constants.ChunkStatusError, 0))
		return
	}
	remaining := catHandle.Size - body.Offset

	reader, err := n.fm.OpenReader(handle, body.Offset)
	if err != nil {
		wire.WriteFrame(conn, wire.NewGetChunkResult(n.selfID, frame.Tag, constants.ChunkStatusError, 0))
		return
	}

	if err := wire.WriteFrame(conn, wire.NewGetChunkResult(n.selfID, frame.Tag, constants.ChunkStatusOK, remaining)); err != nil {
		reader.Close()
		return
	}

	u := upload.New(frame.From, body.Hash, body.Offset, reader, conn, n.upRate,
		constants.ReadBufferSize, constants.SocketBufferSize, constants.SocketDrainTimeout, n.log)
	n.trackUploader(u)
	defer n.untrackUploader(u)
	n.publishUploadFinished(u.Run(n.ctx))
}

// publishUploadFinished logs the upload_finished(peer_id, chunk, status)
// event (§4.F); there is no separate event bus, so the structured log is
// the observable record of the outcome.
func (n *Node) publishUploadFinished(ev upload.Event) {
	fields := logrus.Fields{"peer_id": ev.PeerID, "chunk_hash": ev.Hash, "status": ev.Status.String()}
	if ev.Err != nil {
		n.log.WithFields(fields).WithError(ev.Err).Warn("upload_finished")
		return
	}
	n.log.WithFields(fields).Info("upload_finished")
}

func reencode(from interface{}, to interface{}) error {
	data, err := cborcanon.Marshal(from)
	if err != nil {
		return err
	}
	return cborcanon.Unmarshal(data, to)
}

func (n *Node) trackUploader(u *upload.Uploader) {
	n.uploadMu.Lock()
	n.uploaders[u.ID()] = u
	n.uploadMu.Unlock()
}

func (n *Node) untrackUploader(u *upload.Uploader) {
	n.uploadMu.Lock()
	delete(n.uploaders, u.ID())
	n.uploadMu.Unlock()
}
