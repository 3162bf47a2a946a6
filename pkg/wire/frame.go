// Package wire implements the datagram and stream framing protocol shared by
// discovery, upload, and download. Every message is one canonical CBOR
// Frame carrying version, kind, sender, tag, timestamp and a body whose
// schema is fixed per message kind; on streams it is preceded by a 4-byte
// big-endian length. There is no fixed-width binary header and no magic
// number, so a frame is not checked for one.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/WebFirstLanguage/lanbeacon/pkg/codec/cborcanon"
	"github.com/WebFirstLanguage/lanbeacon/pkg/constants"
)

// Frame is the common envelope for every message on both the datagram and
// stream transports.
type Frame struct {
	V    uint16      `cbor:"v"`    // protocol version
	Kind uint8       `cbor:"kind"` // message kind, see pkg/constants
	From string      `cbor:"from"` // sender PeerID, hex-encoded
	Tag  uint32      `cbor:"tag"`  // request/response correlation id
	TS   uint64      `cbor:"ts"`   // ms since Unix epoch
	Body interface{} `cbor:"body"`
}

// New builds a Frame with the current timestamp.
func New(kind uint8, from string, tag uint32, body interface{}) *Frame {
	return &Frame{
		V:    constants.ProtocolVersion,
		Kind: kind,
		From: from,
		Tag:  tag,
		TS:   uint64(time.Now().UnixMilli()),
		Body: body,
	}
}

// Marshal encodes the frame to canonical CBOR.
func (f *Frame) Marshal() ([]byte, error) {
	return cborcanon.Marshal(f)
}

// Unmarshal decodes canonical CBOR data into the frame.
func (f *Frame) Unmarshal(data []byte) error {
	return cborcanon.Unmarshal(data, f)
}

// Validate checks the protocol version and clock skew bound (§4.A).
func (f *Frame) Validate() error {
	if f.V != constants.ProtocolVersion {
		return NewError(constants.ErrorProtocolViolation,
			fmt.Sprintf("unsupported protocol version: %d", f.V))
	}
	if f.From == "" {
		return NewError(constants.ErrorProtocolViolation, "missing sender id")
	}

	now := uint64(time.Now().UnixMilli())
	skew := uint64(constants.MaxClockSkew.Milliseconds())
	if f.TS > now+skew {
		return NewError(constants.ErrorProtocolViolation, "timestamp too far in future")
	}
	if now > f.TS+skew {
		return NewError(constants.ErrorProtocolViolation, "timestamp too far in past")
	}
	return nil
}

// WriteFrame writes f to w as a length-prefixed message: a 4-byte
// big-endian body length followed by the canonical CBOR body, matching the
// stream header's "4-byte body length" field (§4.A). Unlike a datagram,
// a TCP stream does not preserve message boundaries on its own, so every
// framed message on a stream carries this prefix; the chunk payload bytes
// that follow a GetChunkResult are the one exception and are written raw.
func WriteFrame(w io.Writer, f *Frame) error {
	data, err := f.Marshal()
	if err != nil {
		return err
	}
	if len(data) > constants.MaxStreamBodySize {
		return NewError(constants.ErrorProtocolViolation, "frame body exceeds max stream body size")
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadFrame reads one length-prefixed message from r, as written by
// WriteFrame.
func ReadFrame(r io.Reader) (*Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > constants.MaxStreamBodySize {
		return nil, NewError(constants.ErrorProtocolViolation, "incoming frame body exceeds max stream body size")
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	f := &Frame{}
	if err := f.Unmarshal(body); err != nil {
		return nil, err
	}
	return f, nil
}

// IsKind reports whether the frame is of the given kind.
func (f *Frame) IsKind(kind uint8) bool {
	return f.Kind == kind
}

// Timestamp returns the frame's TS field as a time.Time.
func (f *Frame) Timestamp() time.Time {
	return time.UnixMilli(int64(f.TS))
}

// IMAliveBody is the periodic presence beacon (§4.C).
type IMAliveBody struct {
	Addr         string          `cbor:"addr"`
	Port         uint16          `cbor:"port"`
	Nickname     string          `cbor:"nick"`
	BytesFree    uint64          `cbor:"bytes_free"`
	BytesShared  uint64          `cbor:"bytes_shared"`
	DownloadBps  uint64          `cbor:"dl_bps"`
	RotationType constants.HashRequestType `cbor:"rot"`
	Interest     []string        `cbor:"interest"` // hex ChunkHash sample
}

// ChunkOwnedBody is the unicast reply to an IMAlive interest hash the
// receiver happens to hold. The replying peer's address/port are not
// carried in the body: the recipient takes them from the UDP packet's
// source address, since the reply is sent from the sender's unicast socket,
// whose port is also the port its stream listener is bound to.
type ChunkOwnedBody struct {
	Hash string `cbor:"hash"`
}

// FindBody is a multicast search query.
type FindBody struct {
	Pattern string `cbor:"pattern"`
}

// FindEntry describes one search hit.
type FindEntry struct {
	SharedRoot string `cbor:"root"`
	Path       string `cbor:"path"`
	Size       uint64 `cbor:"size"`
	IsDir      bool   `cbor:"dir"`
}

// FindResultBody is the unicast reply to a Find, tagged with the query's tag.
type FindResultBody struct {
	Entries []FindEntry `cbor:"entries"`
}

// ChatBody is a plain text message.
type ChatBody struct {
	Text string `cbor:"text"`
}

// GetEntriesBody requests the file tree under a path from a remote peer.
type GetEntriesBody struct {
	SharedRoot string `cbor:"root"`
	Path       string `cbor:"path"`
}

// EntryDesc describes one file or subdirectory in a GetEntriesResult.
type EntryDesc struct {
	Name   string   `cbor:"name"`
	IsDir  bool     `cbor:"dir"`
	Size   uint64   `cbor:"size"`
	Hashes []string `cbor:"hashes,omitempty"` // ordered ChunkHash list, files only
}

// GetEntriesResultBody answers GetEntries.
type GetEntriesResultBody struct {
	Entries []EntryDesc `cbor:"entries"`
}

// GetChunkBody requests chunk bytes starting at Offset.
type GetChunkBody struct {
	Hash   string `cbor:"hash"`
	Offset uint64 `cbor:"offset"`
}

// GetChunkResultBody answers GetChunk. ChunkSize is the number of bytes the
// sender will transmit starting at Offset — i.e. full_size-Offset, not the
// chunk's total size (§4.G.3).
type GetChunkResultBody struct {
	Status    uint8  `cbor:"status"`
	ChunkSize uint64 `cbor:"chunk_size,omitempty"`
}

// PingBody/PongBody are liveness probes over an established stream.
type PingBody struct {
	Token uint64 `cbor:"token"`
}

type PongBody struct {
	Token uint64 `cbor:"token"`
}

// Frame constructors.

func NewIMAlive(from string, tag uint32, body *IMAliveBody) *Frame {
	return New(constants.KindIMAlive, from, tag, body)
}

func NewChunkOwned(from string, tag uint32, body *ChunkOwnedBody) *Frame {
	return New(constants.KindChunkOwned, from, tag, body)
}

func NewFind(from string, tag uint32, pattern string) *Frame {
	return New(constants.KindFind, from, tag, &FindBody{Pattern: pattern})
}

func NewFindResult(from string, tag uint32, entries []FindEntry) *Frame {
	return New(constants.KindFindResult, from, tag, &FindResultBody{Entries: entries})
}

func NewChat(from string, tag uint32, text string) *Frame {
	return New(constants.KindChat, from, tag, &ChatBody{Text: text})
}

func NewGetEntries(from string, tag uint32, root, path string) *Frame {
	return New(constants.KindGetEntries, from, tag, &GetEntriesBody{SharedRoot: root, Path: path})
}

func NewGetEntriesResult(from string, tag uint32, entries []EntryDesc) *Frame {
	return New(constants.KindGetEntriesResult, from, tag, &GetEntriesResultBody{Entries: entries})
}

func NewGetChunk(from string, tag uint32, hash string, offset uint64) *Frame {
	return New(constants.KindGetChunk, from, tag, &GetChunkBody{Hash: hash, Offset: offset})
}

func NewGetChunkResult(from string, tag uint32, status uint8, chunkSize uint64) *Frame {
	return New(constants.KindGetChunkResult, from, tag, &GetChunkResultBody{Status: status, ChunkSize: chunkSize})
}

func NewPing(from string, tag uint32, token uint64) *Frame {
	return New(constants.KindPing, from, tag, &PingBody{Token: token})
}

func NewPong(from string, tag uint32, token uint64) *Frame {
	return New(constants.KindPong, from, tag, &PongBody{Token: token})
}
