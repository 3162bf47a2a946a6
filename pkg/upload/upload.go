// Package upload implements the chunk upload engine (§4.F of
// SPEC_FULL.md). An Uploader serves exactly one chunk to one remote peer
// over a borrowed stream: read a buffer from the file manager, write it to
// the stream, wait for the outbound buffer to drain if it backs up, report
// throughput, repeat until EOF, stop request, or error. The buffered
// read-write loop, the drain-wait-with-timeout before the next write, the
// preempt-at-boundary cooperative stop check, and the EOF/error-to-final-
// event mapping follow ChunkUploader::run's shape directly.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/WebFirstLanguage/lanbeacon/pkg/filemanager"
	"github.com/WebFirstLanguage/lanbeacon/pkg/ratecalc"
)

// Status is the terminal outcome of an upload.
type Status int

const (
	StatusRunning Status = iota
	StatusFinishedOK
	StatusFinishedNetwork
	StatusFinishedIO
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusFinishedOK:
		return "finished_ok"
	case StatusFinishedNetwork:
		return "finished_network"
	case StatusFinishedIO:
		return "finished_io"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Writer is the subset of a borrowed stream an Uploader writes to. Kept
// narrow so tests don't need a full transport.Conn.
type Writer interface {
	Write(b []byte) (int, error)
}

// Event is published when an Uploader reaches a terminal state.
type Event struct {
	PeerID string
	Hash   string
	Status Status
	Err    error
}

// Uploader serves one chunk to one peer.
type Uploader struct {
	id     uint64
	peerID string
	hash   string
	offset uint64

	writer Writer
	reader filemanager.ChunkReader
	rate   *ratecalc.Calculator

	readBufferSize   int
	socketBufferSize int
	socketTimeout    time.Duration

	mu     sync.Mutex
	toStop bool

	lastActivity atomic.Int64 // unix nanos, for idle-lifetime reaping
	log          *logrus.Entry
}

var idCounter uint64

// New constructs an Uploader for chunk hash starting at offset, reading
// through reader and writing to writer.
func New(peerID, hash string, offset uint64, reader filemanager.ChunkReader, writer Writer, rate *ratecalc.Calculator, readBufferSize, socketBufferSize int, socketTimeout time.Duration, log *logrus.Entry) *Uploader {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	id := atomic.AddUint64(&idCounter, 1)
	u := &Uploader{
		id:               id,
		peerID:           peerID,
		hash:             hash,
		offset:           offset,
		reader:           reader,
		writer:           writer,
		rate:             rate,
		readBufferSize:   readBufferSize,
		socketBufferSize: socketBufferSize,
		socketTimeout:    socketTimeout,
		log:              log.WithFields(logrus.Fields{"component": "upload", "peer_id": peerID, "chunk_hash": hash}),
	}
	u.lastActivity.Store(time.Now().UnixNano())
	return u
}

// ID returns the uploader's process-unique identifier.
func (u *Uploader) ID() uint64 { return u.id }

// Stop requests cooperative cancellation. The worker finishes writing its
// current buffer before exiting (preempt-at-boundary, §5).
func (u *Uploader) Stop() {
	u.mu.Lock()
	u.toStop = true
	u.mu.Unlock()
}

// drainer is satisfied by connections that expose a bytes-pending count;
// transport.Conn does not need to implement it, in which case the drain
// wait is skipped and every write is assumed to complete synchronously
// (true for net.Conn, whose Write already blocks until the OS buffer
// accepts the data).
type drainer interface {
	BytesToWrite() int
}

// Run executes the upload loop until EOF, Stop, or an error. It always
// closes the reader and returns a terminal Event; ctx cancellation is
// treated the same as Stop (preempt at the next buffer boundary).
func (u *Uploader) Run(ctx context.Context) Event {
	defer u.reader.Close()

	buf := make([]byte, u.readBufferSize)
	for {
		u.mu.Lock()
		stopped := u.toStop
		u.mu.Unlock()
		if stopped || ctx.Err() != nil {
			return Event{PeerID: u.peerID, Hash: u.hash, Status: StatusStopped}
		}

		n, readErr := u.reader.Read(buf)
		if n > 0 {
			sent, writeErr := u.writer.Write(buf[:n])
			if writeErr != nil {
				u.log.WithError(writeErr).Warn("write failed")
				return Event{PeerID: u.peerID, Hash: u.hash, Status: StatusFinishedNetwork, Err: writeErr}
			}

			u.mu.Lock()
			if u.toStop {
				u.mu.Unlock()
				return Event{PeerID: u.peerID, Hash: u.hash, Status: StatusStopped}
			}
			u.offset += uint64(sent)
			u.mu.Unlock()

			if d, ok := u.writer.(drainer); ok {
				if err := u.waitForDrain(d); err != nil {
					return Event{PeerID: u.peerID, Hash: u.hash, Status: StatusFinishedNetwork, Err: err}
				}
			}

			u.rate.AddData(sent)
			u.lastActivity.Store(time.Now().UnixNano())
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return Event{PeerID: u.peerID, Hash: u.hash, Status: StatusFinishedOK}
			}
			u.log.WithError(readErr).Warn("read failed")
			return Event{PeerID: u.peerID, Hash: u.hash, Status: StatusFinishedIO, Err: readErr}
		}
	}
}

func (u *Uploader) waitForDrain(d drainer) error {
	deadline := time.Now().Add(u.socketTimeout)
	for d.BytesToWrite() > u.socketBufferSize {
		if time.Now().After(deadline) {
			return fmt.Errorf("upload: drain timeout after %s", u.socketTimeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// IdleFor reports how long it has been since the last byte was sent.
func (u *Uploader) IdleFor() time.Duration {
	last := time.Unix(0, u.lastActivity.Load())
	return time.Since(last)
}
