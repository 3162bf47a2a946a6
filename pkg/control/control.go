// Package control implements the narrow, read-only status-snapshot surface
// a GUI or CLI process polls (§1, §6 of SPEC_FULL.md): peer directory,
// queue, and catalog snapshots over a simple JSON request/response
// protocol on a local listener. The JSON-line request/response over
// net.Conn, one goroutine per connection, follows pkg/control/api.go's
// shape, narrowed from a general command API to read-only status calls
// since the core here takes no GUI commands beyond queue mutation, which
// is out of this package's scope.
package control

import (
	"context"
	"encoding/json"
	"net"

	"github.com/sirupsen/logrus"
)

// Request is one JSON-line request from a control client.
type Request struct {
	Method string `json:"method"`
	ID     string `json:"id"`
}

// Response is the JSON-line reply.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Snapshot is the full point-in-time state a client can request.
type Snapshot struct {
	Peers       interface{} `json:"peers"`
	Queue       interface{} `json:"queue"`
	CatalogSize int         `json:"catalog_size"`
}

// SnapshotFunc produces the current Snapshot; wired to the node's
// directory/queue/catalog at construction.
type SnapshotFunc func() Snapshot

// Server answers "status" requests with a fresh Snapshot on every call.
type Server struct {
	snapshot SnapshotFunc
	log      *logrus.Entry
}

// NewServer creates a Server backed by snapshot.
func NewServer(snapshot SnapshotFunc, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{snapshot: snapshot, log: log.WithField("component", "control")}
}

// Serve accepts connections on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		if ctx.Err() != nil {
			return
		}
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}

		var resp Response
		resp.ID = req.ID
		switch req.Method {
		case "status":
			resp.Result = s.snapshot()
		default:
			resp.Error = "unknown method: " + req.Method
		}

		if err := enc.Encode(&resp); err != nil {
			s.log.WithError(err).Debug("failed to write control response")
			return
		}
	}
}
