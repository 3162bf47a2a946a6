// Package tcp implements the system's one reliable stream transport: plain
// TCP. The Non-goals exclude authentication and encryption of transfer
// streams, so there is no TLS layer here — a LAN file-sharing peer has no
// WAN eavesdropping threat model in scope.
package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/WebFirstLanguage/lanbeacon/pkg/transport"
)

// Transport implements transport.Transport over plain TCP.
type Transport struct {
	cfg *transport.Config
}

// New creates a TCP transport with the given config (nil uses defaults).
func New(cfg *transport.Config) *Transport {
	if cfg == nil {
		cfg = transport.DefaultConfig()
	}
	return &Transport{cfg: cfg}
}

func (t *Transport) Name() string { return "tcp" }

// Listen starts accepting TCP connections on addr.
func (t *Transport) Listen(ctx context.Context, addr string) (transport.Listener, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve tcp address: %w", err)
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp: %w", err)
	}

	return &Listener{listener: ln}, nil
}

// Dial connects to addr over TCP.
func (t *Transport) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	dialer := &net.Dialer{Timeout: t.cfg.ConnectTimeout, KeepAlive: t.cfg.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp: %w", err)
	}

	return &Conn{conn: conn}, nil
}

// Listener wraps a net.TCPListener.
type Listener struct {
	listener *net.TCPListener
}

// Accept waits for the next inbound connection.
func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	if deadline, ok := ctx.Deadline(); ok {
		l.listener.SetDeadline(deadline)
	}

	tcpConn, err := l.listener.AcceptTCP()
	if err != nil {
		return nil, err
	}
	return &Conn{conn: tcpConn}, nil
}

func (l *Listener) Close() error     { return l.listener.Close() }
func (l *Listener) Addr() net.Addr   { return l.listener.Addr() }

// Conn wraps a net.Conn.
type Conn struct {
	conn net.Conn
}

func (c *Conn) Read(b []byte) (int, error)  { return c.conn.Read(b) }
func (c *Conn) Write(b []byte) (int, error) { return c.conn.Write(b) }
func (c *Conn) Close() error                { return c.conn.Close() }
func (c *Conn) LocalAddr() net.Addr         { return c.conn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr        { return c.conn.RemoteAddr() }

func (c *Conn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *Conn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
