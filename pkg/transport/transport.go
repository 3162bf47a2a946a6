// Package transport provides the reliable byte-stream abstraction the
// socket pool, upload engine, and download engine dial and accept through.
// The LAN-only scope of this system has no NAT traversal or WAN congestion
// concerns, so there is exactly one implementation (pkg/transport/tcp)
// rather than a pluggable registry of transports.
package transport

import (
	"context"
	"net"
	"time"
)

// Transport can listen for and dial reliable byte-stream connections.
type Transport interface {
	Listen(ctx context.Context, addr string) (Listener, error)
	Dial(ctx context.Context, addr string) (Conn, error)
	Name() string
}

// Listener accepts incoming connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() net.Addr
}

// Conn is a single reliable byte-stream connection between two peers.
type Conn interface {
	Read(b []byte) (n int, err error)
	Write(b []byte) (n int, err error)
	Close() error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Config holds dial/listen tuning parameters.
type Config struct {
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

// DefaultConfig returns a Config with the system's default timeouts.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: 10 * time.Second,
		KeepAlive:      30 * time.Second,
	}
}
