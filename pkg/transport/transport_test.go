package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

// MockTransport implements Transport for testing.
type MockTransport struct {
	name string
}

func (m *MockTransport) Listen(ctx context.Context, addr string) (Listener, error) {
	return &MockListener{addr: addr}, nil
}

func (m *MockTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	return &MockConn{addr: addr}, nil
}

func (m *MockTransport) Name() string { return m.name }

// MockListener implements Listener for testing.
type MockListener struct {
	addr   string
	closed bool
}

func (m *MockListener) Accept(ctx context.Context) (Conn, error) {
	if m.closed {
		return nil, net.ErrClosed
	}
	return &MockConn{addr: m.addr}, nil
}

func (m *MockListener) Close() error {
	m.closed = true
	return nil
}

func (m *MockListener) Addr() net.Addr {
	addr, _ := net.ResolveTCPAddr("tcp", m.addr)
	return addr
}

// MockConn implements Conn for testing.
type MockConn struct {
	addr   string
	closed bool
}

func (m *MockConn) Read(b []byte) (int, error) {
	if m.closed {
		return 0, net.ErrClosed
	}
	return 0, nil
}

func (m *MockConn) Write(b []byte) (int, error) {
	if m.closed {
		return 0, net.ErrClosed
	}
	return len(b), nil
}

func (m *MockConn) Close() error {
	m.closed = true
	return nil
}

func (m *MockConn) LocalAddr() net.Addr {
	addr, _ := net.ResolveTCPAddr("tcp", m.addr)
	return addr
}

func (m *MockConn) RemoteAddr() net.Addr {
	addr, _ := net.ResolveTCPAddr("tcp", m.addr)
	return addr
}

func (m *MockConn) SetDeadline(t time.Time) error      { return nil }
func (m *MockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *MockConn) SetWriteDeadline(t time.Time) error { return nil }

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.ConnectTimeout == 0 {
		t.Error("expected connect timeout to be set")
	}
	if config.KeepAlive == 0 {
		t.Error("expected keep-alive to be set")
	}
}

func TestTransportInterface(t *testing.T) {
	tr := &MockTransport{name: "test"}
	ctx := context.Background()

	listener, err := tr.Listen(ctx, "localhost:8080")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer listener.Close()

	conn, err := tr.Dial(ctx, "localhost:8080")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	data := []byte("test data")
	n, err := conn.Write(data)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(data) {
		t.Errorf("expected to write %d bytes, wrote %d", len(data), n)
	}

	if listener.Addr() == nil {
		t.Error("expected listener address to be set")
	}
}

func TestConnectionLifecycle(t *testing.T) {
	conn := &MockConn{addr: "localhost:8080"}

	if conn.LocalAddr() == nil {
		t.Error("expected local address to be set")
	}
	if conn.RemoteAddr() == nil {
		t.Error("expected remote address to be set")
	}

	deadline := time.Now().Add(time.Second)
	if err := conn.SetDeadline(deadline); err != nil {
		t.Errorf("SetDeadline: %v", err)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		t.Errorf("SetReadDeadline: %v", err)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		t.Errorf("SetWriteDeadline: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	if _, err := conn.Write([]byte("test")); err == nil {
		t.Error("expected write to fail after close")
	}
}
