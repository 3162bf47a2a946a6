package tcp

import (
	"context"
	"net"
	"testing"
)

func TestTCPTransport_Name(t *testing.T) {
	tr := New(nil)
	if tr.Name() != "tcp" {
		t.Errorf("expected transport name 'tcp', got %q", tr.Name())
	}
}

func TestTCPTransport_Listen(t *testing.T) {
	tr := New(nil)
	ctx := context.Background()

	listener, err := tr.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	addr := listener.Addr()
	if addr == nil {
		t.Fatal("expected listener address to be set")
	}
	if _, ok := addr.(*net.TCPAddr); !ok {
		t.Errorf("expected TCP address, got %T", addr)
	}
}

func TestTCPTransport_DialAndAccept(t *testing.T) {
	tr := New(nil)
	ctx := context.Background()

	listener, err := tr.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	addr := listener.Addr().String()

	acceptDone := make(chan error, 1)
	go func() {
		_, err := listener.Accept(ctx)
		acceptDone <- err
	}()

	conn, err := tr.Dial(ctx, addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := <-acceptDone; err != nil {
		t.Fatalf("accept: %v", err)
	}

	if conn.LocalAddr() == nil {
		t.Error("expected local address to be set")
	}
	if conn.RemoteAddr() == nil {
		t.Error("expected remote address to be set")
	}
}

func TestTCPTransport_AcceptAndCommunicate(t *testing.T) {
	tr := New(nil)
	ctx := context.Background()

	listener, err := tr.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	addr := listener.Addr().String()

	acceptDone := make(chan error, 1)
	serverConnCh := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept(ctx)
		if err == nil {
			serverConnCh <- conn
		}
		acceptDone <- err
	}()

	clientConn, err := tr.Dial(ctx, addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer clientConn.Close()

	if err := <-acceptDone; err != nil {
		t.Fatalf("accept: %v", err)
	}
	serverConn := <-serverConnCh
	defer serverConn.Close()

	testData := []byte("hello over tcp")

	n, err := clientConn.Write(testData)
	if err != nil {
		t.Fatalf("client write: %v", err)
	}
	if n != len(testData) {
		t.Errorf("expected to write %d bytes, wrote %d", len(testData), n)
	}

	readBuf := make([]byte, len(testData))
	n, err = serverConn.Read(readBuf)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if n != len(testData) {
		t.Errorf("expected to read %d bytes, read %d", len(testData), n)
	}
	if string(readBuf) != string(testData) {
		t.Errorf("expected %q, got %q", testData, readBuf)
	}
}

func TestTCPTransport_ContextCancellation(t *testing.T) {
	tr := New(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := tr.Listen(ctx, "127.0.0.1:0"); err == nil {
		t.Error("expected listen to fail with cancelled context")
	}
	if _, err := tr.Dial(ctx, "127.0.0.1:12345"); err == nil {
		t.Error("expected dial to fail with cancelled context")
	}
}

func TestTCPTransport_InvalidAddress(t *testing.T) {
	tr := New(nil)
	ctx := context.Background()

	if _, err := tr.Listen(ctx, "invalid:address"); err == nil {
		t.Error("expected listen to fail with invalid address")
	}
	if _, err := tr.Dial(ctx, "invalid:address"); err == nil {
		t.Error("expected dial to fail with invalid address")
	}
}
