package registry

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func pipeConn(t *testing.T) net.Conn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a
}

func TestRegisterUnregister(t *testing.T) {
	r := New(8)

	c1, c2 := pipeConn(t), pipeConn(t)
	if err := r.Register(c1); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(c2); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}

	r.Unregister(c1)
	r.Unregister(c1) // double unregister is a no-op
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegisterCapacity(t *testing.T) {
	r := New(1)
	if err := r.Register(pipeConn(t)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(pipeConn(t)); !errors.Is(err, ErrCapacity) {
		t.Errorf("err = %v, want ErrCapacity", err)
	}
}

func TestWaitUntilEmptyImmediate(t *testing.T) {
	r := New(8)

	done := make(chan struct{})
	go func() {
		r.WaitUntilEmpty()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitUntilEmpty did not return on an empty registry")
	}
}

func TestWaitUntilEmptyLatch(t *testing.T) {
	r := New(8)
	c1, c2 := pipeConn(t), pipeConn(t)
	r.Register(c1)
	r.Register(c2)

	done := make(chan struct{})
	go func() {
		r.WaitUntilEmpty()
		close(done)
	}()

	r.Unregister(c1)
	select {
	case <-done:
		t.Fatal("WaitUntilEmpty returned while a client was registered")
	case <-time.After(50 * time.Millisecond):
	}

	r.Unregister(c2)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitUntilEmpty did not return after the registry drained")
	}

	// The latch stays lowered after the one-shot transition.
	r.WaitUntilEmpty()
}

func TestShutdownAllEOF(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientConn.Close()

	serverConn, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer serverConn.Close()

	r := New(8)
	if err := r.Register(serverConn); err != nil {
		t.Fatalf("Register: %v", err)
	}

	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := serverConn.Read(buf)
		readErr <- err
	}()

	r.ShutdownAll()

	select {
	case err := <-readErr:
		if err != io.EOF {
			t.Errorf("read err = %v, want io.EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked read did not observe the half-close")
	}

	// ShutdownAll does not remove entries; the servicer unregisters itself.
	if r.Len() != 1 {
		t.Errorf("Len after ShutdownAll = %d, want 1", r.Len())
	}
}
