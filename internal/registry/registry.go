// Package registry tracks the set of live client connections so that shutdown
// can half-close every socket and wait for the servicers to drain.
package registry

import (
	"errors"
	"net"
	"sync"

	"github.com/bourse-exchange/bourse/pkg/logging"
)

// ErrCapacity is returned by Register when the registry is full.
var ErrCapacity = errors.New("client registry capacity exhausted")

// readCloser is implemented by connections that support a read-side
// half-close (notably *net.TCPConn).
type readCloser interface {
	CloseRead() error
}

// Registry is a set of live client connections with a one-shot becomes-empty
// latch. Server shutdown lowers the latch on the transition to empty; it is
// never rearmed.
type Registry struct {
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	capacity int
	drained  chan struct{}
	lowered  bool
	log      *logging.Logger
}

// New creates a client registry bounded by capacity.
func New(capacity int) *Registry {
	return &Registry{
		conns:    make(map[net.Conn]struct{}),
		capacity: capacity,
		drained:  make(chan struct{}),
		log:      logging.GetDefault().Component("registry"),
	}
}

// Register adds a connection to the set.
func (r *Registry) Register(conn net.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.conns) >= r.capacity {
		return ErrCapacity
	}
	r.conns[conn] = struct{}{}
	r.log.Debug("Registered client", "connected", len(r.conns))
	return nil
}

// Unregister removes a connection, lowering the latch if the set becomes
// empty.
func (r *Registry) Unregister(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn]; !ok {
		return
	}
	delete(r.conns, conn)
	r.log.Debug("Unregistered client", "connected", len(r.conns))

	if len(r.conns) == 0 && !r.lowered {
		r.lowered = true
		close(r.drained)
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// ShutdownAll half-closes the read side of every registered connection,
// causing blocked receives in the servicers to observe EOF. Entries are not
// removed; the servicers unregister themselves on exit.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Info("Shutting down client connections", "count", len(r.conns))
	for conn := range r.conns {
		if rc, ok := conn.(readCloser); ok {
			if err := rc.CloseRead(); err != nil {
				r.log.Debug("CloseRead failed", "error", err)
			}
			continue
		}
		if err := conn.Close(); err != nil {
			r.log.Debug("Close failed", "error", err)
		}
	}
}

// WaitUntilEmpty blocks until the set of registered connections is empty. It
// returns immediately if the set is already empty, including when no
// connection was ever registered.
func (r *Registry) WaitUntilEmpty() {
	r.mu.Lock()
	if len(r.conns) == 0 {
		r.mu.Unlock()
		return
	}
	drained := r.drained
	r.mu.Unlock()

	<-drained
}
