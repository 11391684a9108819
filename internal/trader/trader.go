// Package trader implements logged-in trader sessions. A session binds a
// client connection to an account, is shared by reference counting between
// the connection servicer, resting orders and in-flight broadcasts, and
// serializes all writes to its socket.
package trader

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/bourse-exchange/bourse/internal/account"
	"github.com/bourse-exchange/bourse/internal/protocol"
	"github.com/bourse-exchange/bourse/pkg/logging"
)

// ErrNameInUse is returned by Login when the name already has a session.
var ErrNameInUse = errors.New("name already logged in")

// ErrCapacity is returned by Login when the registry is full.
var ErrCapacity = errors.New("trader registry capacity exhausted")

// Trader is a logged-in session. The reference count is guarded by its own
// mutex; socket writes are serialized by a separate write mutex so that
// matchmaker notifications never interleave with servicer responses.
type Trader struct {
	conn net.Conn
	name string
	acct *account.Account
	log  *logging.Logger

	refMu sync.Mutex
	refs  int

	writeMu sync.Mutex
}

// Name returns the session's user name.
func (t *Trader) Name() string {
	return t.name
}

// Account returns the account the session is bound to.
func (t *Trader) Account() *account.Account {
	return t.acct
}

// Ref takes a reference on the session and returns it. The why argument only
// feeds the debug log.
func (t *Trader) Ref(why string) *Trader {
	t.refMu.Lock()
	t.refs++
	n := t.refs
	t.refMu.Unlock()

	t.log.Debug("Ref", "refs", n, "why", why)
	return t
}

// Unref releases a reference. The final release closes the socket. A release
// below zero is a programming error and panics.
func (t *Trader) Unref(why string) {
	t.refMu.Lock()
	t.refs--
	n := t.refs
	t.refMu.Unlock()

	t.log.Debug("Unref", "refs", n, "why", why)
	if n < 0 {
		panic(fmt.Sprintf("trader %q refcount went negative", t.name))
	}
	if n == 0 {
		t.conn.Close()
		t.log.Debug("Session destroyed")
	}
}

// SendPacket writes a packet to the session's socket under the write mutex.
func (t *Trader) SendPacket(hdr protocol.Header, payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.log.Debug("=>", "type", hdr.Type, "size", hdr.PayloadSize)
	return protocol.Send(t.conn, hdr, payload)
}

// SendAck sends an ACK, with the status payload if one is supplied.
func (t *Trader) SendAck(status *protocol.StatusInfo) error {
	if status == nil {
		return t.SendPacket(protocol.NewHeader(protocol.AckPkt, 0), nil)
	}
	payload := status.Encode()
	return t.SendPacket(protocol.NewHeader(protocol.AckPkt, len(payload)), payload)
}

// SendNack sends a NACK with no payload.
func (t *Trader) SendNack() error {
	return t.SendPacket(protocol.NewHeader(protocol.NackPkt, 0), nil)
}

// Registry is the name-indexed set of logged-in sessions. At most one session
// exists per name at a time.
type Registry struct {
	mu       sync.Mutex
	byName   map[string]*Trader
	capacity int
	accounts *account.Store
	log      *logging.Logger
}

// NewRegistry creates a trader registry bounded by capacity, backed by the
// given account store.
func NewRegistry(accounts *account.Store, capacity int) *Registry {
	return &Registry{
		byName:   make(map[string]*Trader),
		capacity: capacity,
		accounts: accounts,
		log:      logging.GetDefault().Component("traders"),
	}
}

// Login creates a session binding conn to the account for name. It fails if
// the name already has a session, the registry is full, or the account store
// refuses the lookup. The returned session holds one reference, owned by the
// caller.
func (r *Registry) Login(conn net.Conn, name string) (*Trader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return nil, ErrNameInUse
	}
	if len(r.byName) >= r.capacity {
		return nil, ErrCapacity
	}

	acct, err := r.accounts.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("account lookup: %w", err)
	}

	t := &Trader{
		conn: conn,
		name: name,
		acct: acct,
		refs: 1,
		log:  logging.GetDefault().Component("trader").With("name", name),
	}
	r.byName[name] = t
	r.log.Info("Trader logged in", "name", name, "online", len(r.byName))
	return t, nil
}

// Logout removes the session from the name index and releases the servicer's
// reference. The socket stays open until the final reference is released.
func (r *Registry) Logout(t *Trader) {
	r.mu.Lock()
	if cur, ok := r.byName[t.name]; ok && cur == t {
		delete(r.byName, t.name)
	}
	online := len(r.byName)
	r.mu.Unlock()

	r.log.Info("Trader logged out", "name", t.name, "online", online)
	t.Unref("logout")
}

// Len returns the number of logged-in sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}

// Broadcast sends a packet to every logged-in session. The logged-in set is
// snapshotted under the registry lock with one reference per recipient; the
// sends happen outside the lock. A send failure to a departing session is
// harmless and only logged.
func (r *Registry) Broadcast(hdr protocol.Header, payload []byte) {
	r.mu.Lock()
	recipients := make([]*Trader, 0, len(r.byName))
	for _, t := range r.byName {
		recipients = append(recipients, t.Ref("broadcast"))
	}
	r.mu.Unlock()

	for _, t := range recipients {
		if err := t.SendPacket(hdr, payload); err != nil {
			r.log.Debug("Broadcast send failed", "name", t.Name(), "error", err)
		}
		t.Unref("broadcast")
	}
}

// Close empties the name index during server teardown. All servicers have
// already logged out by the time this runs; anything left indicates a session
// leak and is logged.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name := range r.byName {
		r.log.Warn("Session still logged in at teardown", "name", name)
		delete(r.byName, name)
	}
}
