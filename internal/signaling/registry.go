package signaling

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Role identifies which side of the call a connection belongs to.
type Role string

const (
	RoleCaller Role = "caller"
	RoleOwner  Role = "owner"
)

// Transport is the outbound half of one live signaling channel.
//
// Send must not block: if the message cannot be queued immediately it is
// dropped and an error returned. Close must be idempotent.
type Transport interface {
	Send(msg []byte) error
	Close() error
}

// Conn is one registered signaling participant. It is owned by the
// Registry; everything else refers to it by ID.
type Conn struct {
	ID   string
	Role Role

	transport Transport
}

// Send queues msg on the connection's transport without blocking.
func (c *Conn) Send(msg []byte) error { return c.transport.Send(msg) }

var (
	ErrIDInUse      = errors.New("signaling: connection id already in use")
	ErrInvalidID    = errors.New("signaling: connection id required")
	ErrNilTransport = errors.New("signaling: transport required")
	errIDsExhausted = errors.New("signaling: could not allocate a connection id")
)

const maxIDAttempts = 8

// Registry maps live connection IDs to their transports. It is safe for
// concurrent use; an ID is never handed out while a connection holds it.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	newID func() string
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
		newID: func() string { return "user-" + uuid.NewString() },
	}
}

// Register adds t under a freshly generated ID.
func (r *Registry) Register(role Role, t Transport) (*Conn, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	for i := 0; i < maxIDAttempts; i++ {
		c, err := r.RegisterAs(r.newID(), role, t)
		if errors.Is(err, ErrIDInUse) {
			continue
		}
		return c, err
	}
	return nil, errIDsExhausted
}

// RegisterAs adds t under a caller-chosen ID, used for the well-known owner
// identity. It fails with ErrIDInUse if a live connection already holds id.
func (r *Registry) RegisterAs(id string, role Role, t Transport) (*Conn, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidID
	}
	if t == nil {
		return nil, ErrNilTransport
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		return nil, ErrIDInUse
	}
	c := &Conn{ID: id, Role: role, transport: t}
	r.conns[id] = c
	return c, nil
}

func (r *Registry) Lookup(id string) (*Conn, bool) {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	return c, ok
}

// Unregister removes id. Removing an absent id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// UnregisterConn removes c only if it is still the holder of its ID, so a
// late close of a replaced connection cannot evict the new one. It reports
// whether c was removed.
func (r *Registry) UnregisterConn(c *Conn) bool {
	if c == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[c.ID]; ok && cur == c {
		delete(r.conns, c.ID)
		return true
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
