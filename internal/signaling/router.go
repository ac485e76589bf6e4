package signaling

import (
	"errors"
	"fmt"
	"log/slog"

	"callbridge/internal/metrics"
)

var (
	// ErrRoutingMiss means the envelope target is not registered. The
	// envelope is dropped and the sender is not told.
	ErrRoutingMiss = errors.New("signaling: target not registered")
	// ErrSendDropped means the target transport could not take the message
	// right now (buffer full or closing).
	ErrSendDropped = errors.New("signaling: send dropped")
	ErrNoTarget    = errors.New("signaling: envelope has no target")
)

// Router accepts connections into the registry and forwards envelopes
// between them. Forwarding holds no lock beyond the registry lookup, so
// unrelated pairs never serialize on each other.
type Router struct {
	registry *Registry
	log      *slog.Logger
	metrics  *metrics.Collector
}

func NewRouter(registry *Registry, log *slog.Logger, m *metrics.Collector) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{registry: registry, log: log, metrics: m}
}

func (r *Router) Registry() *Registry { return r.registry }

// Accept registers t and greets it with its assigned ID. id is only set for
// the well-known owner identity; callers get a generated one.
func (r *Router) Accept(role Role, id string, t Transport) (*Conn, error) {
	var (
		c   *Conn
		err error
	)
	if id == "" {
		c, err = r.registry.Register(role, t)
	} else {
		c, err = r.registry.RegisterAs(id, role, t)
	}
	if err != nil {
		return nil, err
	}

	hello, err := NewConnected(c.ID)
	if err == nil {
		err = c.Send(hello)
	}
	if err != nil {
		r.registry.UnregisterConn(c)
		return nil, fmt.Errorf("signaling: greet %s: %w", c.ID, err)
	}

	r.metrics.ConnectionOpened(string(role))
	r.log.Info("signaling connection accepted", "conn_id", c.ID, "role", role)
	return c, nil
}

// OnMessage handles one raw envelope from src. The returned error is for
// the caller's logs only; nothing is ever reported back to the sender.
func (r *Router) OnMessage(src *Conn, raw []byte) error {
	log := r.log.With("conn_id", src.ID)

	env, err := DecodeEnvelope(raw)
	if err != nil {
		r.metrics.RecordEnvelope("", metrics.OutcomeMalformed)
		log.Warn("discarding malformed envelope", "err", err)
		return err
	}

	if env.Type == TypeDisconnect {
		log.Info("connection requested disconnect")
		r.Close(src)
		return nil
	}
	if !routable(env.Type) {
		r.metrics.RecordEnvelope(typeLabel(env.Type), metrics.OutcomeDropped)
		log.Warn("discarding server-only envelope type", "type", env.Type)
		return fmt.Errorf("%w: type %q is not client-sendable", ErrMalformed, env.Type)
	}
	if env.Target == "" {
		r.metrics.RecordEnvelope(typeLabel(env.Type), metrics.OutcomeDropped)
		log.Warn("discarding envelope without target", "type", env.Type)
		return ErrNoTarget
	}

	return r.forward(log, env, raw)
}

func (r *Router) forward(log *slog.Logger, env Envelope, raw []byte) error {
	dst, ok := r.registry.Lookup(env.Target)
	if !ok {
		r.metrics.RecordEnvelope(typeLabel(env.Type), metrics.OutcomeMiss)
		log.Debug("routing miss", "type", env.Type, "target", env.Target)
		return ErrRoutingMiss
	}
	if err := dst.Send(raw); err != nil {
		r.metrics.RecordEnvelope(typeLabel(env.Type), metrics.OutcomeDropped)
		log.Warn("envelope dropped at target", "type", env.Type, "target", env.Target, "err", err)
		return fmt.Errorf("%w: %v", ErrSendDropped, err)
	}
	r.metrics.RecordEnvelope(typeLabel(env.Type), metrics.OutcomeDelivered)
	log.Debug("envelope forwarded", "type", env.Type, "target", env.Target)
	return nil
}

// Close unregisters c and closes its transport. Safe to call more than once
// and from both the read loop and a disconnect envelope.
func (r *Router) Close(c *Conn) {
	if c == nil {
		return
	}
	if r.registry.UnregisterConn(c) {
		r.metrics.ConnectionClosed(string(c.Role))
		r.log.Info("signaling connection closed", "conn_id", c.ID, "role", c.Role)
	}
	_ = c.transport.Close()
}
