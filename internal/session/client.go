// Package session implements the caller side of the signaling channel: it
// opens a connection, learns the identity the server assigns, and places a
// call to the owner.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"callbridge/internal/signaling"

	"github.com/gorilla/websocket"
)

type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateReady         State = "ready"
	StateCallInitiated State = "call-initiated"
)

var (
	// ErrNotReady is returned by InitiateCall before an ID is assigned or
	// after the transport is gone.
	ErrNotReady = errors.New("session: not ready to place a call")
	// ErrTransport wraps any failure of the underlying connection. Once seen
	// the client is disconnected for good.
	ErrTransport = errors.New("session: transport error")
	ErrUsed      = errors.New("session: client already connected once")
	ErrConfig    = errors.New("session: invalid config")
)

type Config struct {
	// URL is the signaling endpoint, e.g. ws://host/ws.
	URL string
	// OwnerID is the well-known identity calls are addressed to.
	OwnerID string

	Dialer *websocket.Dialer
	Header http.Header
	Logger *slog.Logger

	// OnStateChange, when set, is called after every state transition. It
	// runs on the goroutine that caused the change and must not block.
	OnStateChange func(State)

	// IncomingBuffer bounds Incoming(). Envelopes arriving while it is full
	// are dropped.
	IncomingBuffer int
	WriteWait      time.Duration
}

// Client is a single-use signaling session. There is no reconnect: after
// a transport failure a new Client is required.
type Client struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	state  State
	id     string
	err    error
	ws     *websocket.Conn
	used   bool
	closed bool

	writeMu sync.Mutex

	incoming  chan signaling.Envelope
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%w: URL required", ErrConfig)
	}
	if strings.TrimSpace(cfg.OwnerID) == "" {
		return nil, fmt.Errorf("%w: OwnerID required", ErrConfig)
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IncomingBuffer <= 0 {
		cfg.IncomingBuffer = 16
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	return &Client{
		cfg:      cfg,
		log:      cfg.Logger,
		state:    StateDisconnected,
		incoming: make(chan signaling.Envelope, cfg.IncomingBuffer),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ID returns the server-assigned identity, or "" until it arrives.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Err returns the transport error that ended the session, if any. A
// session closed with Disconnect has no error.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Incoming delivers envelopes other than the connected greeting. It is
// closed when the session ends.
func (c *Client) Incoming() <-chan signaling.Envelope { return c.incoming }

// Done is closed once the session is disconnected.
func (c *Client) Done() <-chan struct{} { return c.done }

// Connect dials the signaling endpoint and starts the read loop. It returns
// once the handshake completes; use WaitReady to block for the ID.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.used {
		c.mu.Unlock()
		return ErrUsed
	}
	c.used = true
	c.mu.Unlock()

	c.setState(StateConnecting)

	ws, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		c.fail(err)
		close(c.incoming)
		return c.Err()
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.readLoop(ws)
	return nil
}

// WaitReady blocks until the server has assigned an ID, the session ends,
// or ctx is done.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrNotReady
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InitiateCall sends a call envelope to the owner. It fails with
// ErrNotReady unless an ID has been assigned and the transport is open.
func (c *Client) InitiateCall() error {
	c.mu.Lock()
	id, ws, state := c.id, c.ws, c.state
	c.mu.Unlock()

	if id == "" || ws == nil || (state != StateReady && state != StateCallInitiated) {
		return ErrNotReady
	}

	env, err := signaling.NewCall(c.cfg.OwnerID, id)
	if err != nil {
		return err
	}
	if err := c.write(ws, env); err != nil {
		c.fail(err)
		return c.Err()
	}

	c.log.Info("call initiated", "conn_id", id, "target", c.cfg.OwnerID)
	c.setState(StateCallInitiated)
	return nil
}

// Send writes an arbitrary envelope, e.g. negotiation payloads, once ready.
func (c *Client) Send(env signaling.Envelope) error {
	c.mu.Lock()
	ws, state := c.ws, c.state
	c.mu.Unlock()
	if ws == nil || (state != StateReady && state != StateCallInitiated) {
		return ErrNotReady
	}
	if err := c.write(ws, env); err != nil {
		c.fail(err)
		return c.Err()
	}
	return nil
}

// Disconnect tells the server to drop this connection and closes the
// transport. Calling it on a closed session is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	ws, state := c.ws, c.state
	c.mu.Unlock()
	if ws == nil || state == StateDisconnected {
		return nil
	}

	writeErr := c.write(ws, signaling.Envelope{Type: signaling.TypeDisconnect})

	c.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.cfg.WriteWait))
	c.writeMu.Unlock()

	c.fail(nil)
	return writeErr
}

func (c *Client) write(ws *websocket.Conn, env signaling.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return ws.WriteMessage(websocket.TextMessage, raw)
}

func (c *Client) readLoop(ws *websocket.Conn) {
	defer close(c.incoming)

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		env, err := signaling.DecodeEnvelope(msg)
		if err != nil {
			c.log.Warn("ignoring malformed envelope", "err", err)
			continue
		}

		if env.Type == signaling.TypeConnected {
			c.onConnected(env.ID)
			continue
		}

		select {
		case c.incoming <- env:
		default:
			c.log.Warn("incoming buffer full, dropping envelope", "type", env.Type)
		}
	}
}

func (c *Client) onConnected(id string) {
	c.mu.Lock()
	if c.id != "" || id == "" {
		c.mu.Unlock()
		return
	}
	c.id = id
	c.mu.Unlock()

	c.log.Info("signaling identity assigned", "conn_id", id)
	c.setState(StateReady)
	c.readyOnce.Do(func() { close(c.ready) })
}

// fail moves the session to disconnected. A nil cause means a clean close.
func (c *Client) fail(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateDisconnected
	if cause != nil && c.err == nil {
		c.err = fmt.Errorf("%w: %v", ErrTransport, cause)
	}
	ws := c.ws
	cb := c.cfg.OnStateChange
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}
	if cause != nil {
		c.log.Warn("signaling session lost", "err", cause)
	}
	c.doneOnce.Do(func() { close(c.done) })
	if cb != nil {
		cb(StateDisconnected)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.closed || c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	cb := c.cfg.OnStateChange
	c.mu.Unlock()

	if cb != nil {
		cb(s)
	}
}
