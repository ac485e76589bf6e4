package signaling

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WSOptions tunes the per-connection WebSocket pumps.
type WSOptions struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

func (o WSOptions) withDefaults() WSOptions {
	out := o
	if out.SendBuffer <= 0 {
		out.SendBuffer = 32
	}
	if out.WriteWait <= 0 {
		out.WriteWait = 10 * time.Second
	}
	if out.PongWait <= 0 {
		out.PongWait = 60 * time.Second
	}
	if out.PingPeriod <= 0 || out.PingPeriod >= out.PongWait {
		out.PingPeriod = out.PongWait * 9 / 10
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = 64 << 10
	}
	return out
}

var (
	ErrTransportClosed = errors.New("signaling: transport closed")
	ErrBufferFull      = errors.New("signaling: send buffer full")
)

// wsTransport adapts a gorilla connection to Transport. gorilla allows one
// concurrent writer, so all writes go through the send channel and the
// write pump.
type wsTransport struct {
	ws   *websocket.Conn
	opts WSOptions

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSTransport(ws *websocket.Conn, opts WSOptions) *wsTransport {
	return &wsTransport{
		ws:   ws,
		opts: opts,
		send: make(chan []byte, opts.SendBuffer),
		done: make(chan struct{}),
	}
}

func (t *wsTransport) Send(msg []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	select {
	case t.send <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

// writePump drains the send queue until the transport is closed or a write
// fails. It owns closing the underlying socket, which unblocks readPump.
func (t *wsTransport) writePump() {
	ticker := time.NewTicker(t.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = t.Close()
		_ = t.ws.Close()
	}()

	for {
		select {
		case msg := <-t.send:
			_ = t.ws.SetWriteDeadline(time.Now().Add(t.opts.WriteWait))
			if err := t.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = t.ws.SetWriteDeadline(time.Now().Add(t.opts.WriteWait))
			if err := t.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-t.done:
			_ = t.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(t.opts.WriteWait))
			return
		}
	}
}

// Handler upgrades HTTP requests to signaling connections.
//
// Callers connect to the bare endpoint and receive a generated ID. The
// operator connects with ?role=owner and is registered under OwnerID.
type Handler struct {
	Router  *Router
	OwnerID string

	// AuthorizeOwner vets an owner join before the upgrade. Nil admits any
	// owner.
	AuthorizeOwner func(c *gin.Context) error

	// AllowedOrigins restricts browser origins. Empty allows all.
	AllowedOrigins []string

	Options WSOptions
}

func (h *Handler) upgrader() websocket.Upgrader {
	allowed := h.AllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
}

func (h *Handler) ServeWS(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Router == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "signaling not configured"})
		return
	}

	role := RoleCaller
	id := ""
	if strings.EqualFold(c.Query("role"), string(RoleOwner)) {
		role = RoleOwner
		id = h.OwnerID
		if h.AuthorizeOwner != nil {
			if err := h.AuthorizeOwner(c); err != nil {
				log.Warn("owner join rejected", "err", err)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid owner token"})
				return
			}
		}
	}

	up := h.upgrader()
	ws, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Warn("websocket upgrade failed", "err", err)
		return
	}

	opts := h.Options.withDefaults()
	t := newWSTransport(ws, opts)

	conn, err := h.Router.Accept(role, id, t)
	if err != nil {
		log.Warn("signaling accept failed", "role", role, "err", err)
		reason := "registration failed"
		if errors.Is(err, ErrIDInUse) {
			reason = "owner already connected"
		}
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
			time.Now().Add(opts.WriteWait))
		_ = ws.Close()
		return
	}

	go t.writePump()
	h.readPump(conn, t)
}

// readPump feeds inbound messages to the router until the socket fails.
// Routing errors stay local to this connection.
func (h *Handler) readPump(conn *Conn, t *wsTransport) {
	defer h.Router.Close(conn)

	t.ws.SetReadLimit(t.opts.MaxMessageSize)
	_ = t.ws.SetReadDeadline(time.Now().Add(t.opts.PongWait))
	t.ws.SetPongHandler(func(string) error {
		return t.ws.SetReadDeadline(time.Now().Add(t.opts.PongWait))
	})

	for {
		_, msg, err := t.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = h.Router.OnMessage(conn, msg)
	}
}
