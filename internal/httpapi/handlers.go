package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ConnCounter reports live signaling connections.
type ConnCounter interface {
	Len() int
}

// Handlers groups operational HTTP handlers for dependency injection.
// Keep these thin: no business logic.
type Handlers struct {
	Connections ConnCounter
	// RedisPing is optional; nil means the process runs without Redis.
	RedisPing func(ctx context.Context) error
	// VoiceMissing lists unset carrier settings. Only whether any are missing is exposed.
	VoiceMissing func() []string

	PingTimeout time.Duration
}

// Healthz is a liveness probe.
func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz reports whether dependencies are reachable. Voice configuration
// gaps are reported but do not fail readiness; signaling works without it.
func (h Handlers) Readyz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	code := http.StatusOK

	if h.Connections != nil {
		body["signaling_connections"] = h.Connections.Len()
	}

	if h.RedisPing != nil {
		timeout := h.PingTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		if err := h.RedisPing(ctx); err != nil {
			body["status"] = "degraded"
			body["redis"] = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			body["redis"] = "ok"
		}
	}

	if h.VoiceMissing != nil {
		missing := h.VoiceMissing()
		body["voice_configured"] = len(missing) == 0
	}

	c.JSON(code, body)
}
