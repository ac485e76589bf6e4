package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallLimiter throttles call placement per client. Allow errors fail open.
type CallLimiter interface {
	Allow(ctx context.Context, subject string) (bool, error)
}

// Handlers exposes the gateway and status sink over HTTP. Error responses
// never carry carrier or configuration detail; that is logged instead.
type Handlers struct {
	Gateway *Gateway
	Status  *StatusSink
	Limiter CallLimiter
}

type tokenRequest struct {
	Identity string `json:"identity"`
}

type callRequest struct {
	UserPhoneNumber string `json:"userPhoneNumber"`
}

func (h Handlers) MintToken(c *gin.Context) {
	log := logger.FromGin(c)

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	token, err := h.Gateway.MintCredential(c.Request.Context(), req.Identity)
	if err != nil {
		writeError(c, log, "mint credential", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h Handlers) PlaceCall(c *gin.Context) {
	log := logger.FromGin(c)

	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if h.Limiter != nil {
		ok, err := h.Limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Warn("call rate limiter unavailable", "err", err)
		} else if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many call requests, try again later"})
			return
		}
	}

	call, err := h.Gateway.PlaceCall(c.Request.Context(), req.UserPhoneNumber)
	if err != nil {
		writeError(c, log, "place call", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "callSid": call.Sid})
}

// StatusCallback always acknowledges; the carrier retries otherwise.
func (h Handlers) StatusCallback(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioStatusCallback(c.Request)
	if err != nil {
		log.Warn("status callback parse failed", "err", err)
		c.String(http.StatusOK, "OK")
		return
	}
	if _, err := h.Status.OnStatusCallback(c.Request.Context(), form.CallSid, form.CallStatus); err != nil {
		log.Warn("status callback not recorded", "call_sid", form.CallSid, "err", err)
	}
	c.String(http.StatusOK, "OK")
}

// Instructions serves the announcement the operator hears on answer.
func (h Handlers) Instructions(c *gin.Context) {
	log := logger.FromGin(c)

	twiml, err := RenderAnnouncement(c.Query("caller"))
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(twiml))
}

// CallHistory returns the recorded status transitions for one call.
func (h Handlers) CallHistory(c *gin.Context) {
	log := logger.FromGin(c)

	sid := c.Param("sid")
	history, err := h.Status.History(c.Request.Context(), sid)
	if err != nil {
		writeError(c, log, "call history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"callSid": sid, "transitions": history})
}

func writeError(c *gin.Context, log *slog.Logger, op string, err error) {
	var cfgErr *ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		log.Warn(op+" rejected: voice not configured", "missing", cfgErr.Missing)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "voice calling is not configured"})
	case errors.Is(err, ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrCarrier):
		log.Error(op+" failed at carrier", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "failed to connect call"})
	default:
		log.Error(op+" failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
