package main

import (
	"context"
	"fmt"
	"log/slog"

	"callbridge/internal/auth"
	"callbridge/internal/config"
	"callbridge/internal/httpapi"
	"callbridge/internal/metrics"
	"callbridge/internal/rbac"
	"callbridge/internal/signaling"
	"callbridge/internal/voice"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type deps struct {
	cfg       config.Config
	router    *signaling.Router
	gateway   *voice.Gateway
	sink      *voice.StatusSink
	limiter   voice.CallLimiter
	ownerAuth *auth.Manager
	metrics   *metrics.Collector
	rdb       *redis.Client
}

// newEngine builds the gin engine. Forwarding headers are honored only from
// cfg.App.TrustedProxies; the client IP keys the call rate limit.
func newEngine(cfg config.Config, log *slog.Logger) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.App.TrustedProxies); err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	return r, nil
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d deps) {
	// public
	ops := httpapi.Handlers{
		Connections:  d.router.Registry(),
		VoiceMissing: d.gateway.Missing,
	}
	if d.rdb != nil {
		ops.RedisPing = func(ctx context.Context) error { return d.rdb.Ping(ctx).Err() }
	}
	r.GET("/healthz", ops.Healthz)
	r.GET("/readyz", ops.Readyz)
	r.GET("/metrics", gin.WrapH(d.metrics.Handler()))

	// Signaling. Callers are anonymous; the owner presents a bearer token
	// when owner auth is configured.
	ws := &signaling.Handler{
		Router:         d.router,
		OwnerID:        d.cfg.Signal.OwnerID,
		AllowedOrigins: d.cfg.Signal.AllowedOrigins,
		Options:        signaling.WSOptions{SendBuffer: d.cfg.Signal.SendBuffer},
	}
	if d.ownerAuth != nil {
		ws.AuthorizeOwner = rbac.Authorizer(d.ownerAuth, rbac.RoleOwner)
	}
	r.GET("/ws", ws.ServeWS)

	// Voice boundary. Carrier callbacks are public.
	// NOTE: status and instruction callbacks should be protected by carrier signature validation in production.
	vh := voice.Handlers{Gateway: d.gateway, Status: d.sink, Limiter: d.limiter}
	v := r.Group("/api/voice")
	{
		v.POST("/token", vh.MintToken)
		v.POST("/call", vh.PlaceCall)
		v.POST("/status", vh.StatusCallback)
		v.GET("/twiml", vh.Instructions)
		v.POST("/twiml", vh.Instructions)
	}

	// Operator-only call history.
	if d.ownerAuth != nil {
		history := v.Group("/calls")
		history.Use(auth.RequireAccessToken(d.ownerAuth))
		history.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleObserver))
		{
			history.GET("/:sid/status", vh.CallHistory)
		}
	}
}
