package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/config"
	"callbridge/internal/metrics"
	"callbridge/internal/signaling"
	"callbridge/internal/voice"
	"callbridge/pkg/logger"
	"callbridge/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	var ownerAuth *auth.Manager
	if cfg.Owner.JWTSecret != "" {
		ownerAuth, err = auth.NewManager(cfg.Owner)
		if err != nil {
			log.Error("owner auth init failed", "err", err)
			os.Exit(1)
		}
	} else {
		log.Warn("OWNER_JWT_SECRET not set: owner joins are unauthenticated and call history is disabled")
	}

	if missing := cfg.Voice.Missing(); len(missing) > 0 {
		log.Warn("voice calling partially configured", "missing", missing)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	var (
		rdb     *redis.Client
		journal calls.Journal = calls.NewMemoryJournal(0)
		limiter voice.CallLimiter
	)
	if cfg.Redis.Addr != "" {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.Redis.Addr})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()

		journal = calls.NewRedisJournal(rdb, cfg.Redis.StatusRetention)
		if cfg.RateLimit.CallsPerWindow > 0 {
			limiter = utils.NewRateLimiter(rdb, "callbridge:ratelimit:call:", cfg.RateLimit.CallsPerWindow, cfg.RateLimit.Window)
		}
	}

	router := signaling.NewRouter(signaling.NewRegistry(), log, collector)
	gateway := voice.NewGateway(cfg.Voice, nil, log, collector)
	sink := voice.NewStatusSink(journal, log, collector)

	// Gin router
	r, err := newEngine(cfg, log)
	if err != nil {
		log.Error("http engine init failed", "err", err)
		os.Exit(1)
	}

	registerRoutes(r, deps{
		cfg:       cfg,
		router:    router,
		gateway:   gateway,
		sink:      sink,
		limiter:   limiter,
		ownerAuth: ownerAuth,
		metrics:   collector,
		rdb:       rdb,
	})

	// No WriteTimeout: signaling connections are long-lived and manage their
	// own write deadlines.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
