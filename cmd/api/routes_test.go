package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"callbridge/internal/config"
	"callbridge/internal/metrics"
	"callbridge/internal/signaling"
	"callbridge/internal/voice"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type fakeCarrier struct{ hits atomic.Int32 }

func (c *fakeCarrier) Name() string { return "fake" }

func (c *fakeCarrier) PlaceCall(ctx context.Context, req voice.PlaceCallRequest) (voice.PlaceCallResult, error) {
	c.hits.Add(1)
	return voice.PlaceCallResult{Sid: "CA1", Status: "queued"}, nil
}

// onePerSubject admits the first call per subject and records every key.
type onePerSubject struct {
	mu       sync.Mutex
	seen     map[string]int
	subjects []string
}

func (l *onePerSubject) Allow(ctx context.Context, subject string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = map[string]int{}
	}
	l.seen[subject]++
	l.subjects = append(l.subjects, subject)
	return l.seen[subject] == 1, nil
}

func testConfig() config.Config {
	return config.Config{
		App:    config.AppConfig{Env: "dev", Port: 8080},
		Signal: config.SignalConfig{OwnerID: "owner-id", SendBuffer: 8},
		Voice: config.VoiceConfig{
			AccountSID:     "AC123",
			AuthToken:      "auth-token",
			TwiMLAppSID:    "AP123",
			PhoneNumber:    "+15550000001",
			OperatorNumber: "+15550000002",
			PublicBaseURL:  "https://example.test",
			TokenTTL:       time.Hour,
		},
	}
}

func newTestServer(t *testing.T, cfg config.Config, carrier voice.Carrier, limiter voice.CallLimiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Discard()

	r, err := newEngine(cfg, log)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	m := metrics.NewCollector(nil)
	registerRoutes(r, deps{
		cfg:     cfg,
		router:  signaling.NewRouter(signaling.NewRegistry(), log, m),
		gateway: voice.NewGateway(cfg.Voice, carrier, log, m),
		sink:    voice.NewStatusSink(nil, log, m),
		limiter: limiter,
		metrics: m,
	})
	return r
}

func TestCallRateLimit_ForwardedHeadersShareOneKey(t *testing.T) {
	carrier := &fakeCarrier{}
	limiter := &onePerSubject{}
	r := newTestServer(t, testConfig(), carrier, limiter)

	var allowed, limited int
	for _, xff := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"} {
		req := httptest.NewRequest(http.MethodPost, "/api/voice/call", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", xff)
		req.Header.Set("X-Real-IP", xff)
		req.RemoteAddr = "203.0.113.9:40000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		switch w.Code {
		case http.StatusOK:
			allowed++
		case http.StatusTooManyRequests:
			limited++
		default:
			t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
		}
	}

	if allowed != 1 || limited != 4 {
		t.Fatalf("expected 1 allowed and 4 limited, got %d/%d", allowed, limited)
	}
	if n := carrier.hits.Load(); n != 1 {
		t.Fatalf("carrier called %d times", n)
	}
	for _, s := range limiter.subjects {
		if s != "203.0.113.9" {
			t.Fatalf("rate limit keyed on %q, want the peer address", s)
		}
	}
}

func TestCallRateLimit_TrustedProxyForwardsClientIP(t *testing.T) {
	cfg := testConfig()
	cfg.App.TrustedProxies = []string{"203.0.113.0/24"}
	limiter := &onePerSubject{}
	r := newTestServer(t, cfg, &fakeCarrier{}, limiter)

	req := httptest.NewRequest(http.MethodPost, "/api/voice/call", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	req.RemoteAddr = "203.0.113.9:40000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(limiter.subjects) != 1 || limiter.subjects[0] != "198.51.100.7" {
		t.Fatalf("unexpected subjects %q", limiter.subjects)
	}
}

func TestNewEngine_RejectsBadTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.App.TrustedProxies = []string{"not-an-ip"}
	if _, err := newEngine(cfg, logger.Discard()); err == nil {
		t.Fatalf("expected error for invalid proxy")
	}
}

func TestSignaling_AllowedOrigins(t *testing.T) {
	cfg := testConfig()
	cfg.Signal.AllowedOrigins = []string{"https://example.test"}
	srv := httptest.NewServer(newTestServer(t, cfg, &fakeCarrier{}, nil))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.test"}})
	if err == nil {
		t.Fatalf("expected foreign origin to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://example.test"}})
	if err != nil {
		t.Fatalf("allowed origin refused: %v", err)
	}
	defer conn.Close()

	var env signaling.Envelope
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if env.Type != signaling.TypeConnected || env.ID == "" {
		t.Fatalf("unexpected greeting %+v", env)
	}
}
