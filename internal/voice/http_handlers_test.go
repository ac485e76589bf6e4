package voice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"callbridge/internal/calls"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

type stubLimiter struct {
	allow bool
	err   error
}

func (l stubLimiter) Allow(ctx context.Context, subject string) (bool, error) {
	return l.allow, l.err
}

func newTestEngine(h Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(logger.Middleware(logger.Discard()))
	r.POST("/api/voice/token", h.MintToken)
	r.POST("/api/voice/call", h.PlaceCall)
	r.POST(StatusCallbackPath, h.StatusCallback)
	r.GET(InstructionPath, h.Instructions)
	r.GET("/api/voice/calls/:sid/status", h.CallHistory)
	return r
}

func do(r http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestMintTokenHandler(t *testing.T) {
	h := Handlers{Gateway: newGateway(fullConfig(), &countingCarrier{}), Status: newSink()}
	r := newTestEngine(h)

	w := do(r, http.MethodPost, "/api/voice/token", "application/json", `{"identity":"alice"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if tok, _ := decodeBody(t, w)["token"].(string); tok == "" {
		t.Fatalf("expected token")
	}

	w = do(r, http.MethodPost, "/api/voice/token", "application/json", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing identity, got %d", w.Code)
	}
	if _, ok := decodeBody(t, w)["error"]; !ok {
		t.Fatalf("expected error body")
	}
}

func TestMintTokenHandler_NotConfigured(t *testing.T) {
	cfg := fullConfig()
	cfg.AuthToken, cfg.APIKeySecret = "", ""
	h := Handlers{Gateway: newGateway(cfg, &countingCarrier{}), Status: newSink()}

	w := do(newTestEngine(h), http.MethodPost, "/api/voice/token", "application/json", `{"identity":"alice"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "TWILIO") {
		t.Fatalf("configuration detail leaked: %s", body)
	}
}

func TestPlaceCallHandler(t *testing.T) {
	carrier := &countingCarrier{res: PlaceCallResult{Sid: "CA123"}}
	h := Handlers{Gateway: newGateway(fullConfig(), carrier), Status: newSink()}
	r := newTestEngine(h)

	w := do(r, http.MethodPost, "/api/voice/call", "application/json", `{"userPhoneNumber":"+15551234567"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["success"] != true || body["callSid"] != "CA123" {
		t.Fatalf("unexpected body %v", body)
	}

	// Empty body is allowed; the caller label is optional.
	w = do(r, http.MethodPost, "/api/voice/call", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty body, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPlaceCallHandler_CarrierFailureIsGeneric(t *testing.T) {
	carrier := &countingCarrier{err: errors.New("401 Authenticate secret=auth-token")}
	h := Handlers{Gateway: newGateway(fullConfig(), carrier), Status: newSink()}

	w := do(newTestEngine(h), http.MethodPost, "/api/voice/call", "application/json", `{}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if got := decodeBody(t, w)["error"]; got != "failed to connect call" {
		t.Fatalf("unexpected error %v", got)
	}
}

func TestPlaceCallHandler_RateLimited(t *testing.T) {
	carrier := &countingCarrier{res: PlaceCallResult{Sid: "CA1"}}
	h := Handlers{
		Gateway: newGateway(fullConfig(), carrier),
		Status:  newSink(),
		Limiter: stubLimiter{allow: false},
	}
	w := do(newTestEngine(h), http.MethodPost, "/api/voice/call", "application/json", `{}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if carrier.hits.Load() != 0 {
		t.Fatalf("rate-limited request reached the carrier")
	}

	// A limiter outage does not block calls.
	h.Limiter = stubLimiter{err: errors.New("redis down")}
	w = do(newTestEngine(h), http.MethodPost, "/api/voice/call", "application/json", `{}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 when limiter fails, got %d", w.Code)
	}
}

func TestStatusCallbackHandler_AlwaysAcknowledges(t *testing.T) {
	sink := newSink()
	r := newTestEngine(Handlers{Gateway: newGateway(fullConfig(), &countingCarrier{}), Status: sink})
	form := "application/x-www-form-urlencoded"

	for _, body := range []string{
		"CallSid=CA123&CallStatus=ringing",
		"CallSid=CA123&CallStatus=completed",
		"CallSid=CA123&CallStatus=something-new",
		"",
	} {
		w := do(r, http.MethodPost, StatusCallbackPath, form, body)
		if w.Code != http.StatusOK || w.Body.String() != "OK" {
			t.Fatalf("body %q: expected 200 OK, got %d %q", body, w.Code, w.Body.String())
		}
	}

	h, _ := sink.History(context.Background(), "CA123")
	if len(h) != 3 || h[0].Status != calls.StatusRinging || h[1].Status != calls.StatusCompleted {
		t.Fatalf("unexpected history %+v", h)
	}

	w := do(r, http.MethodGet, "/api/voice/calls/CA123/status", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decodeBody(t, w)["transitions"].([]any); len(got) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(got))
	}
}

func TestInstructionsHandler(t *testing.T) {
	r := newTestEngine(Handlers{Gateway: newGateway(fullConfig(), &countingCarrier{}), Status: newSink()})

	w := do(r, http.MethodGet, InstructionPath+"?caller=Jane", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(w.Body.String(), "Jane has requested a call") {
		t.Fatalf("expected caller announced: %s", w.Body.String())
	}
}
