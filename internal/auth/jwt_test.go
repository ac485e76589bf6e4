package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callbridge/internal/config"

	"github.com/gin-gonic/gin"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.OwnerAuthConfig{JWTSecret: "secret", JWTIssuer: "callbridge", TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(config.OwnerAuthConfig{}); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestIssueAndVerify(t *testing.T) {
	m := newManager(t)

	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.Issue(now, "operator-1", "owner")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "operator-1" || claims.Role != "owner" || claims.Issuer != "callbridge" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	m := newManager(t)
	now := time.Unix(1700000000, 0).UTC()
	tok, _ := m.Issue(now, "operator-1", "owner")

	if _, err := m.Verify(tok, now.Add(2*time.Hour)); err == nil {
		t.Fatalf("expected expired token to fail")
	}

	other, _ := NewManager(config.OwnerAuthConfig{JWTSecret: "other", JWTIssuer: "callbridge"})
	if _, err := other.Verify(tok, now); err == nil {
		t.Fatalf("expected signature mismatch")
	}
}

func TestRequireAccessToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newManager(t)
	tok, _ := m.Issue(time.Now(), "operator-1", "owner")

	r := gin.New()
	r.GET("/x", RequireAccessToken(m), func(c *gin.Context) {
		role, err := Role(c.Request.Context())
		if err != nil || role != "owner" {
			t.Errorf("expected role in context, got %q %v", role, err)
		}
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{name: "header", header: "Bearer " + tok, want: http.StatusNoContent},
		{name: "query", query: "?token=" + tok, want: http.StatusNoContent},
		{name: "missing", want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x"+tc.query, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, w.Code)
		}
	}
}
