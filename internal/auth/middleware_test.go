package auth

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

// echoUser responds with the authenticated email
var echoUser = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	claims, ok := GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "no user", http.StatusInternalServerError)
		return
	}
	w.Write([]byte(claims.Email + "|" + claims.Role + "|" + claims.Subject))
})

func TestMiddlewareVerified(t *testing.T) {
	key := newKey(t)
	other := newKey(t)
	keyfunc := func(*jwt.Token) (interface{}, error) { return &key.PublicKey, nil }

	gate := NewGate(Config{VerifySignature: true}, keyfunc, zerolog.New(&bytes.Buffer{}))
	handler := gate.Middleware(echoUser)

	valid := signToken(t, key, jwt.MapClaims{
		"sub":          "u-1",
		"email":        "lead@example.com",
		"realm_access": map[string]interface{}{"roles": []interface{}{"viewer", "supervisor"}},
		"exp":          time.Now().Add(time.Hour).Unix(),
	})
	expired := signToken(t, key, jwt.MapClaims{"sub": "u-1", "exp": time.Now().Add(-time.Hour).Unix()})
	forged := signToken(t, other, jwt.MapClaims{"sub": "u-1", "exp": time.Now().Add(time.Hour).Unix()})

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantBody   string
	}{
		{"missing token", "", "", http.StatusUnauthorized, ""},
		{"valid header", "Bearer " + valid, "", http.StatusOK, "lead@example.com|supervisor|u-1"},
		{"valid query", "", valid, http.StatusOK, "lead@example.com|supervisor|u-1"},
		{"not bearer", "Basic abc", "", http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized, ""},
		{"wrong key", "Bearer " + forged, "", http.StatusUnauthorized, ""},
		{"garbage", "Bearer not.a.jwt", "", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/snapshot"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("expected body %q, got %q", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestMiddlewareVerifyWithoutKeys(t *testing.T) {
	gate := NewGate(Config{VerifySignature: true}, nil, zerolog.New(&bytes.Buffer{}))
	token := signToken(t, newKey(t), jwt.MapClaims{"sub": "u"})

	req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	gate.Middleware(echoUser).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without JWKS, got %d", rec.Code)
	}
}

func TestMiddlewareUnverified(t *testing.T) {
	gate := NewGate(Config{}, nil, zerolog.New(&bytes.Buffer{}))
	handler := gate.Middleware(echoUser)
	key := newKey(t)

	tests := []struct {
		name       string
		claims     jwt.MapClaims
		wantStatus int
		wantBody   string
	}{
		{
			name:       "cognito admin",
			claims:     jwt.MapClaims{"sub": "u-2", "email": "ops@example.com", "cognito:groups": []interface{}{"wallboard-admins"}},
			wantStatus: http.StatusOK,
			wantBody:   "ops@example.com|admin|u-2",
		},
		{
			name:       "default viewer",
			claims:     jwt.MapClaims{"sub": "u-3", "email": "tv@example.com"},
			wantStatus: http.StatusOK,
			wantBody:   "tv@example.com|viewer|u-3",
		},
		{
			name:       "expired",
			claims:     jwt.MapClaims{"sub": "u-4", "exp": time.Now().Add(-time.Minute).Unix()},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, key, tt.claims))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("expected body %q, got %q", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestMiddlewareSkipAuth(t *testing.T) {
	gate := NewGate(Config{SkipAuth: true}, nil, zerolog.New(&bytes.Buffer{}))

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	rec := httptest.NewRecorder()
	gate.Middleware(echoUser).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "dev@wallboard.local|admin|dev" {
		t.Errorf("unexpected dev user %q", rec.Body.String())
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		verify bool
		skip   bool
		issuer string
	}{
		{"development default", map[string]string{}, false, false, ""},
		{"production verifies", map[string]string{"ENV": "production", "OIDC_ISSUER_URL": "https://sso/realms/x"}, true, false, "https://sso/realms/x"},
		{"explicit verify", map[string]string{"ENV": "development", "VERIFY_JWT_SIGNATURE": "true"}, true, false, ""},
		{"skip auth", map[string]string{"SKIP_AUTH": "true"}, false, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"ENV", "OIDC_ISSUER_URL", "OIDC_ISSUER", "VERIFY_JWT_SIGNATURE", "SKIP_AUTH"} {
				t.Setenv(k, tt.env[k])
			}
			cfg := LoadConfig()
			if cfg.VerifySignature != tt.verify || cfg.SkipAuth != tt.skip || cfg.IssuerURL != tt.issuer {
				t.Errorf("unexpected config %+v", cfg)
			}
		})
	}
}
