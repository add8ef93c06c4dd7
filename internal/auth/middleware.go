package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Claims is the dashboard user extracted from a bearer token
type Claims struct {
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	Role   string   `json:"role"`
	Groups []string `json:"groups"`
	jwt.RegisteredClaims
}

type contextKey string

const UserContextKey contextKey = "user"

var validMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

// Config controls the dashboard gate
type Config struct {
	SkipAuth        bool
	IssuerURL       string
	VerifySignature bool
}

// LoadConfig reads SKIP_AUTH, OIDC_ISSUER_URL, ENV and VERIFY_JWT_SIGNATURE.
// Signatures are verified by default outside development.
func LoadConfig() Config {
	env := os.Getenv("ENV")
	issuer := os.Getenv("OIDC_ISSUER_URL")
	if issuer == "" {
		issuer = os.Getenv("OIDC_ISSUER")
	}
	return Config{
		SkipAuth:        os.Getenv("SKIP_AUTH") == "true",
		IssuerURL:       issuer,
		VerifySignature: os.Getenv("VERIFY_JWT_SIGNATURE") == "true" || (env != "" && env != "development"),
	}
}

// JWKSManager handles JWKS fetching and caching
type JWKSManager struct {
	issuerURL  string
	mu         sync.RWMutex
	keyfunc    jwt.Keyfunc
	lastUpdate time.Time
}

// NewJWKSManager fetches the issuer's key set (Keycloak certs endpoint)
func NewJWKSManager(issuerURL string) (*JWKSManager, error) {
	m := &JWKSManager{issuerURL: issuerURL}
	if err := m.refresh(); err != nil {
		return nil, err
	}
	return m, nil
}

// refresh fetches the JWKS from the OIDC provider
func (m *JWKSManager) refresh() error {
	jwksURL := strings.TrimSuffix(m.issuerURL, "/") + "/protocol/openid-connect/certs"

	k, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return fmt.Errorf("failed to create keyfunc for %s: %w", jwksURL, err)
	}

	m.mu.Lock()
	m.keyfunc = k.Keyfunc
	m.lastUpdate = time.Now()
	m.mu.Unlock()
	return nil
}

// Keyfunc returns the JWT keyfunc for token verification
func (m *JWKSManager) Keyfunc() jwt.Keyfunc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keyfunc
}

// Gate validates bearer tokens for dashboard and debug routes
type Gate struct {
	cfg     Config
	keyfunc jwt.Keyfunc
	logger  zerolog.Logger
}

// NewGate creates a Gate. keyfunc may be nil when signatures are not verified.
func NewGate(cfg Config, keyfunc jwt.Keyfunc, logger zerolog.Logger) *Gate {
	return &Gate{
		cfg:     cfg,
		keyfunc: keyfunc,
		logger:  logger.With().Str("component", "auth").Logger(),
	}
}

// Middleware validates JWT tokens from the OIDC provider
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.cfg.SkipAuth {
			ctx := context.WithValue(r.Context(), UserContextKey, &Claims{
				Email: "dev@wallboard.local",
				Name:  "Dev User",
				Role:  "admin",
				RegisteredClaims: jwt.RegisteredClaims{
					Subject: "dev",
				},
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		tokenString := extractToken(r)
		if tokenString == "" {
			g.logger.Debug().Str("path", r.URL.Path).Msg("missing authorization token")
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}

		claims, err := g.validateToken(tokenString)
		if err != nil {
			g.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("token validation failed")
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}

		g.logger.Debug().
			Str("email", claims.Email).
			Str("role", claims.Role).
			Msg("user authenticated")

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken gets the token from Authorization header or query parameter
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString != authHeader {
			return tokenString
		}
	}

	// Query parameter for WebSocket connections
	return r.URL.Query().Get("token")
}

// validateToken parses the token, verifying the signature when configured
func (g *Gate) validateToken(tokenString string) (*Claims, error) {
	mapClaims := jwt.MapClaims{}

	if g.cfg.VerifySignature {
		if g.keyfunc == nil {
			return nil, errors.New("JWKS not available")
		}
		token, err := jwt.ParseWithClaims(tokenString, mapClaims, g.keyfunc, jwt.WithValidMethods(validMethods))
		if err != nil {
			return nil, fmt.Errorf("token verification failed: %w", err)
		}
		if !token.Valid {
			return nil, errors.New("invalid token")
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(tokenString, mapClaims); err != nil {
			return nil, fmt.Errorf("failed to parse token: %w", err)
		}
		// Verified tokens have exp checked by the parser.
		if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
			return nil, errors.New("token expired")
		}
	}

	claims := &Claims{
		Role:   extractRole(mapClaims),
		Groups: stringSlice(mapClaims["groups"]),
	}
	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}
	if name, ok := mapClaims["name"].(string); ok {
		claims.Name = name
	} else if preferred, ok := mapClaims["preferred_username"].(string); ok {
		claims.Name = preferred
	}
	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil {
		claims.ExpiresAt = exp
	}

	return claims, nil
}

// extractRole reads Keycloak realm roles, then Cognito groups
func extractRole(mapClaims jwt.MapClaims) string {
	if realmAccess, ok := mapClaims["realm_access"].(map[string]interface{}); ok {
		roles := stringSlice(realmAccess["roles"])
		for _, priority := range []string{"admin", "supervisor", "viewer"} {
			for _, role := range roles {
				if role == priority {
					return role
				}
			}
		}
	}

	for _, group := range stringSlice(mapClaims["cognito:groups"]) {
		switch {
		case strings.Contains(group, "admin"):
			return "admin"
		case strings.Contains(group, "supervisor"):
			return "supervisor"
		}
	}

	return "viewer"
}

func stringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// GetUserFromContext retrieves user claims from request context
func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	return claims, ok
}

// HasRole checks if user has specific role
func HasRole(claims *Claims, role string) bool {
	return claims.Role == role
}
