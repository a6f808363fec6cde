package mcpserver

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minJWTSecretLength = 32

var (
	// ErrMissingToken is returned when no bearer token is present.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for expired tokens.
	ErrExpiredToken = errors.New("token has expired")
)

// JWTConfig configures bearer token verification.
type JWTConfig struct {
	Secret        string
	Issuer        string
	Audience      string
	Leeway        time.Duration
	EnableLogging bool
}

// JWTAuthMiddleware verifies HS256 bearer tokens signed with a shared secret.
type JWTAuthMiddleware struct {
	secret        []byte
	parser        *jwt.Parser
	enableLogging bool
}

// NewJWTAuthMiddleware validates the configuration and builds the verifier.
func NewJWTAuthMiddleware(cfg *JWTConfig) (*JWTAuthMiddleware, error) {
	if cfg == nil {
		return nil, fmt.Errorf("JWT configuration is required")
	}
	if len(cfg.Secret) < minJWTSecretLength {
		return nil, fmt.Errorf("JWT secret must be at least %d bytes", minJWTSecretLength)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &JWTAuthMiddleware{
		secret:        []byte(cfg.Secret),
		parser:        jwt.NewParser(opts...),
		enableLogging: cfg.EnableLogging,
	}, nil
}

// Middleware rejects requests without a valid bearer token with 401.
func (m *JWTAuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.Authenticate(r)
		if err != nil {
			if m.enableLogging {
				log.Printf("JWT authentication failed for %s %s: %v", r.Method, r.URL.Path, err)
			}
			sendAuthenticationRequired(w, err)
			return
		}

		if m.enableLogging {
			log.Printf("Access granted via JWT for subject: %s", claims.Subject)
		}
		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// Authenticate verifies the request's bearer token.
func (m *JWTAuthMiddleware) Authenticate(r *http.Request) (*jwt.RegisteredClaims, error) {
	raw := extractBearerToken(r)
	if raw == "" {
		return nil, ErrMissingToken
	}
	return m.Verify(raw)
}

// Verify checks a raw token's signature and registered claims.
func (m *JWTAuthMiddleware) Verify(raw string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := m.parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func extractBearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func sendAuthenticationRequired(w http.ResponseWriter, err error) {
	challenge := `Bearer realm="toolbelt"`
	if err != nil && !errors.Is(err, ErrMissingToken) {
		challenge += `, error="invalid_token"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	writeAuthError(w, http.StatusUnauthorized, "Authentication required")
}
