package mcpserver

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	authMethodContextKey contextKey = "auth_method"
	clientIPContextKey   contextKey = "client_ip"
	claimsContextKey     contextKey = "claims"
)

// ClientIPFromContext returns the client IP resolved by the auth middleware.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPContextKey).(string)
	return ip
}

// AuthMethodFromContext returns how the request was authenticated: ip, jwt, bypass or none.
func AuthMethodFromContext(ctx context.Context) string {
	method, _ := ctx.Value(authMethodContextKey).(string)
	return method
}

// ClaimsFromContext returns the verified bearer token claims, if any.
func ClaimsFromContext(ctx context.Context) (*jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*jwt.RegisteredClaims)
	return claims, ok
}

func withAuth(ctx context.Context, method AuthMethod, clientIP string) context.Context {
	ctx = context.WithValue(ctx, authMethodContextKey, string(method))
	return context.WithValue(ctx, clientIPContextKey, clientIP)
}

func withClaims(ctx context.Context, claims *jwt.RegisteredClaims) context.Context {
	ctx = context.WithValue(ctx, claimsContextKey, claims)
	return context.WithValue(ctx, authMethodContextKey, string(AuthMethodJWT))
}
