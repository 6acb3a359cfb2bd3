package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const claimsKey contextKey = "claims"

// Credentials are whatever the client presented on the Authorization
// header. Git clients send Basic; tooling may send a Bearer JWT.
type Credentials struct {
	Username string
	Password string
	Token    string
}

func (c Credentials) IsBearer() bool { return c.Token != "" }

// FromRequest extracts credentials from the Authorization header.
// Returns false when no credentials were presented.
func FromRequest(r *http.Request) (Credentials, bool) {
	if user, pass, ok := r.BasicAuth(); ok {
		return Credentials{Username: user, Password: pass}, true
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
		return Credentials{Token: token}, true
	}
	return Credentials{}, false
}

// WithClaims returns a context carrying authenticated claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims retrieves the claims from a request context. Returns nil if unauthenticated.
func GetClaims(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}
