// Package auth resolves bearer tokens into request identities. Token
// issuance is the account service's job; this side only verifies.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
)

const RoleAdmin = "admin"

var ErrUnauthorized = errors.New("not authorized")

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	UserID uuid.UUID
	Role   string
}

func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

type contextKey struct{}

// FromContext returns the identity set by the middleware, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// Verifier parses and validates HS256 bearer tokens with a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// ResolveBearer extracts and verifies the Authorization header. Claims: the
// subject is the user id, "role" carries the admin flag.
func (v *Verifier) ResolveBearer(r *http.Request) (Identity, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return Identity{}, fmt.Errorf("%w: no token provided", ErrUnauthorized)
	}
	tokenStr := strings.TrimPrefix(header, "Bearer ")

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	subject, err := claims.GetSubject()
	if err != nil {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrUnauthorized)
	}
	userID, err := uuid.FromString(subject)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: malformed subject", ErrUnauthorized)
	}

	role, _ := claims["role"].(string)
	return Identity{UserID: userID, Role: role}, nil
}

// Middleware rejects requests without a valid bearer token and attaches the
// identity to the request context otherwise.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := v.ResolveBearer(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"not authorized"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// AdminOnly guards admin routes. It must sit behind Middleware.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := FromContext(r.Context())
		if !ok || !identity.IsAdmin() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"not authorized as an admin"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
