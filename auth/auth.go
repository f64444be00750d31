// Package auth resolves the signed-in user for an HTTP request.
package auth

import (
	"context"
	"net/http"
)

// Session is the identity attached to an authenticated request
type Session struct {
	UserID string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Image  string `json:"image"`
}

// Resolver returns the session for r, or false when the request is
// unauthenticated. Implementations must not write to the response.
type Resolver interface {
	Resolve(r *http.Request) (*Session, bool)
}

// ResolverFunc adapts a function to Resolver
type ResolverFunc func(r *http.Request) (*Session, bool)

// Resolve implements Resolver
func (f ResolverFunc) Resolve(r *http.Request) (*Session, bool) { return f(r) }

type ctxKey struct{}

// WithSession stores s in ctx
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored by WithSession, or nil
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}

// Middleware resolves the session once per request and stores it in the
// request context. Unauthenticated requests pass through without one.
func Middleware(res Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s, ok := res.Resolve(r); ok {
				r = r.WithContext(WithSession(r.Context(), s))
			}
			next.ServeHTTP(w, r)
		})
	}
}
