package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

var alice = Session{UserID: "u-alice", Name: "Alice", Email: "alice@example.com", Image: "https://example.com/a.png"}

func TestIssueAndVerify(t *testing.T) {
	tok, err := Issue(testSecret, alice, time.Hour)
	require.NoError(t, err)

	s, err := Verify(testSecret, tok)
	require.NoError(t, err)
	assert.Equal(t, alice, *s)
}

func TestVerifyRejects(t *testing.T) {
	good, err := Issue(testSecret, alice, time.Hour)
	require.NoError(t, err)

	_, err = Verify("other-secret", good)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Verify(testSecret, "not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Verify("", good)
	assert.ErrorIs(t, err, ErrNoSecret)

	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u-alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = Verify(testSecret, expired)
	assert.ErrorIs(t, err, ErrTokenExpired)

	// HS512 is not accepted even with the right secret
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "x"}}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = Verify(testSecret, hs512)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// No subject and no email
	anon, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Name: "nobody"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = Verify(testSecret, anon)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyFallsBackToEmail(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Email: "bob@example.com"}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	s, err := Verify(testSecret, tok)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", s.UserID)
}

func TestJWTResolver(t *testing.T) {
	tok, err := Issue(testSecret, alice, time.Hour)
	require.NoError(t, err)
	res := NewJWTResolver(testSecret)

	tests := []struct {
		name  string
		setup func(r *http.Request)
		ok    bool
	}{
		{"no credentials", func(r *http.Request) {}, false},
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }, true},
		{"lowercase bearer", func(r *http.Request) { r.Header.Set("Authorization", "bearer "+tok) }, true},
		{"basic auth", func(r *http.Request) { r.SetBasicAuth("a", "b") }, false},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: tok}) }, true},
		{"bad cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: "garbage"}) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(r)
			s, ok := res.Resolve(r)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, "u-alice", s.UserID)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	res := ResolverFunc(func(r *http.Request) (*Session, bool) {
		if r.Header.Get("X-User") == "" {
			return nil, false
		}
		return &Session{UserID: r.Header.Get("X-User")}, true
	})

	var got *Session
	h := Middleware(res)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-User", "u1")
	h.ServeHTTP(httptest.NewRecorder(), r)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UserID)

	got = nil
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Nil(t, got)
}
