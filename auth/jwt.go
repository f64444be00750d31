package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const (
	// CookieName is the session cookie checked when no bearer token is sent
	CookieName = "session-token"

	// TokenLifetime is the validity of tokens minted by Issue
	TokenLifetime = 30 * 24 * time.Hour
)

var (
	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidToken is returned when the token is invalid for any reason
	ErrInvalidToken = errors.New("invalid token")

	// ErrNoSecret is returned when signing or verifying without a secret
	ErrNoSecret = errors.New("auth secret not configured")
)

// Claims are the JWT claims carried by a session token
type Claims struct {
	jwt.RegisteredClaims
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// Issue signs an HS256 session token for s valid for ttl (TokenLifetime
// when ttl is zero).
func Issue(secret string, s Session, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	if ttl <= 0 {
		ttl = TokenLifetime
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Name:    s.Name,
		Email:   s.Email,
		Picture: s.Image,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Verify validates token and returns the session it carries
func Verify(secret, token string) (*Session, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	userID := claims.Subject
	if userID == "" {
		userID = claims.Email
	}
	if userID == "" {
		return nil, ErrInvalidToken
	}
	return &Session{
		UserID: userID,
		Name:   claims.Name,
		Email:  claims.Email,
		Image:  claims.Picture,
	}, nil
}

// JWTResolver authenticates requests carrying an HS256 session token in the
// Authorization header or the session cookie.
type JWTResolver struct {
	Secret string
}

// NewJWTResolver creates a resolver verifying tokens with secret
func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{Secret: secret}
}

// Resolve implements Resolver
func (j *JWTResolver) Resolve(r *http.Request) (*Session, bool) {
	token := tokenFromRequest(r)
	if token == "" {
		return nil, false
	}
	s, err := Verify(j.Secret, token)
	if err != nil {
		return nil, false
	}
	return s, true
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

var _ Resolver = (*JWTResolver)(nil)
