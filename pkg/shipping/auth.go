package shipping

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenProvider supplies the bearer token attached to each backend request.
// It is called per request. An empty token or an error means the request is
// sent without an Authorization header.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// NoSession is the provider for anonymous callers.
type NoSession struct{}

// Token always returns an empty token.
func (NoSession) Token(context.Context) (string, error) {
	return "", nil
}

// StaticToken always returns the same token.
type StaticToken string

// Token returns the static token.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// ErrNotSignedIn is returned by SessionIdentity when no subject is signed in.
var ErrNotSignedIn = errors.New("no signed-in user")

// Claims are the JWT claims shared by session tokens and the backend's
// bearer authentication.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SessionIdentity mints short-lived HS256 tokens for the signed-in subject.
// A new token is minted when the current one is within a minute of expiry.
type SessionIdentity struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	subject string
	email   string
	role    string
	token   string
	expires time.Time
}

// NewSessionIdentity creates a provider with no signed-in subject.
func NewSessionIdentity(secret, issuer string, ttl time.Duration) *SessionIdentity {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionIdentity{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// SignIn sets the subject for subsequent tokens.
func (s *SessionIdentity) SignIn(subject, email, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subject, s.email, s.role = subject, email, role
	s.token = ""
}

// SignOut clears the subject. Later requests go out anonymously.
func (s *SessionIdentity) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subject, s.email, s.role, s.token = "", "", "", ""
}

// Token returns the current token, re-minting it if it is near expiry.
func (s *SessionIdentity) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subject == "" {
		return "", ErrNotSignedIn
	}
	now := s.now()
	if s.token != "" && now.Before(s.expires.Add(-time.Minute)) {
		return s.token, nil
	}

	expires := now.Add(s.ttl)
	claims := Claims{
		Email: s.email,
		Role:  s.role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", err
	}
	s.token, s.expires = signed, expires
	return signed, nil
}
