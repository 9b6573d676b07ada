package labels

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for a missing, expired, or mismatched URL token.
var ErrInvalidToken = errors.New("invalid or expired label token")

// Audience is the aud claim of every label URL token. Bearer authentication
// must refuse tokens carrying it.
const Audience = "label"

// Signer mints and checks the token carried by a label URL.
type Signer struct {
	secret  []byte
	ttl     time.Duration
	baseURL string
	now     func() time.Time
}

// DeriveKey returns the label signing key for a shared service secret, so
// label tokens and session tokens never verify under the same key.
func DeriveKey(secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("ironfreight/label-url"))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewSigner creates a signer. URLs point at baseURL + "/api/shipping/labels/".
func NewSigner(secret string, ttl time.Duration, baseURL string) *Signer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{
		secret:  []byte(secret),
		ttl:     ttl,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// Sign returns a URL for label id and the instant it stops working.
func (s *Signer) Sign(id string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := jwt.RegisteredClaims{
		Subject:   id,
		Audience:  jwt.ClaimStrings{Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign label token: %w", err)
	}

	u := s.baseURL + "/api/shipping/labels/" + url.PathEscape(id) + "?token=" + url.QueryEscape(token)
	return u, expiresAt, nil
}

// Verify checks that token was issued for id and has not expired.
func (s *Signer) Verify(id, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithAudience(Audience),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject != id {
		return ErrInvalidToken
	}
	return nil
}
