// Package auth issues and verifies the bearer tokens that gate the realtime
// gateway and the matchmaking routes.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

type userClaim struct {
	ID string `json:"id"`
}

// claims mirrors the {"user": {"id": ...}} payload clients already carry.
type claims struct {
	jwt.RegisteredClaims
	User userClaim `json:"user"`
}

type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(secret, issuer string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Authenticator{secret: []byte(secret), issuer: strings.TrimSpace(issuer), ttl: ttl, now: time.Now}
}

// Issue signs an HS256 token for userID.
func (a *Authenticator) Issue(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("auth: empty user id")
	}
	now := a.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
		User: userClaim{ID: userID},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate verifies token and returns the user id it carries.
func (a *Authenticator) Authenticate(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	var parsed claims
	if _, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id := strings.TrimSpace(parsed.User.ID)
	if id == "" {
		id = strings.TrimSpace(parsed.Subject)
	}
	if id == "" {
		return "", fmt.Errorf("%w: no user id", ErrInvalidToken)
	}
	return id, nil
}

// FromRequest extracts the bearer token from the Authorization header, the
// X-Auth-Token header older clients send, or, for browser websocket clients,
// the token query parameter.
func FromRequest(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	if h := strings.TrimSpace(r.Header.Get("X-Auth-Token")); h != "" {
		return h
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
