// Package credential reads the bearer token supplied by an external
// authentication collaborator. The token may be rotated at any time, so
// consumers must call Token() at each (re)connect instead of caching it.
package credential

import (
	"errors"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoCredential = errors.New("no credential available")
	ErrNoSubject    = errors.New("credential has no subject")
)

// Source supplies the current bearer token.
type Source interface {
	Token() (string, error)
}

// StaticSource is a Source backed by a settable in-memory token. The zero
// value is an empty source; Set may be called concurrently with Token.
type StaticSource struct {
	mu    sync.RWMutex
	token string
}

// NewStaticSource creates a StaticSource holding the given token.
func NewStaticSource(token string) *StaticSource {
	return &StaticSource{token: token}
}

// Set replaces the stored token.
func (s *StaticSource) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Token returns the stored token, or ErrNoCredential if empty.
func (s *StaticSource) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrNoCredential
	}
	return s.token, nil
}

type subjectClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// Subject extracts the session owner's identity from a bearer token without
// verifying the signature; verification is the server's job, the client only
// needs to know "who am I" for echo suppression.
func Subject(token string) (string, error) {
	parser := jwt.NewParser()

	var claims subjectClaims
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return "", err
	}

	if claims.Subject != "" {
		return claims.Subject, nil
	}
	if claims.UserID != "" {
		return claims.UserID, nil
	}
	return "", ErrNoSubject
}

// SubjectOf resolves the current subject from a Source. It re-reads the token
// on every call so a rotated credential is picked up immediately.
func SubjectOf(src Source) (string, error) {
	token, err := src.Token()
	if err != nil {
		return "", err
	}
	return Subject(token)
}
