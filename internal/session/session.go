// Package session is the single owner of the client's authenticated identity.
//
// The token, user id and anonymous flag are persisted as one unit in client-local
// storage. Every other package reads the session through Store.Get and never touches
// the storage keys directly.
package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/khgapparov/flipApp/pkg/tokenstore"
)

// Storage keys, written and cleared together.
const (
	KeyAuthToken   = "auth_token"
	KeyUserID      = "user_id"
	KeyIsAnonymous = "is_anonymous"
)

var keys = []string{KeyAuthToken, KeyUserID, KeyIsAnonymous}

// Session is the client-held record of the authenticated identity.
type Session struct {
	AccessToken string `json:"accessToken,omitempty"`
	UserID      string `json:"userId,omitempty"`
	IsAnonymous bool   `json:"isAnonymous"`
}

// Authenticated reports whether the session carries a token.
func (s Session) Authenticated() bool {
	return s.AccessToken != ""
}

// IsZero reports whether s is the empty session.
func (s Session) IsZero() bool {
	return s == Session{}
}

// Store holds the current session, backed by a tokenstore.Store.
type Store struct {
	backend tokenstore.Store
	logger  zerolog.Logger

	mu     sync.RWMutex
	cached *Session
}

// NewStore creates a session store over backend.
func NewStore(backend tokenstore.Store, logger zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger.With().Str("component", "session").Logger(),
	}
}

// Set persists all three fields in one write. Subsequent requests carry the new token.
func (s *Store) Set(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := map[string]string{
		KeyAuthToken:   sess.AccessToken,
		KeyUserID:      sess.UserID,
		KeyIsAnonymous: strconv.FormatBool(sess.IsAnonymous),
	}
	if err := s.backend.SetAll(ctx, values); err != nil {
		s.cached = nil
		return err
	}
	snapshot := sess
	s.cached = &snapshot
	s.logger.Debug().Str("user_id", sess.UserID).Bool("anonymous", sess.IsAnonymous).Msg("session stored")
	return nil
}

// Get returns the current session. It never fails: storage errors are logged and
// reported as the empty session.
func (s *Store) Get(ctx context.Context) Session {
	s.mu.RLock()
	if s.cached != nil {
		sess := *s.cached
		s.mu.RUnlock()
		return sess
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return *s.cached
	}

	values, err := s.backend.GetAll(ctx, keys...)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read session, treating as logged out")
		return Session{}
	}
	sess := fromValues(values)
	s.cached = &sess
	return sess
}

// Token returns the current access token, or "".
func (s *Store) Token(ctx context.Context) string {
	return s.Get(ctx).AccessToken
}

// Clear removes all three keys. Get returns the empty session afterwards even when
// the backend delete fails.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	empty := Session{}
	s.cached = &empty
	if err := s.backend.DeleteAll(ctx, keys...); err != nil {
		s.logger.Error().Err(err).Msg("failed to clear persisted session")
		return err
	}
	s.logger.Debug().Msg("session cleared")
	return nil
}

// Invalidate drops the in-memory snapshot so the next Get re-reads storage.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func fromValues(values map[string]string) Session {
	token := values[KeyAuthToken]
	if token == "" {
		// A stale user id or anonymous flag without a token is a logged-out session.
		return Session{}
	}
	anon, _ := strconv.ParseBool(values[KeyIsAnonymous])
	return Session{
		AccessToken: token,
		UserID:      values[KeyUserID],
		IsAnonymous: anon,
	}
}

// TokenExpired reports whether token is a JWT whose exp claim is in the past.
// The signature is not verified; tokens that are not JWTs, or carry no exp, are
// never reported as expired.
func TokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}

// ErrNoSession is returned by operations that need a token when none is stored.
var ErrNoSession = errors.New("no active session")

// Require returns the current session, or ErrNoSession when it carries no token.
func (s *Store) Require(ctx context.Context) (Session, error) {
	sess := s.Get(ctx)
	if !sess.Authenticated() {
		return Session{}, ErrNoSession
	}
	return sess, nil
}
