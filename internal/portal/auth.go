package portal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/khgapparov/flipApp/internal/api"
	perrors "github.com/khgapparov/flipApp/internal/errors"
	"github.com/khgapparov/flipApp/internal/querycache"
	"github.com/khgapparov/flipApp/internal/session"
)

// AuthService logs users in and out and owns the session lifecycle.
type AuthService struct {
	p *Portal
}

// Login authenticates with username and password and stores the session.
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResponse, error) {
	var resp AuthResponse
	body := map[string]string{"username": username, "password": password}
	if err := s.p.client.Post(ctx, "/auth/login", body, &resp); err != nil {
		return nil, s.p.fail(ctx, err, "Login failed")
	}
	if err := s.store(ctx, resp, false); err != nil {
		return nil, s.p.fail(ctx, err, "Login failed")
	}
	s.p.succeed(ctx, "Login successful")
	return &resp, nil
}

// Register creates an account and stores the session.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := s.p.client.Post(ctx, "/auth/register", req, &resp); err != nil {
		return nil, s.p.fail(ctx, err, "Registration failed")
	}
	if err := s.store(ctx, resp, false); err != nil {
		return nil, s.p.fail(ctx, err, "Registration failed")
	}
	s.p.succeed(ctx, "Registration successful")
	return &resp, nil
}

// AnonymousLogin starts a guest session.
func (s *AuthService) AnonymousLogin(ctx context.Context) (*AuthResponse, error) {
	var resp AuthResponse
	if err := s.p.client.Post(ctx, "/auth/anonymous", nil, &resp); err != nil {
		s.p.logger.Error().Err(err).Msg("anonymous login failed")
		return nil, s.p.fail(ctx, relabel(err, perrors.KindServer, 0, "Failed to login anonymously"), "Failed to login anonymously")
	}
	if err := s.store(ctx, resp, true); err != nil {
		return nil, s.p.fail(ctx, err, "Failed to login anonymously")
	}
	s.p.succeed(ctx, "Anonymous login successful")
	return &resp, nil
}

// store persists the session when the response carries a token.
func (s *AuthService) store(ctx context.Context, resp AuthResponse, anonymous bool) error {
	if resp.AccessToken == "" {
		return nil
	}
	sess := session.Session{AccessToken: resp.AccessToken, UserID: resp.UserID.String(), IsAnonymous: anonymous}
	if err := s.p.sessions.Set(ctx, sess); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

type validateResponse struct {
	Valid bool `json:"valid"`
}

// ValidateToken asks the backend whether token is still valid. Any failure counts as invalid.
func (s *AuthService) ValidateToken(ctx context.Context, token string) bool {
	var resp validateResponse
	if err := s.p.client.Post(ctx, "/auth/validate-token", map[string]string{"token": token}, &resp); err != nil {
		s.p.logger.Warn().Err(err).Msg("token validation failed")
		return false
	}
	return resp.Valid
}

// LoginWithToken adopts an existing token after the backend confirms it. The stored
// user id and anonymous flag are kept.
func (s *AuthService) LoginWithToken(ctx context.Context, token string) error {
	var resp validateResponse
	if err := s.p.client.Post(ctx, "/auth/validate-token", map[string]string{"token": token}, &resp); err != nil {
		s.p.logger.Error().Err(err).Msg("token login failed")
		return relabel(err, perrors.KindAuth, http.StatusUnauthorized, "Failed to login with token")
	}
	if !resp.Valid {
		return perrors.NewAPIError(perrors.KindAuth, http.StatusUnauthorized, "Failed to login with token")
	}
	cur := s.p.sessions.Get(ctx)
	return s.p.sessions.Set(ctx, session.Session{AccessToken: token, UserID: cur.UserID, IsAnonymous: cur.IsAnonymous})
}

// Restore checks the persisted session at startup. An expired or rejected token is
// cleared and the empty session returned.
func (s *AuthService) Restore(ctx context.Context) (session.Session, error) {
	sess := s.p.sessions.Get(ctx)
	if !sess.Authenticated() {
		return session.Session{}, nil
	}
	if session.TokenExpired(sess.AccessToken, time.Now()) {
		s.p.logger.Info().Msg("stored token expired")
		return session.Session{}, s.p.sessions.Clear(ctx)
	}
	if !s.ValidateToken(ctx, sess.AccessToken) {
		s.p.logger.Info().Msg("stored token rejected")
		return session.Session{}, s.p.sessions.Clear(ctx)
	}
	return sess, nil
}

// Require is Restore for callers that cannot proceed without a login. It returns
// session.ErrNoSession when nothing valid is stored.
func (s *AuthService) Require(ctx context.Context) (session.Session, error) {
	if _, err := s.Restore(ctx); err != nil {
		return session.Session{}, err
	}
	return s.p.sessions.Require(ctx)
}

// Logout clears the session, the query cache and the event feed.
func (s *AuthService) Logout(ctx context.Context) error {
	err := s.p.sessions.Clear(ctx)
	s.p.cache.Clear()
	if s.p.feed != nil {
		_ = s.p.feed.Close()
	}
	if err != nil {
		return s.p.fail(ctx, err, "Logout failed")
	}
	s.p.succeed(ctx, "Logged out successfully")
	return nil
}

// UserService manages the current user's profile.
type UserService struct {
	p *Portal
}

// Me returns the current user's profile.
func (s *UserService) Me(ctx context.Context) (*User, error) {
	var u User
	if err := s.p.client.Get(ctx, "/users/me", nil, &u); err != nil {
		return nil, relabel(err, perrors.KindServer, 0, "Failed to load user profile")
	}
	s.p.cache.Set(querycache.KeyUser, &u)
	return &u, nil
}

// UpdateProfile changes profile fields.
func (s *UserService) UpdateProfile(ctx context.Context, in ProfileUpdate) (*User, error) {
	var u User
	if err := s.p.client.Do(ctx, api.Request{Method: http.MethodPut, Path: "/users/profile", Body: in}, &u); err != nil {
		err = relabel(err, perrors.KindServer, 0, "Failed to update profile")
		return nil, s.p.fail(ctx, err, "Failed to update profile")
	}
	s.p.cache.Set(querycache.KeyUser, &u)
	s.p.succeed(ctx, "Profile updated successfully")
	return &u, nil
}

// ChangePassword replaces the current password.
func (s *UserService) ChangePassword(ctx context.Context, current, next string) error {
	body := map[string]string{"currentPassword": current, "newPassword": next}
	if err := s.p.client.Post(ctx, "/users/change-password", body, nil); err != nil {
		err = relabel(err, perrors.KindServer, 0, "Failed to change password")
		return s.p.fail(ctx, err, "Failed to change password")
	}
	s.p.succeed(ctx, "Password changed successfully")
	return nil
}
