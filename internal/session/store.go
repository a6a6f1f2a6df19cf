// Package session holds the authenticated principal for one portal user.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tileworks/internal/events"
	"tileworks/internal/metrics"
	"tileworks/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

var ErrNoSession = errors.New("not signed in")

// Store holds the token and user snapshot of one owner. Writers follow
// last-writer-wins; login and logout are serialized by the user anyway.
type Store struct {
	owner     string
	persister Persister
	bus       *events.Bus
	logger    zerolog.Logger

	mu    sync.RWMutex
	token *oauth2.Token
	user  *model.User
}

func NewStore(owner string, persister Persister, bus *events.Bus, logger *zerolog.Logger) *Store {
	return &Store{
		owner:     owner,
		persister: persister,
		bus:       bus,
		logger:    logger.With().Str("component", "session").Str("owner", owner).Logger(),
	}
}

// Restore loads a previously persisted session. An incomplete snapshot is discarded.
func (s *Store) Restore(ctx context.Context) error {
	snap, err := s.persister.Load(ctx, s.owner)
	if errors.Is(err, errPartialSnapshot) {
		s.logger.Warn().Msg("discarding incomplete stored session")
		return s.persister.Clear(ctx, s.owner)
	}
	if err != nil {
		return err
	}
	if snap.Token == "" {
		return nil
	}

	s.mu.Lock()
	s.token = newToken(snap.Token)
	s.user = snap.User
	s.mu.Unlock()
	return nil
}

// Establish stores a freshly issued backend token together with its user.
func (s *Store) Establish(ctx context.Context, token string, user model.User) error {
	if token == "" {
		return fmt.Errorf("empty session token")
	}
	if err := s.persister.Save(ctx, s.owner, Snapshot{Token: token, User: &user}); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	s.mu.Lock()
	s.token = newToken(token)
	s.user = &user
	s.mu.Unlock()

	s.logger.Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("session established")
	s.publish(events.SessionEstablished, "")
	return nil
}

// SetUser replaces the user snapshot, keeping the token.
func (s *Store) SetUser(ctx context.Context, user model.User) error {
	s.mu.Lock()
	if s.token == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	token := s.token.AccessToken
	s.user = &user
	s.mu.Unlock()

	return s.persister.Save(ctx, s.owner, Snapshot{Token: token, User: &user})
}

// Logout ends the session at the user's request.
func (s *Store) Logout(ctx context.Context) error {
	s.clear()
	err := s.persister.Clear(ctx, s.owner)
	s.publish(events.SessionEnded, "")
	return err
}

// ForceLogout ends the session because the backend rejected its credentials.
// Subscribers of events.SessionForcedLogout are told so the UI can react.
func (s *Store) ForceLogout(ctx context.Context, reason string) {
	s.clear()
	if err := s.persister.Clear(ctx, s.owner); err != nil {
		s.logger.Error().Err(err).Msg("clear persisted session")
	}
	metrics.IncForcedLogout()
	s.logger.Warn().Str("reason", reason).Msg("forced logout")
	s.publish(events.SessionForcedLogout, reason)
}

// Token returns the bearer token, or nil when signed out.
func (s *Store) Token() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return nil
	}
	t := *s.token
	return &t
}

// IsAuthenticated is true while a token is held and has not expired.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token.Valid() && s.user != nil
}

func (s *Store) User() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return model.User{}, false
	}
	return *s.user, true
}

func (s *Store) Role() model.Role {
	u, ok := s.User()
	if !ok {
		return ""
	}
	return u.Role
}

func (s *Store) IsAdmin() bool {
	return s.IsAuthenticated() && s.Role() == model.RoleAdmin
}

func (s *Store) clear() {
	s.mu.Lock()
	s.token = nil
	s.user = nil
	s.mu.Unlock()
}

func (s *Store) publish(eventType, reason string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{Type: eventType, Owner: s.owner, Reason: reason})
}

// newToken wraps a backend token. JWT expiry is honoured when present; the
// signature is the backend's business, so claims are read unverified.
func newToken(raw string) *oauth2.Token {
	t := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err == nil && claims.ExpiresAt != nil {
		t.Expiry = claims.ExpiresAt.Time
	}
	return t
}

// ExpiresIn reports how long the token remains valid; zero means no known expiry.
func (s *Store) ExpiresIn() time.Duration {
	t := s.Token()
	if t == nil || t.Expiry.IsZero() {
		return 0
	}
	return time.Until(t.Expiry)
}
