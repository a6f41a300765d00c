package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clippy-oss/homie/canister-chat/internal/clock"
	"github.com/clippy-oss/homie/canister-chat/internal/domain"
	"github.com/clippy-oss/homie/canister-chat/internal/logger"
	"github.com/clippy-oss/homie/canister-chat/internal/repository"
)

type SessionState string

const (
	SessionUnknown       SessionState = "unknown"
	SessionRestoring     SessionState = "restoring"
	SessionAuthenticated SessionState = "authenticated"
	SessionAnonymous     SessionState = "anonymous"
)

// SessionService holds the authenticated identity. The persisted record and
// the in-memory user are always written together, persisted first.
type SessionService struct {
	backend Backend
	repo    repository.SessionRepository
	bus     domain.EventBus
	clock   clock.Clock
	log     zerolog.Logger

	// opMu serializes identity-changing operations.
	opMu sync.Mutex

	mu        sync.RWMutex
	state     SessionState
	user      *domain.User
	restored  bool
	listeners []func(*domain.User)
}

func NewSessionService(backend Backend, repo repository.SessionRepository, bus domain.EventBus, clk clock.Clock) *SessionService {
	return &SessionService{
		backend: backend,
		repo:    repo,
		bus:     bus,
		clock:   clk,
		log:     logger.Module("session"),
		state:   SessionUnknown,
	}
}

// AddListener registers fn to run synchronously after every identity change,
// with nil when the session ended.
func (s *SessionService) AddListener(fn func(*domain.User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Restore loads the persisted session and confirms it with the backend. It
// runs once per process; later calls return the result of the first without
// contacting the backend. Only a storage read failure is returned as an
// error.
func (s *SessionService) Restore(ctx context.Context) (*domain.User, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isRestored() {
		return s.CurrentUser(), nil
	}

	s.mu.Lock()
	s.state = SessionRestoring
	s.mu.Unlock()

	saved, err := s.repo.Load(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = SessionAnonymous
		s.mu.Unlock()
		return nil, fmt.Errorf("load session: %w", err)
	}

	if saved == nil {
		s.log.Debug().Msg("No saved session")
		s.finishRestore(nil)
		return nil, nil
	}

	confirmed, err := s.backend.GetUser(ctx, saved.ID)
	if err != nil || confirmed == nil {
		event := s.log.Info().Str("user_id", saved.ID)
		if err != nil {
			event = event.Err(err)
		}
		event.Msg("Saved session could not be confirmed, clearing it")

		if clearErr := s.repo.Clear(context.WithoutCancel(ctx)); clearErr != nil {
			s.log.Error().Err(clearErr).Msg("Failed to clear stale session")
		}
		s.finishRestore(nil)
		return nil, nil
	}

	s.log.Info().Str("user_id", saved.ID).Msg("Session restored")
	s.finishRestore(saved)
	return s.CurrentUser(), nil
}

func (s *SessionService) finishRestore(user *domain.User) {
	s.mu.Lock()
	s.restored = true
	s.mu.Unlock()
	s.apply(user)
}

// RequestOTP asks the backend to issue a one-time code for email and returns
// it.
func (s *SessionService) RequestOTP(ctx context.Context, email string) (string, error) {
	const op = "request_otp"
	email = strings.TrimSpace(email)
	if err := domain.ValidateEmail(op, email); err != nil {
		return "", err
	}
	return s.backend.GenerateOTP(ctx, email)
}

func (s *SessionService) Register(ctx context.Context, email, name, otp string) (*domain.User, error) {
	const op = "register"
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	if err := domain.ValidateEmail(op, email); err != nil {
		return nil, err
	}
	if err := domain.ValidateUserName(op, name); err != nil {
		return nil, err
	}
	if err := domain.ValidateOTP(op, strings.TrimSpace(otp)); err != nil {
		return nil, err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	user, err := s.backend.RegisterUser(ctx, email, name, strings.TrimSpace(otp))
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, &user); err != nil {
		return nil, err
	}
	s.log.Info().Str("user_id", user.ID).Msg("Registered")
	return s.CurrentUser(), nil
}

func (s *SessionService) Login(ctx context.Context, email string) (*domain.User, error) {
	const op = "login"
	email = strings.TrimSpace(email)
	if err := domain.ValidateEmail(op, email); err != nil {
		return nil, err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	user, err := s.backend.LoginUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, &user); err != nil {
		return nil, err
	}
	s.log.Info().Str("user_id", user.ID).Msg("Logged in")
	return s.CurrentUser(), nil
}

// Logout tells the backend on a best-effort basis, then always clears the
// session locally. The returned error only reports a failure to clear the
// persisted record.
func (s *SessionService) Logout(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if user := s.CurrentUser(); user != nil {
		if err := s.backend.LogoutUser(ctx, user.ID); err != nil {
			s.log.Warn().Err(err).Str("user_id", user.ID).Msg("Backend logout failed, clearing session anyway")
		}
	}

	clearErr := s.repo.Clear(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.restored = true
	s.mu.Unlock()
	s.apply(nil)

	if clearErr != nil {
		return fmt.Errorf("clear session: %w", clearErr)
	}
	s.log.Info().Msg("Logged out")
	return nil
}

// UpdateProfile changes the user's name and/or avatar; a nil argument is
// left unchanged and an empty avatar clears it. The stored user is replaced
// by the backend's reply.
func (s *SessionService) UpdateProfile(ctx context.Context, name, avatar *string) (*domain.User, error) {
	const op = "update_profile"

	s.opMu.Lock()
	defer s.opMu.Unlock()

	current := s.CurrentUser()
	if current == nil {
		return nil, domain.NotAuthenticated(op)
	}
	if name == nil && avatar == nil {
		return nil, domain.ValidationError(op, "nothing to update")
	}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if err := domain.ValidateUserName(op, trimmed); err != nil {
			return nil, err
		}
		name = &trimmed
	}
	if avatar != nil {
		trimmed := strings.TrimSpace(*avatar)
		avatar = &trimmed
	}

	user, err := s.backend.UpdateUserProfile(ctx, current.ID, name, avatar)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, &user); err != nil {
		return nil, err
	}
	return s.CurrentUser(), nil
}

// commit persists user and then publishes it in memory. On a storage failure
// memory is left untouched.
func (s *SessionService) commit(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		return errors.New("backend returned a user without id")
	}
	if err := s.repo.Save(ctx, user); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.mu.Lock()
	s.restored = true
	s.mu.Unlock()
	s.apply(user)
	return nil
}

// apply sets the in-memory identity and notifies listeners and the bus.
func (s *SessionService) apply(user *domain.User) {
	var stored *domain.User
	if user != nil {
		u := *user
		stored = &u
	}

	s.mu.Lock()
	s.user = stored
	if stored != nil {
		s.state = SessionAuthenticated
	} else {
		s.state = SessionAnonymous
	}
	listeners := append([]func(*domain.User){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(s.CurrentUser())
	}
	if s.bus != nil {
		s.bus.Publish(domain.SessionChangedEvent{User: s.CurrentUser(), EventTime: s.clock.Now()})
	}
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (s *SessionService) CurrentUser() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *SessionService) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready reports whether the initial restore has completed.
func (s *SessionService) Ready() bool {
	return s.isRestored()
}

func (s *SessionService) isRestored() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restored
}
