package services

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"
	"sync"

	"helpdesk/internal/status"
	"helpdesk/internal/tokenstore"
	"helpdesk/models"
	"helpdesk/monitoring"
)

type AuthAPI interface {
	Token(ctx context.Context, email, password string) (string, error)
	Me(ctx context.Context, token string) (*models.User, error)
	Register(ctx context.Context, reg models.Registration) error
}

// SessionStore owns the signed-in token and user. It starts out loading; Restore
// ends that state.
type SessionStore struct {
	api    AuthAPI
	tokens tokenstore.Store
	log    *slog.Logger

	mu         sync.RWMutex
	token      string
	user       *models.User
	loading    bool
	generation uint64
	observers  map[int]func(models.Session)
	nextObs    int
}

func NewSessionStore(api AuthAPI, tokens tokenstore.Store, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		api:       api,
		tokens:    tokens,
		log:       logger.With("component", "session"),
		loading:   true,
		observers: map[int]func(models.Session){},
	}
}

func (s *SessionStore) Snapshot() models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *SessionStore) snapshotLocked() models.Session {
	var user *models.User
	if s.user != nil {
		u := *s.user
		user = &u
	}
	return models.Session{Token: s.token, User: user, Loading: s.loading}
}

func (s *SessionStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *SessionStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Subscribe registers fn for token changes. fn runs outside the store lock.
func (s *SessionStore) Subscribe(fn func(models.Session)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// commit applies a new token/user pair and notifies observers when the token moved.
// Caller holds s.mu; it is released on return.
func (s *SessionStore) commitAndUnlock(token string, user *models.User) {
	changed := s.token != token
	s.token, s.user, s.loading = token, user, false
	if token == "" {
		s.user = nil
	}
	snap := s.snapshotLocked()
	observers := make([]func(models.Session), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range observers {
		fn(snap)
	}
}

// Restore reads the persisted token and validates it. A missing token is not an error.
func (s *SessionStore) Restore(ctx context.Context) error {
	const op = "session.restore"

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.loading = true
	s.mu.Unlock()

	token, err := s.tokens.Load(ctx)
	if err != nil {
		s.log.Error("cannot read persisted token", "error", err)
		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			return nil
		}
		s.commitAndUnlock("", nil)
		return status.New(op, status.KindInternal, err)
	}
	if token == "" {
		s.mu.Lock()
		if gen == s.generation {
			s.commitAndUnlock("", nil)
		} else {
			s.mu.Unlock()
		}
		return nil
	}

	user, err := s.validate(ctx, op, gen, token)
	if err != nil {
		return err
	}
	monitoring.TrackSession("restore")
	s.log.Info("session restored", "user", user.Email, "role", user.Role)
	return nil
}

// Login exchanges credentials for a token, persists it and validates it.
func (s *SessionStore) Login(ctx context.Context, email, password string) (*models.User, error) {
	const op = "session.login"

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, status.Validation(op, "email and password are required")
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	token, err := s.api.Token(ctx, email, password)
	if err != nil {
		s.log.Warn("login rejected", "kind", status.KindOf(err), "error", err)
		return nil, err
	}

	s.mu.RLock()
	superseded := gen != s.generation
	s.mu.RUnlock()
	if superseded {
		return nil, status.New(op, status.KindSession, status.ErrSuperseded)
	}

	if err := s.tokens.Save(ctx, token); err != nil {
		// non-fatal, the session then lasts until the process exits
		s.log.Error("cannot persist token", "error", err)
	}

	user, err := s.validate(ctx, op, gen, token)
	if err != nil {
		return nil, err
	}
	monitoring.TrackSession("login")
	s.log.Info("signed in", "user", user.Email, "role", user.Role)
	return user, nil
}

// validate asks /api/me who owns token. Any failure clears the session.
func (s *SessionStore) validate(ctx context.Context, op string, gen uint64, token string) (*models.User, error) {
	user, err := s.api.Me(ctx, token)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		monitoring.TrackStale("me")
		s.log.Debug("dropping stale identity response", "op", op)
		return nil, status.New(op, status.KindSession, status.ErrSuperseded)
	}
	if err != nil {
		s.generation++
		s.commitAndUnlock("", nil)
		if clearErr := s.tokens.Clear(context.WithoutCancel(ctx)); clearErr != nil {
			s.log.Error("cannot clear persisted token", "error", clearErr)
		}
		monitoring.TrackSession("invalidate")
		s.log.Warn("session invalid", "op", op, "error", err)
		return nil, &status.Error{Op: op, Kind: status.KindSession, Detail: status.DetailOf(err), Err: err}
	}
	s.commitAndUnlock(token, user)

	u := *user
	return &u, nil
}

var registrationRoles = []models.Role{models.RoleStudent, models.RoleTeacher, models.RoleEmployee}

// Register creates an account. It does not sign in.
func (s *SessionStore) Register(ctx context.Context, reg models.Registration) error {
	const op = "session.register"

	reg.Email = strings.TrimSpace(reg.Email)
	reg.FullName = strings.TrimSpace(reg.FullName)
	if _, err := mail.ParseAddress(reg.Email); err != nil {
		return status.Validation(op, "a valid email is required")
	}
	if reg.Password == "" {
		return status.Validation(op, "password is required")
	}
	if reg.Role == "" {
		reg.Role = models.RoleStudent
	}
	valid := false
	for _, r := range registrationRoles {
		if reg.Role == r {
			valid = true
		}
	}
	if !valid {
		return status.Validation(op, "role must be one of student, teacher, employee")
	}

	if err := s.api.Register(ctx, reg); err != nil {
		s.log.Warn("registration rejected", "email", reg.Email, "error", err)
		return err
	}
	monitoring.TrackSession("register")
	return nil
}

// Logout forgets the session locally; the backend is not told.
func (s *SessionStore) Logout(ctx context.Context) error {
	s.clear()
	monitoring.TrackSession("logout")
	s.log.Info("signed out")
	return s.forget(ctx)
}

// Invalidate is Logout for a token the backend no longer accepts.
func (s *SessionStore) Invalidate(ctx context.Context, reason error) error {
	s.clear()
	monitoring.TrackSession("invalidate")
	s.log.Warn("session invalidated", "reason", reason)
	return s.forget(ctx)
}

func (s *SessionStore) clear() {
	s.mu.Lock()
	s.generation++
	s.commitAndUnlock("", nil)
}

func (s *SessionStore) forget(ctx context.Context) error {
	if err := s.tokens.Clear(ctx); err != nil {
		s.log.Error("cannot clear persisted token", "error", err)
		return status.New("session.logout", status.KindInternal, err)
	}
	return nil
}
