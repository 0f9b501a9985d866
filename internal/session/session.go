// Package session owns the authentication token and user identity. It is
// the only writer of the persisted token.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatsync/internal/apperr"
	"chatsync/internal/auth"
	"chatsync/internal/logging"
	"chatsync/internal/model"
	"chatsync/internal/persist"
	"chatsync/internal/retry"
)

type Status int

const (
	Unauthenticated Status = iota
	Authenticating
	Authenticated
	Expired
)

func (s Status) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	default:
		return "unauthenticated"
	}
}

// Session is a point-in-time copy of the store's state. Authenticated
// implies Token and User are set; Unauthenticated and Expired imply both
// are empty.
type Session struct {
	Token  string
	User   *model.User
	Status Status
}

type AuthAPI interface {
	Authenticate(ctx context.Context, creds model.Credentials) (string, error)
	RegisterAccount(ctx context.Context, reg model.Registration) (model.User, error)
	FetchCurrentUser(ctx context.Context, token string) (model.User, error)
}

// ErrSuperseded is returned when a logout or another login replaced the
// session while a call was in flight.
var ErrSuperseded = errors.New("session changed while authenticating")

const registeredMessage = "Account created successfully! Please sign in."

type RegisterResult struct {
	Success bool
	Message string
}

type Options struct {
	Retry  retry.Policy
	Sleep  retry.Sleep
	Now    func() time.Time
	Logger *slog.Logger
}

type Store struct {
	api     AuthAPI
	persist persist.Store
	retry   retry.Policy
	sleep   retry.Sleep
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.RWMutex
	session Session
	gen     uint64
}

func New(api AuthAPI, store persist.Store, opts Options) *Store {
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.DefaultUserFetch()
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.SleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		api:     api,
		persist: store,
		retry:   opts.Retry,
		sleep:   opts.Sleep,
		now:     opts.Now,
		logger:  logging.OrDefault(opts.Logger),
	}
}

// Initialize restores the session from persisted storage. A nil error with
// status Unauthenticated means no token was stored.
func (s *Store) Initialize(ctx context.Context) error {
	token, ok, err := s.persist.Get(persist.TokenKey)
	if err != nil {
		s.reset(Unauthenticated)
		s.logger.Error("read persisted token", "err", err)
		return apperr.Wrap(apperr.Unknown, "Unable to read saved session", err)
	}
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		s.reset(Unauthenticated)
		return nil
	}

	if exp, ok := auth.PeekExpiry(token); ok && !s.now().Before(exp) {
		s.logger.Info("persisted token expired, clearing", "expired_at", exp)
		s.clear(Unauthenticated)
		return apperr.New(apperr.AuthExpired, "Your session has expired. Please sign in again.")
	}

	gen := s.begin(token)
	user, err := s.fetchUser(ctx, token)
	return s.finish(gen, token, user, err)
}

func (s *Store) Login(ctx context.Context, creds model.Credentials) error {
	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" || creds.Password == "" {
		return apperr.New(apperr.Validation, "Email and password are required")
	}

	gen := s.begin("")
	token, err := s.api.Authenticate(ctx, creds)
	if err != nil {
		s.logger.Warn("login failed", "kind", apperr.KindOf(err), "err", err)
		if s.current(gen) {
			s.clear(Unauthenticated)
		}
		return loginError(err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrSuperseded
	}
	if err := s.persist.Set(persist.TokenKey, token); err != nil {
		s.session = Session{Status: Unauthenticated}
		s.mu.Unlock()
		s.logger.Error("persist token", "err", err)
		return apperr.Wrap(apperr.Unknown, "Unable to save session", err)
	}
	s.session.Token = token
	s.mu.Unlock()

	user, err := s.fetchUser(ctx, token)
	if err := s.finish(gen, token, user, err); err != nil {
		return loginError(err)
	}
	return nil
}

// Register creates an account. It never changes the session.
func (s *Store) Register(ctx context.Context, reg model.Registration) (RegisterResult, error) {
	reg.Name = strings.TrimSpace(reg.Name)
	reg.Email = strings.TrimSpace(reg.Email)
	if reg.Name == "" || reg.Email == "" || reg.Password == "" {
		err := apperr.New(apperr.Validation, "Name, email and password are required")
		return RegisterResult{Message: err.Message}, err
	}
	if _, err := s.api.RegisterAccount(ctx, reg); err != nil {
		s.logger.Warn("registration failed", "kind", apperr.KindOf(err), "err", err)
		return RegisterResult{Message: apperr.UserMessage(err)}, err
	}
	return RegisterResult{Success: true, Message: registeredMessage}, nil
}

// Logout clears the persisted token and resets the session. It makes no
// network call.
func (s *Store) Logout() {
	s.clear(Unauthenticated)
}

// Invalidate tears the session down when err says the credentials expired
// or were rejected. It reports whether the session was cleared.
func (s *Store) Invalidate(err error) bool {
	if !apperr.KindOf(err).IsAuth() {
		return false
	}
	s.logger.Info("session invalidated", "kind", apperr.KindOf(err))
	s.clear(Expired)
	return true
}

// Current returns a copy of the session.
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.session
	if out.User != nil {
		u := *out.User
		out.User = &u
	}
	return out
}

// Token reads the persisted token.
func (s *Store) Token() (string, bool) {
	token, ok, err := s.persist.Get(persist.TokenKey)
	if err != nil || !ok || token == "" {
		return "", false
	}
	return token, true
}

func (s *Store) fetchUser(ctx context.Context, token string) (model.User, error) {
	var user model.User
	attempts, err := retry.Do(ctx, s.retry, s.sleep, func(ctx context.Context) error {
		u, err := s.api.FetchCurrentUser(ctx, token)
		if err != nil {
			if apperr.KindOf(err) == apperr.Transient {
				s.logger.Warn("fetch current user failed, retrying", "err", err)
			}
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		s.logger.Warn("fetch current user gave up", "attempts", attempts, "kind", apperr.KindOf(err))
	}
	return user, err
}

func (s *Store) begin(token string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.session = Session{Token: token, Status: Authenticating}
	return s.gen
}

func (s *Store) finish(gen uint64, token string, user model.User, fetchErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return ErrSuperseded
	}
	if fetchErr != nil {
		s.clearLocked(Unauthenticated)
		return fetchErr
	}
	s.session = Session{Token: token, User: &user, Status: Authenticated}
	return nil
}

func (s *Store) current(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen == gen
}

func (s *Store) reset(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.session = Session{Status: status}
}

func (s *Store) clear(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(status)
}

func (s *Store) clearLocked(status Status) {
	s.gen++
	if err := s.persist.Remove(persist.TokenKey); err != nil {
		s.logger.Error("remove persisted token", "err", err)
	}
	s.session = Session{Status: status}
}

func loginError(err error) error {
	if errors.Is(err, ErrSuperseded) || errors.Is(err, context.Canceled) {
		return err
	}
	var e *apperr.Error
	if errors.As(err, &e) && e.Message != "" {
		return err
	}
	return apperr.Wrap(apperr.KindOf(err), "Login failed. Please check your credentials and try again.", err)
}
