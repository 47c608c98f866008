// Package auth implements account authentication for the library service:
// password hashing, session issue and verification, CSRF double-submit
// checking and the self-service password reset flow. Sessions are a cookie
// pair: a public session id and a secret whose hash is stored server side.
package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bibliodesk.org/internal/apperr"
	"bibliodesk.org/internal/audit"
	"bibliodesk.org/internal/config"
	"bibliodesk.org/internal/entity"
	"bibliodesk.org/internal/sqlbuild"
	"bibliodesk.org/internal/store"
	"bibliodesk.org/internal/table"
)

const (
	sessionIDLength     = 24
	sessionSecretLength = 64
)

// Service provides session and credential operations.
type Service struct {
	st     *store.Store
	cfg    *config.Config
	hasher *Hasher
	now    func() time.Time

	loginRate  rate.Limit
	loginBurst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLoginRate overrides the per-account login attempt budget.
func WithLoginRate(limit rate.Limit, burst int) Option {
	return func(s *Service) {
		s.loginRate = limit
		s.loginBurst = burst
	}
}

func NewService(st *store.Store, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		st:         st,
		cfg:        cfg,
		hasher:     NewHasher(cfg.HashSecret),
		now:        time.Now,
		loginRate:  rate.Every(10 * time.Second),
		loginBurst: 5,
		limiters:   map[string]*rate.Limiter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hasher exposes the password hasher sharing this service's secret.
func (s *Service) Hasher() *Hasher { return s.hasher }

func (s *Service) limiterFor(username string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[username]
	if !ok {
		l = rate.NewLimiter(s.loginRate, s.loginBurst)
		s.limiters[username] = l
	}
	return l
}

func (s *Service) epoch() int64 { return s.now().Unix() }

// VerifySession resolves the cookie pair to a logged-in user. It returns the
// user and the verified session id; a nil user with a non-empty session id
// means the session exists but its account cannot log in right now. Expired
// sessions are purged before lookup and a surviving session has its expiry
// extended, so activity keeps a login alive. The whole protocol runs in one
// transaction.
func (s *Service) VerifySession(ctx context.Context, sessionID, sessionSecret string) (*entity.User, string, error) {
	tables := s.st.Tables()
	var user *entity.User
	var verified string

	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		nowEpoch := s.epoch()
		if _, err := c.Exec(ctx, sqlbuild.Delete(tables.Name(table.UsersSession), nil).
			Where(sqlbuild.Raw(`"expire" < ?`, nowEpoch))); err != nil {
			return err
		}

		session, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
			tables.Plain(table.UsersSession), map[string]any{"session": sessionID},
		), entity.DecodeUserSession)
		if err != nil {
			return err
		}
		if session == nil {
			return nil
		}
		if !s.hasher.Verify(sessionSecret, session.Secret) {
			return nil
		}
		verified = sessionID

		// Sliding expiry: any verified use pushes the deadline out.
		if _, err := c.Exec(ctx, sqlbuild.Update(tables.Name(table.UsersSession),
			map[string]any{"expire": nowEpoch + int64(s.cfg.SessionExpire/time.Second)},
			map[string]any{"session": sessionID},
		)); err != nil {
			return err
		}

		u, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
			tables.Plain(table.Users), map[string]any{"username": session.Username},
		), entity.DecodeUser)
		if err != nil {
			return err
		}
		if u == nil {
			return nil
		}
		if session.Password != "" && u.Password != session.Password {
			// The account password changed after this session was minted.
			return nil
		}
		if !u.Enabled {
			return nil
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return user, verified, nil
}

// CheckCSRF applies the double-submit rule: a request carrying a body must
// restate its session id inside that body. Bodyless requests pass; the check
// can be disabled by configuration.
func (s *Service) CheckCSRF(sessionID, bodySession string, hasBody bool) bool {
	if !hasBody || !s.cfg.CSRFCheck {
		return true
	}
	return bodySession == sessionID
}

// Login verifies credentials and mints a session, returning the user with
// the new cookie pair. Attempts are rate limited per account.
func (s *Service) Login(ctx context.Context, username, password string) (*entity.User, string, string, error) {
	if !s.limiterFor(username).Allow() {
		return nil, "", "", apperr.TooManyAttempts()
	}

	tables := s.st.Tables()
	var user *entity.User
	var sessionID, sessionSecret string

	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		u, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
			tables.Plain(table.Users), map[string]any{"username": username},
		), entity.DecodeUser)
		if err != nil {
			return err
		}
		if u == nil {
			return apperr.InvalidCredentials()
		}
		if !s.hasher.Verify(password, u.Password) {
			return apperr.InvalidCredentials()
		}
		if !u.Enabled {
			return apperr.UserDisabled(username)
		}

		sessionID = Alphanum(sessionIDLength)
		sessionSecret = Alphanum(sessionSecretLength)
		session := &entity.UserSession{
			Username: username,
			Password: u.Password,
			Session:  sessionID,
			Secret:   s.hasher.Hash(sessionSecret),
			Expire:   s.epoch() + int64(s.cfg.SessionExpire/time.Second),
		}
		if _, err := c.Exec(ctx, sqlbuild.Insert(tables.Name(table.UsersSession), session.StoredMap())); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		if apperr.IsUserCaused(err) {
			_ = audit.LogEvent(ctx, "login_failed", map[string]any{
				"username": username, "reason": apperr.CodeOf(err),
			})
		}
		return nil, "", "", err
	}
	_ = audit.LogEvent(ctx, "login", map[string]any{"username": username})
	return user, sessionID, sessionSecret, nil
}

// Logout discards the session. Unknown ids are not an error.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	tables := s.st.Tables()
	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		_, err := c.Exec(ctx, sqlbuild.Delete(tables.Name(table.UsersSession),
			map[string]any{"session": sessionID}))
		return err
	})
	if err == nil {
		_ = audit.LogEvent(ctx, "logout", nil)
	}
	return err
}

// LogoutOthers discards every session of the user except the present one.
func (s *Service) LogoutOthers(ctx context.Context, username, sessionID string) error {
	tables := s.st.Tables()
	return s.st.WithAtomic(ctx, func(c *store.Conn) error {
		_, err := c.Exec(ctx, sqlbuild.Delete(tables.Name(table.UsersSession), nil).
			Where(sqlbuild.And(
				sqlbuild.Eq("username", username),
				sqlbuild.Raw(`"session"<>?`, sessionID),
			)))
		return err
	})
}
