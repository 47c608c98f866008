// Package library implements the domain operations of the catalogue: titles,
// physical stocks, borrow records, user administration and the collection
// statistics. Every operation takes the authenticated actor and enforces its
// own permission rule; display maps returned to callers are already
// sanitized for the actor's audience.
package library

import (
	"time"

	"bibliodesk.org/internal/auth"
	"bibliodesk.org/internal/config"
	"bibliodesk.org/internal/entity"
	"bibliodesk.org/internal/store"
)

// Service carries the shared dependencies of the domain operations.
type Service struct {
	st     *store.Store
	cfg    *config.Config
	hasher *auth.Hasher
	now    func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st *store.Store, cfg *config.Config, hasher *auth.Hasher, opts ...Option) *Service {
	s := &Service{st: st, cfg: cfg, hasher: hasher, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) epoch() int64 { return s.now().Unix() }

// Page is one window of a filtered listing plus the unpaginated total.
type Page struct {
	Count  int64
	Window []entity.Row
}

func audienceOf(actor *auth.Actor) entity.Audience {
	if actor.CanManageBooks() {
		return entity.Manage
	}
	return entity.Public
}
