package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"bibliodesk.org/internal/apperr"
	"bibliodesk.org/internal/entity"
	"bibliodesk.org/internal/sqlbuild"
	"bibliodesk.org/internal/store"
	"bibliodesk.org/internal/table"
)

const resetTokenTTL = 30 * time.Minute

type resetClaims struct {
	Secret string `json:"secret"`
	jwt.RegisteredClaims
}

// StartReset begins a password reset and returns the token to deliver to the
// account owner out of band. Only one reset per account is pending at a time;
// starting another voids the previous token.
func (s *Service) StartReset(ctx context.Context, username string) (string, error) {
	if !s.cfg.AllowPasswordReset {
		return "", apperr.PermissionDenied()
	}
	tables := s.st.Tables()
	secret := Alphanum(32)
	var token string

	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		u, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
			tables.Plain(table.Users), map[string]any{"username": username},
		), entity.DecodeUser)
		if err != nil {
			return err
		}
		if u == nil {
			return apperr.NotFound(username)
		}
		if !u.CanReset {
			return apperr.PermissionDenied()
		}

		reset := &entity.PasswordReset{
			Username: username,
			Password: u.Password,
			Secret:   s.hasher.Hash(secret),
		}
		if _, err := c.Exec(ctx, sqlbuild.Delete(tables.Name(table.UsersPasswordReset),
			map[string]any{"username": username})); err != nil {
			return err
		}
		_, err = c.Exec(ctx, sqlbuild.Insert(tables.Name(table.UsersPasswordReset), reset.StoredMap()))
		return err
	})
	if err != nil {
		return "", err
	}

	now := s.now()
	claims := resetClaims{
		Secret: secret,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(resetTokenTTL)),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.HashSecret))
	if err != nil {
		return "", err
	}
	return token, nil
}

// CompleteReset redeems a reset token and installs the new password. The
// reset is refused when the account password changed after the token was
// issued; success discards the reset record and every session of the account.
func (s *Service) CompleteReset(ctx context.Context, token, newPassword string) error {
	claims := &resetClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.cfg.HashSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return apperr.InvalidCredentials()
	}
	username := claims.Subject

	tables := s.st.Tables()
	return s.st.WithAtomic(ctx, func(c *store.Conn) error {
		reset, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
			tables.Plain(table.UsersPasswordReset), map[string]any{"username": username},
		), entity.DecodePasswordReset)
		if err != nil {
			return err
		}
		if reset == nil || !s.hasher.Verify(claims.Secret, reset.Secret) {
			return apperr.InvalidCredentials()
		}

		u, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
			tables.Plain(table.Users), map[string]any{"username": username},
		), entity.DecodeUser)
		if err != nil {
			return err
		}
		if u == nil || u.Password != reset.Password {
			return apperr.InvalidCredentials()
		}

		if _, err := c.Exec(ctx, sqlbuild.Update(tables.Name(table.Users),
			map[string]any{"password": s.hasher.Hash(newPassword)},
			map[string]any{"username": username},
		)); err != nil {
			return err
		}
		if _, err := c.Exec(ctx, sqlbuild.Delete(tables.Name(table.UsersPasswordReset),
			map[string]any{"username": username})); err != nil {
			return err
		}
		_, err = c.Exec(ctx, sqlbuild.Delete(tables.Name(table.UsersSession),
			map[string]any{"username": username}))
		return err
	})
}
