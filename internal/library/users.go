package library

import (
	"context"

	"bibliodesk.org/internal/apperr"
	"bibliodesk.org/internal/audit"
	"bibliodesk.org/internal/auth"
	"bibliodesk.org/internal/entity"
	"bibliodesk.org/internal/sqlbuild"
	"bibliodesk.org/internal/store"
	"bibliodesk.org/internal/table"
)

// SelfUpdate carries the fields a user may change on their own account.
// Nil pointers mean "leave unchanged". Changing the email or the password
// requires proving knowledge of the current password via OldPassword.
type SelfUpdate struct {
	DisplayName *string
	Email       *string
	Password    *string
	OldPassword *string
}

// UpdateSelf applies account changes for the logged-in user and returns the
// public display of the updated account.
func (s *Service) UpdateSelf(ctx context.Context, actor *auth.Actor, upd SelfUpdate) (entity.Row, error) {
	if err := actor.CheckLoggedIn(); err != nil {
		return nil, err
	}
	user := *actor.User

	email := upd.Email
	if email != nil && *email == user.Email {
		email = nil
	}
	passwordCorrect := false
	if upd.OldPassword != nil {
		passwordCorrect = s.hasher.Verify(*upd.OldPassword, user.Password)
	}
	if !passwordCorrect && (email != nil || (upd.Password != nil && *upd.Password != "")) {
		field := "email"
		if upd.Password != nil && *upd.Password != "" {
			field = "password"
		}
		return nil, apperr.OldPasswordRequired(field)
	}

	if upd.DisplayName != nil {
		user.DisplayName = *upd.DisplayName
	}
	if email != nil {
		user.Email = *email
	}
	if upd.Password != nil && *upd.Password != "" {
		user.Password = s.hasher.Hash(*upd.Password)
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}

	err := s.st.WithConn(ctx, func(c *store.Conn) error {
		_, err := c.Exec(ctx, sqlbuild.Update(s.st.Tables().Name(table.Users),
			user.StoredMap(), map[string]any{"username": user.Username}))
		return err
	})
	if err != nil {
		return nil, err
	}
	return user.Display(entity.Public), nil
}

// UserQuery filters a user listing.
type UserQuery struct {
	SearchKey  string
	Roles      []entity.Role
	PageNumber int
	PageSize   int
}

// ListUsers returns the accounts the actor is entitled to manage. Rows whose
// role sits outside the actor's reach are filtered out after the read.
func (s *Service) ListUsers(ctx context.Context, actor *auth.Actor, q UserQuery) (*Page, error) {
	if err := actor.CheckCanManageUsers(); err != nil {
		return nil, err
	}
	var conds []sqlbuild.Cond
	if q.SearchKey != "" {
		conds = append(conds, sqlbuild.Or(
			sqlbuild.LikeContainsCond("username", q.SearchKey),
			sqlbuild.LikeContainsCond("display_name", q.SearchKey),
		))
	}
	if len(q.Roles) > 0 {
		for _, r := range q.Roles {
			if !entity.ValidRole(r) {
				return nil, apperr.FieldInvalid("roles", string(r))
			}
		}
		values := make([]any, len(q.Roles))
		for i, r := range q.Roles {
			values[i] = string(r)
		}
		conds = append(conds, sqlbuild.Contains("role", values))
	}

	tables := s.st.Tables()
	base := sqlbuild.Select(tables.UsersExt()).Where(sqlbuild.And(conds...))

	page := &Page{}
	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		users, err := store.Entities(ctx, c,
			base.Append(sqlbuild.Pagination(q.PageNumber, q.PageSize)), entity.DecodeUserExt)
		if err != nil {
			return err
		}
		count, err := c.QueryCount(ctx, sqlbuild.CountOf(base))
		if err != nil {
			return err
		}
		page.Count = count
		for _, u := range users {
			if !actor.CanManipulateRole(u.Role) {
				continue
			}
			page.Window = append(page.Window, u.Display(entity.Manage))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// UserInfo returns one account with its borrow counters.
func (s *Service) UserInfo(ctx context.Context, actor *auth.Actor, username string) (entity.Row, error) {
	if err := actor.CheckCanManageUsers(); err != nil {
		return nil, err
	}
	var out entity.Row
	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		user, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
			s.st.Tables().UsersExt(), map[string]any{"username": username},
		), entity.DecodeUserExt)
		if err != nil {
			return err
		}
		if user == nil {
			return apperr.NotFound(username)
		}
		if err := actor.CheckCanManipulateRole(user.Role); err != nil {
			return err
		}
		out = user.Display(entity.Manage)
		return nil
	})
	return out, err
}

// UpsertUser creates an account (oldUsername empty) or rewrites an existing
// one. The changes row uses stored field names; a "password" value is hashed
// before storage, and an empty one keeps the current hash. New accounts must
// come with a password.
func (s *Service) UpsertUser(ctx context.Context, actor *auth.Actor, oldUsername string, changes entity.Row) (entity.Row, error) {
	if err := actor.CheckCanManageUsers(); err != nil {
		return nil, err
	}
	if v, ok := changes["password"]; ok {
		text, _ := v.(string)
		if text == "" {
			delete(changes, "password")
		} else {
			changes["password"] = s.hasher.Hash(text)
		}
	}
	if _, ok := changes["password"]; !ok && oldUsername == "" {
		return nil, apperr.FieldInvalid("password", "")
	}

	tables := s.st.Tables()
	var out entity.Row
	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		user := &entity.User{}
		if oldUsername != "" {
			existing, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
				tables.Plain(table.Users), map[string]any{"username": oldUsername},
			), entity.DecodeUser)
			if err != nil {
				return err
			}
			if existing == nil {
				return apperr.NotFound(oldUsername)
			}
			if err := actor.CheckCanManipulateRole(existing.Role); err != nil {
				return err
			}
			user = existing
		}

		if err := entity.UserSchema.Decode(user, changes, true); err != nil {
			return err
		}
		if err := actor.CheckCanManipulateRole(user.Role); err != nil {
			return err
		}

		if oldUsername != "" {
			if _, err := c.Exec(ctx, sqlbuild.Update(tables.Name(table.Users),
				user.StoredMap(), map[string]any{"username": oldUsername})); err != nil {
				return err
			}
		} else {
			taken, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
				tables.Plain(table.Users), map[string]any{"username": user.Username},
			), entity.DecodeUser)
			if err != nil {
				return err
			}
			if taken != nil {
				return apperr.AlreadyExists(taken.Username)
			}
			if _, err := c.Exec(ctx, sqlbuild.Insert(tables.Name(table.Users),
				user.StoredMap())); err != nil {
				return err
			}
		}
		out = user.Display(entity.Manage)
		return nil
	})
	if err != nil {
		return nil, err
	}
	event := "user_created"
	if oldUsername != "" {
		event = "user_updated"
	}
	_ = audit.LogEvent(audit.WithActor(ctx, actor.User.Username), event,
		map[string]any{"username": out["username"]})
	return out, nil
}

// DeleteUser removes an account within the actor's management reach.
func (s *Service) DeleteUser(ctx context.Context, actor *auth.Actor, username string) (entity.Row, error) {
	if err := actor.CheckCanManageUsers(); err != nil {
		return nil, err
	}
	tables := s.st.Tables()
	var out entity.Row
	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		user, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
			tables.Plain(table.Users), map[string]any{"username": username},
		), entity.DecodeUser)
		if err != nil {
			return err
		}
		if user == nil {
			return apperr.NotFound(username)
		}
		if err := actor.CheckCanManipulateRole(user.Role); err != nil {
			return err
		}
		if _, err := c.Exec(ctx, sqlbuild.Delete(tables.Name(table.Users),
			map[string]any{"username": username})); err != nil {
			return err
		}
		out = user.Display(entity.Manage)
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = audit.LogEvent(audit.WithActor(ctx, actor.User.Username), "user_deleted",
		map[string]any{"username": username})
	return out, nil
}
