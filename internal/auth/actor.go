package auth

import (
	"bibliodesk.org/internal/apperr"
	"bibliodesk.org/internal/entity"
)

// Actor is the authenticated principal of one request: the resolved user, if
// any, plus the verified session id.
type Actor struct {
	User      *entity.User
	SessionID string
}

// CheckLoggedIn fails unless a user is attached.
func (a *Actor) CheckLoggedIn() error {
	if a.User == nil {
		return apperr.LoginRequired()
	}
	return nil
}

// CanManageBooks reports whether the actor may administer titles, stocks and
// borrows.
func (a *Actor) CanManageBooks() bool {
	if a.User == nil {
		return false
	}
	switch a.User.Role {
	case entity.RoleRoot, entity.RoleAdmin, entity.RoleLibrarian:
		return true
	}
	return false
}

func (a *Actor) CheckCanManageBooks() error {
	if err := a.CheckLoggedIn(); err != nil {
		return err
	}
	if !a.CanManageBooks() {
		return apperr.PermissionDenied()
	}
	return nil
}

// CheckCanManageUsers fails unless the actor may enter user administration
// at all. Which accounts it may then touch is a separate, per-role question.
func (a *Actor) CheckCanManageUsers() error {
	if err := a.CheckLoggedIn(); err != nil {
		return err
	}
	switch a.User.Role {
	case entity.RoleRoot, entity.RoleAdmin:
		return nil
	}
	return apperr.PermissionDenied()
}

// ManipulableRoles lists the roles of accounts the actor may create, modify
// or delete. Root administers everyone below it, admins administer the
// non-privileged tiers, and nobody administers peers or superiors.
func (a *Actor) ManipulableRoles() []entity.Role {
	if a.User == nil {
		return nil
	}
	switch a.User.Role {
	case entity.RoleRoot:
		return []entity.Role{entity.RoleAdmin, entity.RoleLibrarian, entity.RoleReader}
	case entity.RoleAdmin:
		return []entity.Role{entity.RoleLibrarian, entity.RoleReader}
	}
	return nil
}

// CanManipulateRole reports whether the actor may administer accounts of the
// target role.
func (a *Actor) CanManipulateRole(target entity.Role) bool {
	for _, r := range a.ManipulableRoles() {
		if r == target {
			return true
		}
	}
	return false
}

func (a *Actor) CheckCanManipulateRole(target entity.Role) error {
	if err := a.CheckLoggedIn(); err != nil {
		return err
	}
	if !a.CanManipulateRole(target) {
		return apperr.ImproperRole(string(a.User.Role), string(target))
	}
	return nil
}
