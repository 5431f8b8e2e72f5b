package auth

import (
	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/model"
)

type Capability string

const (
	CapRead   Capability = "read"
	CapWrite  Capability = "write"
	CapUpdate Capability = "update"
	CapDelete Capability = "delete"
	CapAdmin  Capability = "admin"
)

var permissionCaps = map[string][]Capability{
	model.PermissionReadOnly: {CapRead},
	model.PermissionEditor:   {CapRead, CapWrite, CapUpdate},
	model.PermissionManager:  {CapRead, CapWrite, CapUpdate, CapDelete},
	model.PermissionFull:     {CapRead, CapWrite, CapUpdate, CapDelete},
}

// Can reports whether p holds capability c. Admins hold every capability.
func (p Principal) Can(c Capability) bool {
	if p.Role == model.RoleAdmin {
		return true
	}
	for _, have := range permissionCaps[p.Permission] {
		if have == c {
			return true
		}
	}
	return false
}

// Authorize is called at the top of each handler with the capability the
// operation needs.
func Authorize(p Principal, c Capability) error {
	if p.AccountID == 0 {
		return apperr.New(apperr.Unauthorized, "auth.authorize", "Unauthorized")
	}
	if !p.Can(c) {
		return apperr.Forbiddenf("auth.authorize", "You do not have %s permission", c)
	}
	return nil
}
