package model

import "time"

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Permission levels an account can be granted.
const (
	PermissionReadOnly = "read_only"
	PermissionEditor   = "editor"
	PermissionManager  = "manager"
	PermissionFull     = "full"
)

type Account struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	Phone            string     `json:"phone"`
	Credits          int64      `json:"credits"`
	CreditsUsed      int64      `json:"credits_used"`
	CreditsPurchased int64      `json:"credits_purchased"`
	Plan             string     `json:"plan"`
	Active           bool       `json:"active"`
	Role             string     `json:"role"`
	Permission       string     `json:"permission"`
	LastActiveAt     *time.Time `json:"last_active_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HasPassword reports whether the account was created through signup rather
// than by a payment upsert.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}
