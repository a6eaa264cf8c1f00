package models

import (
	"slices"
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleStudent    Role = "student"
	RoleFaculty    Role = "faculty"
	RoleRegistrar  Role = "registrar"
	RoleAccounting Role = "accounting"
	RoleHR         Role = "hr"
	RoleParent     Role = "parent"
)

// DefaultRole is assigned when registration does not name a role.
const DefaultRole = RoleStudent

var Roles = []Role{
	RoleAdmin,
	RoleStudent,
	RoleFaculty,
	RoleRegistrar,
	RoleAccounting,
	RoleHR,
	RoleParent,
}

func (r Role) Valid() bool {
	return slices.Contains(Roles, r)
}

// HomePath is the landing page the frontend sends a freshly logged-in
// account to.
func (r Role) HomePath() string {
	if !r.Valid() {
		return "/not-authorized"
	}
	return "/" + string(r)
}

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusInactive  AccountStatus = "inactive"
	AccountStatusSuspended AccountStatus = "suspended"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusInactive, AccountStatusSuspended:
		return true
	}
	return false
}

type Account struct {
	ID                  string
	Username            string
	Email               string
	SecretHash          string
	Role                Role
	Permissions         []string
	Status              AccountStatus
	FailedLoginAttempts int
	IsLocked            bool
	LockUntil           *time.Time
	LastLogin           *time.Time
	ProfileComplete     bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PublicAccount is the account as it may leave the service layer.
type PublicAccount struct {
	ID              string        `json:"id"`
	Username        string        `json:"username"`
	Email           string        `json:"email"`
	Role            Role          `json:"role"`
	Permissions     []string      `json:"permissions"`
	Status          AccountStatus `json:"status"`
	IsLocked        bool          `json:"isLocked"`
	LockUntil       *time.Time    `json:"lockUntil,omitempty"`
	LastLogin       *time.Time    `json:"lastLogin,omitempty"`
	ProfileComplete bool          `json:"profileComplete"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

func (a Account) Public() PublicAccount {
	perms := a.Permissions
	if perms == nil {
		perms = []string{}
	}
	return PublicAccount{
		ID:              a.ID,
		Username:        a.Username,
		Email:           a.Email,
		Role:            a.Role,
		Permissions:     perms,
		Status:          a.Status,
		IsLocked:        a.IsLocked,
		LockUntil:       a.LockUntil,
		LastLogin:       a.LastLogin,
		ProfileComplete: a.ProfileComplete,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func (a Account) HasPermission(permission string) bool {
	return slices.Contains(a.Permissions, permission)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// UsernameKey is the case-folded form uniqueness is enforced on.
func UsernameKey(username string) string {
	return strings.ToLower(NormalizeUsername(username))
}

// NormalizePermissions trims, drops empties and returns a sorted set.
func NormalizePermissions(perms []string) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ProfilePatch holds the fields an account may change about itself.
// Nil fields are left untouched.
type ProfilePatch struct {
	Username *string
	Email    *string
}

func (p ProfilePatch) Empty() bool {
	return p.Username == nil && p.Email == nil
}
