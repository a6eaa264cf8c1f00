package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Mgtsampayan/rbac/internal/common"
	"github.com/Mgtsampayan/rbac/internal/models"
)

var ErrAccountNotFound = fmt.Errorf("account %w", common.ErrNotFound)

// MutateFunc edits an account in place inside Update. Returning an error
// aborts the update and nothing is written.
type MutateFunc func(account *models.Account) error

// AccountRepository is the durable side of the credential store.
//
// Update is the only way an existing row changes. It loads the row under
// a write lock, hands it to fn and writes every mutable column back in the
// same transaction, so concurrent read-modify-write sequences on one
// account serialize and a cancelled request leaves the row untouched.
//
// Unique violations on username or email surface as
// common.ErrDuplicateIdentity from both Create and Update.
type AccountRepository interface {
	Create(ctx context.Context, account models.Account) error
	GetByID(ctx context.Context, id string) (models.Account, error)
	// FindByIdentifier matches an email address or a username.
	FindByIdentifier(ctx context.Context, identifier string) (models.Account, error)
	List(ctx context.Context, limit, offset int) ([]models.Account, error)
	Update(ctx context.Context, id string, fn MutateFunc) (models.Account, error)
	// ReleaseExpiredLocks clears every lock whose deadline is at or before now.
	ReleaseExpiredLocks(ctx context.Context, now time.Time) (int64, error)
	Ping(ctx context.Context) error
}

const accountColumns = `id, username, email, secret_hash, role, permissions, status,
	failed_login_attempts, is_locked, lock_until, last_login, profile_complete, created_at, updated_at`

func permissionsOrEmpty(perms []string) []string {
	if perms == nil {
		return []string{}
	}
	return perms
}
