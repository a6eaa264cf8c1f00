// Package authz decides whether the bearer of a session token may reach a
// protected operation.
//
// Checks run in a fixed order and stop at the first failure: token,
// account reload (must exist, be active and not be locked), role,
// permissions. Role and permission failures both surface as
// common.ErrForbidden.
package authz

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Mgtsampayan/rbac/internal/common"
	"github.com/Mgtsampayan/rbac/internal/lockout"
	"github.com/Mgtsampayan/rbac/internal/models"
	"github.com/Mgtsampayan/rbac/internal/security"
)

type TokenVerifier interface {
	Verify(token string) (*security.Claims, error)
}

type AccountLoader interface {
	GetByID(ctx context.Context, id string) (models.Account, error)
}

// Requirement lists what a route demands. An empty Roles accepts any role;
// every entry in Permissions must be held.
type Requirement struct {
	Roles       []models.Role
	Permissions []string
}

type Gate struct {
	tokens   TokenVerifier
	accounts AccountLoader
	policy   lockout.Policy
	now      func() time.Time
}

func NewGate(tokens TokenVerifier, accounts AccountLoader, policy lockout.Policy, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{tokens: tokens, accounts: accounts, policy: policy, now: now}
}

// Authenticate resolves a token to the current account record.
func (g *Gate) Authenticate(ctx context.Context, token string) (models.Account, *security.Claims, error) {
	claims, err := g.tokens.Verify(token)
	if err != nil {
		return models.Account{}, nil, err
	}

	account, err := g.accounts.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return models.Account{}, nil, fmt.Errorf("%w: unknown account", common.ErrInvalidToken)
		}
		return models.Account{}, nil, fmt.Errorf("%w: load account: %v", common.ErrInternal, err)
	}

	if account.Status != models.AccountStatusActive {
		return models.Account{}, nil, common.ErrAccountInactive
	}
	if now := g.now(); g.policy.Evaluate(account, now) == lockout.StateLocked {
		return models.Account{}, nil, common.NewLockedError(*account.LockUntil, now)
	}
	return account, claims, nil
}

// Check runs the whole pipeline for one request.
func (g *Gate) Check(ctx context.Context, token string, req Requirement) (models.Account, error) {
	account, _, err := g.Authenticate(ctx, token)
	if err != nil {
		return models.Account{}, err
	}
	if err := Authorize(account, req); err != nil {
		return models.Account{}, err
	}
	return account, nil
}

// Authorize applies the role check, then the permission checks.
func Authorize(account models.Account, req Requirement) error {
	if len(req.Roles) > 0 && !AuthorizeRole(account, req.Roles...) {
		return common.ErrForbidden
	}
	for _, perm := range req.Permissions {
		if !AuthorizePermission(account, perm) {
			return common.ErrForbidden
		}
	}
	return nil
}

func AuthorizeRole(account models.Account, allowed ...models.Role) bool {
	return slices.Contains(allowed, account.Role)
}

func AuthorizePermission(account models.Account, permission string) bool {
	return account.HasPermission(permission)
}
