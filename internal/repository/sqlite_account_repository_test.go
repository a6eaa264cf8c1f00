package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mgtsampayan/rbac/internal/common"
	"github.com/Mgtsampayan/rbac/internal/database"
	"github.com/Mgtsampayan/rbac/internal/lockout"
	"github.com/Mgtsampayan/rbac/internal/models"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newSQLiteRepo(t *testing.T) *SQLiteAccountRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "rbac.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db, "sqlite"))
	return NewSQLiteAccountRepository(db)
}

func newAccount(id, username, email string) models.Account {
	return models.Account{
		ID:          id,
		Username:    username,
		Email:       email,
		SecretHash:  "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$a2V5",
		Role:        models.RoleStudent,
		Status:      models.AccountStatusActive,
		Permissions: []string{"grades:read"},
		CreatedAt:   t0,
		UpdatedAt:   t0,
	}
}

func TestSQLiteCreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)

	require.NoError(t, repo.Create(ctx, newAccount("a1", "Alice", "alice@example.com")))

	byID, err := repo.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", byID.Username)
	assert.Equal(t, []string{"grades:read"}, byID.Permissions)
	assert.Equal(t, models.RoleStudent, byID.Role)
	assert.True(t, byID.CreatedAt.Equal(t0))
	assert.Nil(t, byID.LockUntil)

	for _, identifier := range []string{"alice@example.com", " ALICE@example.com ", "alice", "ALICE"} {
		found, err := repo.FindByIdentifier(ctx, identifier)
		require.NoError(t, err, identifier)
		assert.Equal(t, "a1", found.ID, identifier)
	}

	_, err = repo.FindByIdentifier(ctx, "bob")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSQLiteCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)
	require.NoError(t, repo.Create(ctx, newAccount("a1", "alice", "alice@example.com")))

	err := repo.Create(ctx, newAccount("a2", "ALICE", "other@example.com"))
	assert.ErrorIs(t, err, common.ErrDuplicateIdentity)

	err = repo.Create(ctx, newAccount("a3", "alice2", "alice@example.com"))
	assert.ErrorIs(t, err, common.ErrDuplicateIdentity)
}

func TestSQLiteUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)
	require.NoError(t, repo.Create(ctx, newAccount("a1", "alice", "alice@example.com")))
	require.NoError(t, repo.Create(ctx, newAccount("b1", "bob", "bob@example.com")))

	until := t0.Add(15 * time.Minute)
	updated, err := repo.Update(ctx, "a1", func(a *models.Account) error {
		a.FailedLoginAttempts = 5
		a.IsLocked = true
		a.LockUntil = &until
		a.Permissions = nil
		a.UpdatedAt = t0.Add(time.Minute)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, updated.IsLocked)

	stored, err := repo.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 5, stored.FailedLoginAttempts)
	require.NotNil(t, stored.LockUntil)
	assert.True(t, stored.LockUntil.Equal(until))
	assert.Empty(t, stored.Permissions)

	t.Run("callback error aborts", func(t *testing.T) {
		_, err := repo.Update(ctx, "a1", func(a *models.Account) error {
			a.FailedLoginAttempts = 0
			return common.ErrForbidden
		})
		assert.ErrorIs(t, err, common.ErrForbidden)

		stored, err := repo.GetByID(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, 5, stored.FailedLoginAttempts)
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := repo.Update(ctx, "b1", func(a *models.Account) error {
			a.Email = "alice@example.com"
			return nil
		})
		assert.ErrorIs(t, err, common.ErrDuplicateIdentity)
	})

	t.Run("missing account", func(t *testing.T) {
		_, err := repo.Update(ctx, "nope", func(*models.Account) error { return nil })
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}

func TestSQLiteConcurrentFailuresLockOnce(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)
	require.NoError(t, repo.Create(ctx, newAccount("a1", "alice", "alice@example.com")))

	policy := lockout.DefaultPolicy()
	var wg sync.WaitGroup
	for range make([]struct{}, 20) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, "a1", func(a *models.Account) error {
				policy.RegisterFailure(a, t0)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := repo.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, lockout.DefaultMaxAttempts, stored.FailedLoginAttempts)
	assert.True(t, stored.IsLocked)
	require.NotNil(t, stored.LockUntil)
	assert.True(t, stored.LockUntil.Equal(t0.Add(lockout.DefaultDuration)))
}

func TestSQLiteReleaseExpiredLocks(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)

	expired := newAccount("a1", "alice", "alice@example.com")
	past := t0.Add(-time.Minute)
	expired.IsLocked, expired.LockUntil, expired.FailedLoginAttempts = true, &past, 5

	live := newAccount("b1", "bob", "bob@example.com")
	future := t0.Add(time.Minute)
	live.IsLocked, live.LockUntil, live.FailedLoginAttempts = true, &future, 5

	require.NoError(t, repo.Create(ctx, expired))
	require.NoError(t, repo.Create(ctx, live))
	require.NoError(t, repo.Create(ctx, newAccount("c1", "carol", "carol@example.com")))

	n, err := repo.ReleaseExpiredLocks(ctx, t0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	a, err := repo.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, a.IsLocked)
	assert.Nil(t, a.LockUntil)
	assert.Zero(t, a.FailedLoginAttempts)

	b, err := repo.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, b.IsLocked)
}

func TestSQLiteList(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)

	for i, name := range []string{"alice", "bob", "carol"} {
		a := newAccount(name, name, name+"@example.com")
		a.CreatedAt = t0.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Create(ctx, a))
	}

	page, err := repo.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "alice", page[0].ID)
	assert.Equal(t, "bob", page[1].ID)

	page, err = repo.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "carol", page[0].ID)
}
