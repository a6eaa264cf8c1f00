package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mgtsampayan/rbac/internal/common"
	"github.com/Mgtsampayan/rbac/internal/config"
	"github.com/Mgtsampayan/rbac/internal/database"
	"github.com/Mgtsampayan/rbac/internal/ids"
	"github.com/Mgtsampayan/rbac/internal/lockout"
	"github.com/Mgtsampayan/rbac/internal/models"
)

func newPostgresRepo(t *testing.T) *PostgresAccountRepository {
	t.Helper()
	dsn := os.Getenv("RBAC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RBAC_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, config.PostgresConfig{DSN: dsn, MaxOpen: 10, MaxIdle: 2, ConnMaxLifetime: time.Minute})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.MigratePostgres(ctx, pool))
	return NewPostgresAccountRepository(pool)
}

func TestPostgresAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newPostgresRepo(t)

	suffix := ids.New()
	id := "pg-" + suffix
	account := newAccount(id, "u"+suffix, suffix+"@example.com")
	require.NoError(t, repo.Create(ctx, account))
	assert.ErrorIs(t, repo.Create(ctx, account), common.ErrDuplicateIdentity)

	found, err := repo.FindByIdentifier(ctx, "U"+suffix)
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)

	policy := lockout.DefaultPolicy()
	var wg sync.WaitGroup
	for range make([]struct{}, 20) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, id, func(a *models.Account) error {
				policy.RegisterFailure(a, t0)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, lockout.DefaultMaxAttempts, stored.FailedLoginAttempts)
	assert.True(t, stored.IsLocked)

	n, err := repo.ReleaseExpiredLocks(ctx, t0.Add(lockout.DefaultDuration))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	_, err = repo.GetByID(ctx, "pg-missing-"+suffix)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
