package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mgtsampayan/rbac/internal/common"
	"github.com/Mgtsampayan/rbac/internal/models"
)

const pgUniqueViolation = "23505"

type PostgresAccountRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresAccountRepository(pool *pgxpool.Pool) *PostgresAccountRepository {
	return &PostgresAccountRepository{pool: pool}
}

func (r *PostgresAccountRepository) Create(ctx context.Context, account models.Account) error {
	const query = `
		INSERT INTO accounts (
			id, username, username_key, email, secret_hash, role, permissions, status,
			failed_login_attempts, is_locked, lock_until, last_login, profile_complete, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`

	_, err := r.pool.Exec(ctx, query,
		account.ID,
		account.Username,
		models.UsernameKey(account.Username),
		account.Email,
		account.SecretHash,
		account.Role,
		permissionsOrEmpty(account.Permissions),
		account.Status,
		account.FailedLoginAttempts,
		account.IsLocked,
		account.LockUntil,
		account.LastLogin,
		account.ProfileComplete,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return common.ErrDuplicateIdentity
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *PostgresAccountRepository) GetByID(ctx context.Context, id string) (models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *PostgresAccountRepository) FindByIdentifier(ctx context.Context, identifier string) (models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts
		WHERE email = $1 OR username_key = $2
		ORDER BY (email = $1) DESC
		LIMIT 1`
	return r.getOne(ctx, query, models.NormalizeEmail(identifier), models.UsernameKey(identifier))
}

func (r *PostgresAccountRepository) List(ctx context.Context, limit, offset int) ([]models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts
		ORDER BY created_at ASC, id ASC
		LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		account, err := scanPgAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

func (r *PostgresAccountRepository) Update(ctx context.Context, id string, fn MutateFunc) (models.Account, error) {
	var updated models.Account

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
		account, err := scanPgAccount(row)
		if err != nil {
			return err
		}

		if err := fn(&account); err != nil {
			return err
		}

		const update = `
			UPDATE accounts SET
				username = $2,
				username_key = $3,
				email = $4,
				secret_hash = $5,
				role = $6,
				permissions = $7,
				status = $8,
				failed_login_attempts = $9,
				is_locked = $10,
				lock_until = $11,
				last_login = $12,
				profile_complete = $13,
				updated_at = $14
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, update,
			account.ID,
			account.Username,
			models.UsernameKey(account.Username),
			account.Email,
			account.SecretHash,
			account.Role,
			permissionsOrEmpty(account.Permissions),
			account.Status,
			account.FailedLoginAttempts,
			account.IsLocked,
			account.LockUntil,
			account.LastLogin,
			account.ProfileComplete,
			account.UpdatedAt,
		); err != nil {
			if isPgUniqueViolation(err) {
				return common.ErrDuplicateIdentity
			}
			return fmt.Errorf("update account: %w", err)
		}

		updated = account
		return nil
	})
	if err != nil {
		return models.Account{}, err
	}
	return updated, nil
}

func (r *PostgresAccountRepository) ReleaseExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE accounts
		SET is_locked = FALSE, lock_until = NULL, failed_login_attempts = 0, updated_at = $1
		WHERE is_locked AND (lock_until IS NULL OR lock_until <= $1)
	`
	cmd, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("release expired locks: %w", err)
	}
	return cmd.RowsAffected(), nil
}

func (r *PostgresAccountRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresAccountRepository) getOne(ctx context.Context, query string, args ...any) (models.Account, error) {
	return scanPgAccount(r.pool.QueryRow(ctx, query, args...))
}

func scanPgAccount(row pgx.Row) (models.Account, error) {
	var account models.Account
	if err := row.Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.SecretHash,
		&account.Role,
		&account.Permissions,
		&account.Status,
		&account.FailedLoginAttempts,
		&account.IsLocked,
		&account.LockUntil,
		&account.LastLogin,
		&account.ProfileComplete,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, ErrAccountNotFound
		}
		return models.Account{}, fmt.Errorf("scan account: %w", err)
	}
	return account, nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
