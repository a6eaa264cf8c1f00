package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mgtsampayan/rbac/internal/common"
	"github.com/Mgtsampayan/rbac/internal/models"
)

// SQLiteAccountRepository stores accounts in an embedded database opened
// with database.OpenSQLite. Timestamps are unix milliseconds in UTC and
// permissions are a JSON array.
type SQLiteAccountRepository struct {
	db *sql.DB
}

func NewSQLiteAccountRepository(db *sql.DB) *SQLiteAccountRepository {
	return &SQLiteAccountRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteAccountRepository) Create(ctx context.Context, account models.Account) error {
	const query = `
		INSERT INTO accounts (
			id, username, username_key, email, secret_hash, role, permissions, status,
			failed_login_attempts, is_locked, lock_until, last_login, profile_complete, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	perms, err := encodePermissions(account.Permissions)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query,
		account.ID,
		account.Username,
		models.UsernameKey(account.Username),
		account.Email,
		account.SecretHash,
		string(account.Role),
		perms,
		string(account.Status),
		account.FailedLoginAttempts,
		account.IsLocked,
		toMillis(account.LockUntil),
		toMillis(account.LastLogin),
		account.ProfileComplete,
		account.CreatedAt.UTC().UnixMilli(),
		account.UpdatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return common.ErrDuplicateIdentity
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *SQLiteAccountRepository) GetByID(ctx context.Context, id string) (models.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanSQLiteAccount(row)
}

func (r *SQLiteAccountRepository) FindByIdentifier(ctx context.Context, identifier string) (models.Account, error) {
	email := models.NormalizeEmail(identifier)
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE email = ? OR username_key = ?
		ORDER BY (email = ?) DESC
		LIMIT 1`, email, models.UsernameKey(identifier), email)
	return scanSQLiteAccount(row)
}

func (r *SQLiteAccountRepository) List(ctx context.Context, limit, offset int) ([]models.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		account, err := scanSQLiteAccount(rows)
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

func (r *SQLiteAccountRepository) Update(ctx context.Context, id string, fn MutateFunc) (models.Account, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Account{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	account, err := scanSQLiteAccount(row)
	if err != nil {
		return models.Account{}, err
	}

	if err := fn(&account); err != nil {
		return models.Account{}, err
	}

	perms, err := encodePermissions(account.Permissions)
	if err != nil {
		return models.Account{}, err
	}

	const update = `
		UPDATE accounts SET
			username = ?,
			username_key = ?,
			email = ?,
			secret_hash = ?,
			role = ?,
			permissions = ?,
			status = ?,
			failed_login_attempts = ?,
			is_locked = ?,
			lock_until = ?,
			last_login = ?,
			profile_complete = ?,
			updated_at = ?
		WHERE id = ?
	`
	if _, err := tx.ExecContext(ctx, update,
		account.Username,
		models.UsernameKey(account.Username),
		account.Email,
		account.SecretHash,
		string(account.Role),
		perms,
		string(account.Status),
		account.FailedLoginAttempts,
		account.IsLocked,
		toMillis(account.LockUntil),
		toMillis(account.LastLogin),
		account.ProfileComplete,
		account.UpdatedAt.UTC().UnixMilli(),
		account.ID,
	); err != nil {
		if isSQLiteUniqueViolation(err) {
			return models.Account{}, common.ErrDuplicateIdentity
		}
		return models.Account{}, fmt.Errorf("update account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Account{}, fmt.Errorf("commit account: %w", err)
	}
	return account, nil
}

func (r *SQLiteAccountRepository) ReleaseExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	ms := now.UTC().UnixMilli()
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET is_locked = 0, lock_until = NULL, failed_login_attempts = 0, updated_at = ?
		WHERE is_locked = 1 AND (lock_until IS NULL OR lock_until <= ?)
	`, ms, ms)
	if err != nil {
		return 0, fmt.Errorf("release expired locks: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteAccountRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func scanSQLiteAccount(row rowScanner) (models.Account, error) {
	var (
		account   models.Account
		role      string
		status    string
		perms     string
		lockUntil sql.NullInt64
		lastLogin sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.SecretHash,
		&role,
		&perms,
		&status,
		&account.FailedLoginAttempts,
		&account.IsLocked,
		&lockUntil,
		&lastLogin,
		&account.ProfileComplete,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Account{}, ErrAccountNotFound
		}
		return models.Account{}, fmt.Errorf("scan account: %w", err)
	}

	if err := json.Unmarshal([]byte(perms), &account.Permissions); err != nil {
		return models.Account{}, fmt.Errorf("decode permissions: %w", err)
	}
	account.Role = models.Role(role)
	account.Status = models.AccountStatus(status)
	account.LockUntil = fromMillis(lockUntil)
	account.LastLogin = fromMillis(lastLogin)
	account.CreatedAt = time.UnixMilli(createdAt).UTC()
	account.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return account, nil
}

func encodePermissions(perms []string) (string, error) {
	raw, err := json.Marshal(permissionsOrEmpty(perms))
	if err != nil {
		return "", fmt.Errorf("encode permissions: %w", err)
	}
	return string(raw), nil
}

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func isSQLiteUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
