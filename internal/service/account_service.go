package service

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/Mgtsampayan/rbac/internal/common"
	"github.com/Mgtsampayan/rbac/internal/ids"
	"github.com/Mgtsampayan/rbac/internal/lockout"
	"github.com/Mgtsampayan/rbac/internal/models"
	"github.com/Mgtsampayan/rbac/internal/repository"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Hasher is the password hashing contract the service depends on.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret string, encoded string) bool
	NeedsRehash(encoded string) bool
}

type TokenIssuer interface {
	Issue(accountID string, role string) (string, time.Time, error)
}

type AccountService struct {
	accounts repository.AccountRepository
	hasher   Hasher
	tokens   TokenIssuer
	policy   lockout.Policy
	validate *validator.Validate
	hashSem  *semaphore.Weighted
	log      zerolog.Logger
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

type Option func(*AccountService)

func WithClock(now func() time.Time) Option {
	return func(s *AccountService) {
		s.now = now
	}
}

// WithHashConcurrency bounds how many hash or verify calls run at once.
func WithHashConcurrency(n int) Option {
	return func(s *AccountService) {
		if n > 0 {
			s.hashSem = semaphore.NewWeighted(int64(n))
		}
	}
}

func NewAccountService(
	accounts repository.AccountRepository,
	hasher Hasher,
	tokens TokenIssuer,
	policy lockout.Policy,
	log zerolog.Logger,
	opts ...Option,
) *AccountService {
	s := &AccountService{
		accounts: accounts,
		hasher:   hasher,
		tokens:   tokens,
		policy:   policy,
		validate: newValidator(),
		hashSem:  semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type RegisterInput struct {
	Username string      `json:"username" validate:"required,username"`
	Email    string      `json:"email" validate:"required,email,max=254"`
	Password string      `json:"password" validate:"required"`
	Role     models.Role `json:"role" validate:"omitempty,role"`
}

type CreateAccountInput struct {
	RegisterInput
	Permissions []string `json:"permissions"`
}

// Register creates a self-service account. The admin role cannot be
// self-assigned.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (models.PublicAccount, error) {
	if input.Role == models.RoleAdmin {
		return models.PublicAccount{}, common.NewValidationError("role", "cannot be self-assigned")
	}
	account, err := s.create(ctx, input, nil)
	if err != nil {
		return models.PublicAccount{}, err
	}
	return account.Public(), nil
}

// CreateAccount is the privileged variant of Register: any role, and an
// initial permission set.
func (s *AccountService) CreateAccount(ctx context.Context, input CreateAccountInput) (models.PublicAccount, error) {
	account, err := s.create(ctx, input.RegisterInput, input.Permissions)
	if err != nil {
		return models.PublicAccount{}, err
	}
	return account.Public(), nil
}

func (s *AccountService) create(ctx context.Context, input RegisterInput, perms []string) (models.Account, error) {
	input.Username = models.NormalizeUsername(input.Username)
	input.Email = models.NormalizeEmail(input.Email)
	if input.Role == "" {
		input.Role = models.DefaultRole
	}

	if err := s.validate.StructCtx(ctx, input); err != nil {
		return models.Account{}, validationError(err)
	}
	if err := validateSecret("password", input.Password); err != nil {
		return models.Account{}, err
	}
	perms = models.NormalizePermissions(perms)
	if err := validatePermissions(perms); err != nil {
		return models.Account{}, err
	}

	for _, identifier := range []string{input.Username, input.Email} {
		_, err := s.accounts.FindByIdentifier(ctx, identifier)
		if err == nil {
			return models.Account{}, common.ErrDuplicateIdentity
		}
		if !errors.Is(err, common.ErrNotFound) {
			return models.Account{}, s.internal(err, "lookup identity")
		}
	}

	secretHash, err := s.hash(ctx, input.Password)
	if err != nil {
		return models.Account{}, s.internal(err, "hash secret")
	}

	now := s.now().UTC()
	account := models.Account{
		ID:          ids.New(),
		Username:    input.Username,
		Email:       input.Email,
		SecretHash:  secretHash,
		Role:        input.Role,
		Permissions: perms,
		Status:      models.AccountStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return models.Account{}, s.fail(err, "create account")
	}

	s.log.Info().
		Str("account_id", account.ID).
		Str("username", account.Username).
		Str("role", string(account.Role)).
		Msg("account registered")
	return account, nil
}

// Authenticate checks identifier and secret against the store and applies
// the lockout policy. An unknown identifier and a wrong secret both yield
// common.ErrInvalidCredentials.
func (s *AccountService) Authenticate(ctx context.Context, identifier, secret string) (models.PublicAccount, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		return models.PublicAccount{}, common.NewValidationError("", "identifier and password are required")
	}

	account, err := s.accounts.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.equalizeTiming(ctx, secret)
			s.log.Info().Str("identifier", identifier).Msg("login failed: unknown identifier")
			return models.PublicAccount{}, common.ErrInvalidCredentials
		}
		return models.PublicAccount{}, s.internal(err, "lookup account")
	}

	now := s.now().UTC()
	if s.policy.Evaluate(account, now) == lockout.StateLocked {
		s.log.Info().Str("account_id", account.ID).Msg("login rejected: account locked")
		return models.PublicAccount{}, common.NewLockedError(*account.LockUntil, now)
	}

	ok, err := s.verify(ctx, secret, account.SecretHash)
	if err != nil {
		return models.PublicAccount{}, s.internal(err, "verify secret")
	}

	if !ok {
		var lockedNow bool
		updated, err := s.accounts.Update(ctx, account.ID, func(a *models.Account) error {
			lockedNow = s.policy.RegisterFailure(a, now)
			a.UpdatedAt = now
			return nil
		})
		if err != nil {
			return models.PublicAccount{}, s.internal(err, "record failed login")
		}
		s.log.Info().
			Str("account_id", account.ID).
			Int("failed_attempts", updated.FailedLoginAttempts).
			Msg("login failed")
		if lockedNow {
			s.log.Warn().
				Str("account_id", account.ID).
				Time("lock_until", *updated.LockUntil).
				Msg("account locked")
		}
		return models.PublicAccount{}, common.ErrInvalidCredentials
	}

	if account.Status != models.AccountStatusActive {
		s.log.Info().
			Str("account_id", account.ID).
			Str("status", string(account.Status)).
			Msg("login rejected: account not active")
		return models.PublicAccount{}, common.ErrAccountInactive
	}

	var upgraded string
	if s.hasher.NeedsRehash(account.SecretHash) {
		if upgraded, err = s.hash(ctx, secret); err != nil {
			s.log.Warn().Err(err).Str("account_id", account.ID).Msg("rehash failed")
			upgraded = ""
		}
	}

	wasLocked := account.IsLocked
	updated, err := s.accounts.Update(ctx, account.ID, func(a *models.Account) error {
		if s.policy.Evaluate(*a, now) == lockout.StateLocked {
			return common.NewLockedError(*a.LockUntil, now)
		}
		s.policy.RegisterSuccess(a, now)
		if upgraded != "" && a.SecretHash == account.SecretHash {
			a.SecretHash = upgraded
		}
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		return models.PublicAccount{}, s.fail(err, "record login")
	}

	if wasLocked {
		s.log.Info().Str("account_id", account.ID).Msg("lock released")
	}
	if upgraded != "" {
		s.log.Info().Str("account_id", account.ID).Msg("password rehashed")
	}
	s.log.Info().Str("account_id", account.ID).Msg("login succeeded")
	return updated.Public(), nil
}

type LoginResult struct {
	Account   models.PublicAccount
	Token     string
	ExpiresAt time.Time
	Redirect  string
}

// Login authenticates and issues a session token.
func (s *AccountService) Login(ctx context.Context, identifier, secret string) (LoginResult, error) {
	account, err := s.Authenticate(ctx, identifier, secret)
	if err != nil {
		return LoginResult{}, err
	}

	return s.IssueSession(account)
}

// IssueSession mints a session token for an account that has already
// proven its identity, such as one that just registered.
func (s *AccountService) IssueSession(account models.PublicAccount) (LoginResult, error) {
	token, expiresAt, err := s.tokens.Issue(account.ID, string(account.Role))
	if err != nil {
		return LoginResult{}, s.internal(err, "issue token")
	}

	return LoginResult{
		Account:   account,
		Token:     token,
		ExpiresAt: expiresAt,
		Redirect:  account.Role.HomePath(),
	}, nil
}

// UpdateProfile applies a self-service patch. Completing it marks the
// profile complete.
func (s *AccountService) UpdateProfile(ctx context.Context, accountID string, patch models.ProfilePatch) (models.PublicAccount, error) {
	if patch.Empty() {
		return models.PublicAccount{}, common.NewValidationError("", "no updatable fields")
	}

	var input struct {
		Username string `json:"username" validate:"omitempty,username"`
		Email    string `json:"email" validate:"omitempty,email,max=254"`
	}
	if patch.Username != nil {
		input.Username = models.NormalizeUsername(*patch.Username)
		if input.Username == "" {
			return models.PublicAccount{}, common.NewValidationError("username", "is required")
		}
	}
	if patch.Email != nil {
		input.Email = models.NormalizeEmail(*patch.Email)
		if input.Email == "" {
			return models.PublicAccount{}, common.NewValidationError("email", "is required")
		}
	}
	if err := s.validate.StructCtx(ctx, input); err != nil {
		return models.PublicAccount{}, validationError(err)
	}

	now := s.now().UTC()
	updated, err := s.accounts.Update(ctx, accountID, func(a *models.Account) error {
		if input.Username != "" {
			a.Username = input.Username
		}
		if input.Email != "" {
			a.Email = input.Email
		}
		a.ProfileComplete = true
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		return models.PublicAccount{}, s.fail(err, "update profile")
	}

	s.log.Info().Str("account_id", accountID).Msg("profile updated")
	return updated.Public(), nil
}

// ChangeSecret replaces the password after checking the current one. A
// wrong current password counts toward lockout like a failed login.
func (s *AccountService) ChangeSecret(ctx context.Context, accountID, current, next string) error {
	if err := validateSecret("newPassword", next); err != nil {
		return err
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return s.fail(err, "load account")
	}

	now := s.now().UTC()
	if s.policy.Evaluate(account, now) == lockout.StateLocked {
		return common.NewLockedError(*account.LockUntil, now)
	}

	ok, err := s.verify(ctx, current, account.SecretHash)
	if err != nil {
		return s.internal(err, "verify secret")
	}
	if !ok {
		var lockedNow bool
		updated, err := s.accounts.Update(ctx, accountID, func(a *models.Account) error {
			lockedNow = s.policy.RegisterFailure(a, now)
			a.UpdatedAt = now
			return nil
		})
		if err != nil {
			return s.fail(err, "record failed secret check")
		}
		s.log.Info().
			Str("account_id", accountID).
			Int("failed_attempts", updated.FailedLoginAttempts).
			Msg("password change rejected")
		if lockedNow {
			s.log.Warn().
				Str("account_id", accountID).
				Time("lock_until", *updated.LockUntil).
				Msg("account locked")
		}
		return common.ErrInvalidCredentials
	}

	secretHash, err := s.hash(ctx, next)
	if err != nil {
		return s.internal(err, "hash secret")
	}

	if _, err := s.accounts.Update(ctx, accountID, func(a *models.Account) error {
		if s.policy.Evaluate(*a, now) == lockout.StateLocked {
			return common.NewLockedError(*a.LockUntil, now)
		}
		s.policy.Release(a)
		a.SecretHash = secretHash
		a.UpdatedAt = now
		return nil
	}); err != nil {
		return s.fail(err, "store secret")
	}

	s.log.Info().Str("account_id", accountID).Msg("password changed")
	return nil
}

func (s *AccountService) AssignRole(ctx context.Context, accountID string, role models.Role) (models.PublicAccount, error) {
	if !role.Valid() {
		return models.PublicAccount{}, common.NewValidationError("role", "is not a known role")
	}
	return s.adminUpdate(ctx, accountID, "role assigned", func(a *models.Account) {
		a.Role = role
	})
}

func (s *AccountService) SetPermissions(ctx context.Context, accountID string, perms []string) (models.PublicAccount, error) {
	perms = models.NormalizePermissions(perms)
	if err := validatePermissions(perms); err != nil {
		return models.PublicAccount{}, err
	}
	return s.adminUpdate(ctx, accountID, "permissions set", func(a *models.Account) {
		a.Permissions = perms
	})
}

func (s *AccountService) SetStatus(ctx context.Context, accountID string, status models.AccountStatus) (models.PublicAccount, error) {
	if !status.Valid() {
		return models.PublicAccount{}, common.NewValidationError("status", "is not a known status")
	}
	return s.adminUpdate(ctx, accountID, "status changed", func(a *models.Account) {
		a.Status = status
	})
}

// Unlock lifts a lock before it lapses and clears the failure counter.
func (s *AccountService) Unlock(ctx context.Context, accountID string) (models.PublicAccount, error) {
	return s.adminUpdate(ctx, accountID, "lock released", func(a *models.Account) {
		s.policy.Release(a)
	})
}

func (s *AccountService) Get(ctx context.Context, accountID string) (models.PublicAccount, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return models.PublicAccount{}, s.fail(err, "load account")
	}
	return account.Public(), nil
}

func (s *AccountService) List(ctx context.Context, limit, offset int) ([]models.PublicAccount, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	offset = max(offset, 0)

	accounts, err := s.accounts.List(ctx, limit, offset)
	if err != nil {
		return nil, s.internal(err, "list accounts")
	}

	out := make([]models.PublicAccount, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Public())
	}
	return out, nil
}

// ReleaseExpiredLocks clears every lapsed lock in one pass.
func (s *AccountService) ReleaseExpiredLocks(ctx context.Context) (int64, error) {
	n, err := s.accounts.ReleaseExpiredLocks(ctx, s.now().UTC())
	if err != nil {
		return 0, s.internal(err, "release expired locks")
	}
	if n > 0 {
		s.log.Info().Int64("released", n).Msg("expired locks released")
	}
	return n, nil
}

func (s *AccountService) adminUpdate(ctx context.Context, accountID, event string, mutate func(*models.Account)) (models.PublicAccount, error) {
	now := s.now().UTC()
	updated, err := s.accounts.Update(ctx, accountID, func(a *models.Account) error {
		mutate(a)
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		return models.PublicAccount{}, s.fail(err, event)
	}

	s.log.Info().
		Str("account_id", accountID).
		Str("role", string(updated.Role)).
		Str("status", string(updated.Status)).
		Strs("permissions", updated.Permissions).
		Msg(event)
	return updated.Public(), nil
}

func (s *AccountService) hash(ctx context.Context, secret string) (string, error) {
	if err := s.hashSem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.hashSem.Release(1)
	return s.hasher.Hash(secret)
}

func (s *AccountService) verify(ctx context.Context, secret, encoded string) (bool, error) {
	if err := s.hashSem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer s.hashSem.Release(1)
	return s.hasher.Verify(secret, encoded), nil
}

// equalizeTiming spends one verification on a throwaway hash so unknown
// identifiers cost as much as wrong passwords.
func (s *AccountService) equalizeTiming(ctx context.Context, secret string) {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("rbac-timing-equalizer")
		if err == nil {
			s.dummyHash = h
		}
	})
	if s.dummyHash != "" {
		_, _ = s.verify(ctx, secret, s.dummyHash)
	}
}

var passthrough = []error{
	common.ErrNotFound,
	common.ErrDuplicateIdentity,
	common.ErrInvalidCredentials,
	common.ErrAccountLocked,
	common.ErrAccountInactive,
	common.ErrForbidden,
	common.ErrValidation,
}

// fail returns domain errors unchanged and hides everything else behind
// common.ErrInternal.
func (s *AccountService) fail(err error, op string) error {
	for _, target := range passthrough {
		if errors.Is(err, target) {
			return err
		}
	}
	return s.internal(err, op)
}

func (s *AccountService) internal(err error, op string) error {
	s.log.Error().Err(err).Str("op", op).Msg("account service failure")
	return common.ErrInternal
}
