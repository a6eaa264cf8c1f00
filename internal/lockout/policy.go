// Package lockout holds the failed-login state machine.
//
// Accounts are either unlocked or locked. Failures are counted while
// unlocked; reaching MaxAttempts locks the account for Duration. A lock is
// never cleared by a timer: it is found to have lapsed the next time the
// account is evaluated, and only then is it released. Every function here
// is pure over models.Account and an explicit instant, so callers decide
// how the transition is persisted.
package lockout

import (
	"time"

	"github.com/Mgtsampayan/rbac/internal/models"
)

const (
	DefaultMaxAttempts = 5
	DefaultDuration    = 15 * time.Minute
)

type State int

const (
	StateUnlocked State = iota
	StateLocked
	// StateExpired is a lock whose LockUntil has passed but which has not
	// been released yet.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnlocked:
		return "unlocked"
	case StateLocked:
		return "locked"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

type Policy struct {
	MaxAttempts int
	Duration    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Duration: DefaultDuration}
}

// Evaluate reports the lock state of the account at now.
func (p Policy) Evaluate(a models.Account, now time.Time) State {
	if !a.IsLocked {
		return StateUnlocked
	}
	if a.LockUntil == nil || !now.Before(*a.LockUntil) {
		return StateExpired
	}
	return StateLocked
}

// Release clears the lock and the failure counter.
func (p Policy) Release(a *models.Account) {
	a.IsLocked = false
	a.LockUntil = nil
	a.FailedLoginAttempts = 0
}

// Prepare applies the lazy unlock that starts every authentication
// attempt. It returns the resulting state, which is never StateExpired.
func (p Policy) Prepare(a *models.Account, now time.Time) State {
	state := p.Evaluate(*a, now)
	if state == StateExpired {
		p.Release(a)
		return StateUnlocked
	}
	return state
}

// RegisterFailure records a failed verification. It reports whether this
// failure locked the account. Failures against a live lock change nothing.
func (p Policy) RegisterFailure(a *models.Account, now time.Time) bool {
	if p.Prepare(a, now) == StateLocked {
		return false
	}

	a.FailedLoginAttempts++
	if a.FailedLoginAttempts < p.MaxAttempts {
		return false
	}

	until := now.Add(p.Duration)
	a.IsLocked = true
	a.LockUntil = &until
	return true
}

// RegisterSuccess resets all lockout fields and stamps the login time.
func (p Policy) RegisterSuccess(a *models.Account, now time.Time) {
	p.Release(a)
	at := now
	a.LastLogin = &at
}
