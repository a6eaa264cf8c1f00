package lockout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mgtsampayan/rbac/internal/models"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func lockedUntil(until time.Time, failures int) models.Account {
	return models.Account{IsLocked: true, LockUntil: &until, FailedLoginAttempts: failures}
}

func TestEvaluate(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name    string
		account models.Account
		now     time.Time
		want    State
	}{
		{"fresh account", models.Account{}, t0, StateUnlocked},
		{"failures below threshold", models.Account{FailedLoginAttempts: 4}, t0, StateUnlocked},
		{"live lock", lockedUntil(t0.Add(time.Minute), 5), t0, StateLocked},
		{"lock lapses exactly at lockUntil", lockedUntil(t0, 5), t0, StateExpired},
		{"lapsed lock", lockedUntil(t0.Add(-time.Second), 5), t0, StateExpired},
		{"locked without deadline", models.Account{IsLocked: true}, t0, StateExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Evaluate(tt.account, tt.now))
		})
	}
}

func TestRegisterFailure_LocksAtThreshold(t *testing.T) {
	p := DefaultPolicy()
	var a models.Account

	for i := 1; i < p.MaxAttempts; i++ {
		locked := p.RegisterFailure(&a, t0)
		require.False(t, locked, "attempt %d", i)
		require.Equal(t, i, a.FailedLoginAttempts)
		require.False(t, a.IsLocked)
	}

	require.True(t, p.RegisterFailure(&a, t0))
	assert.True(t, a.IsLocked)
	assert.Equal(t, 5, a.FailedLoginAttempts)
	require.NotNil(t, a.LockUntil)
	assert.Equal(t, t0.Add(15*time.Minute), *a.LockUntil)
}

func TestRegisterFailure_IgnoredWhileLocked(t *testing.T) {
	p := DefaultPolicy()
	a := lockedUntil(t0.Add(10*time.Minute), 5)

	assert.False(t, p.RegisterFailure(&a, t0))
	assert.Equal(t, 5, a.FailedLoginAttempts)
	assert.Equal(t, t0.Add(10*time.Minute), *a.LockUntil)
}

func TestRegisterFailure_AfterExpiryStartsOver(t *testing.T) {
	p := DefaultPolicy()
	a := lockedUntil(t0.Add(-time.Minute), 5)

	assert.False(t, p.RegisterFailure(&a, t0))
	assert.False(t, a.IsLocked)
	assert.Nil(t, a.LockUntil)
	assert.Equal(t, 1, a.FailedLoginAttempts)
}

func TestRegisterSuccess_ResetsEverything(t *testing.T) {
	p := DefaultPolicy()
	a := models.Account{FailedLoginAttempts: 3}

	p.RegisterSuccess(&a, t0)

	assert.Zero(t, a.FailedLoginAttempts)
	assert.False(t, a.IsLocked)
	assert.Nil(t, a.LockUntil)
	require.NotNil(t, a.LastLogin)
	assert.Equal(t, t0, *a.LastLogin)
}

func TestPrepare(t *testing.T) {
	p := DefaultPolicy()

	live := lockedUntil(t0.Add(time.Minute), 5)
	assert.Equal(t, StateLocked, p.Prepare(&live, t0))
	assert.True(t, live.IsLocked)

	lapsed := lockedUntil(t0.Add(-time.Minute), 5)
	assert.Equal(t, StateUnlocked, p.Prepare(&lapsed, t0))
	assert.False(t, lapsed.IsLocked)
	assert.Zero(t, lapsed.FailedLoginAttempts)

	// idempotent
	assert.Equal(t, StateUnlocked, p.Prepare(&lapsed, t0))
}

func TestCustomThresholds(t *testing.T) {
	p := Policy{MaxAttempts: 2, Duration: time.Hour}
	var a models.Account

	p.RegisterFailure(&a, t0)
	require.True(t, p.RegisterFailure(&a, t0))
	assert.Equal(t, t0.Add(time.Hour), *a.LockUntil)
	assert.Equal(t, StateLocked, p.Evaluate(a, t0.Add(59*time.Minute)))
	assert.Equal(t, StateExpired, p.Evaluate(a, t0.Add(time.Hour)))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unlocked", StateUnlocked.String())
	assert.Equal(t, "locked", StateLocked.String())
	assert.Equal(t, "expired", StateExpired.String())
	assert.Equal(t, "unknown", State(42).String())
}
