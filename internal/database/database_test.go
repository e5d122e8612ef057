package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taoo-rewards/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), "sqlite::memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func sampleUser(id, phone string) *models.User {
	return &models.User{
		ID:             id,
		Phone:          phone,
		FirstName:      "Amira",
		LastName:       "Trabelsi",
		Level:          models.TierBasic,
		Points:         2450,
		Completion:     40,
		MaxSplitMonths: 0,
		Interests:      []string{"fashion", "food"},
		ReferralCode:   "TAOO-" + id,
		IsNewUser:      true,
	}
}

func TestRebind(t *testing.T) {
	s := &Store{dbType: dialectPostgres}
	assert.Equal(t, "a = $1 AND b = $2", s.rebind("a = ? AND b = ?"))
	s.dbType = dialectSQLite
	assert.Equal(t, "a = ?", s.rebind("a = ?"))
}

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	u := sampleUser("u1", "+216201234567")
	require.NoError(t, store.CreateUser(ctx, u))

	dup := sampleUser("u2", "+216201234567")
	assert.ErrorIs(t, store.CreateUser(ctx, dup), ErrPhoneTaken)

	got, err := store.GetUserByPhone(ctx, "+216201234567")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, []string{"fashion", "food"}, got.Interests)
	assert.Nil(t, got.LastSpinAt)
	assert.True(t, got.IsNewUser)

	exists, err := store.PhoneExists(ctx, "+216201234567")
	require.NoError(t, err)
	assert.True(t, exists)

	email := "amira@example.com"
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	got.Email = &email
	got.LastSpinAt = &at
	got.Level = models.TierSilver
	require.NoError(t, store.UpdateUser(ctx, got))

	again, err := store.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TierSilver, again.Level)
	require.NotNil(t, again.Email)
	assert.Equal(t, email, *again.Email)
	require.NotNil(t, again.LastSpinAt)
	assert.True(t, at.Equal(*again.LastSpinAt))

	require.NoError(t, store.DeleteUser(ctx, "u1"))
	_, err = store.GetUserByID(ctx, "u1")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, store.DeleteUser(ctx, "u1"), ErrUserNotFound)
}

func TestMutateUser(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateUser(ctx, sampleUser("u1", "+216201234567")))

	updated, err := store.MutateUser(ctx, "u1", func(u models.User) (Change, error) {
		u.Points += 200
		return Change{
			User: u,
			Spin: &models.SpinRecord{SpinID: "s1", Value: 200, Angle: 90, Streak: 1},
			Transaction: &models.PointsTransaction{
				ID: "t1", Kind: models.TransactionSpin, Amount: 200, Balance: u.Points, Reference: "s1",
			},
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2650), updated.Points)

	spin, err := store.GetSpin(ctx, "u1", "s1")
	require.NoError(t, err)
	require.NotNil(t, spin)
	assert.Equal(t, int64(200), spin.Value)

	missing, err := store.GetSpin(ctx, "u1", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	spins, err := store.ListSpins(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, spins, 1)

	txs, err := store.ListTransactions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionSpin, txs[0].Kind)
	assert.Equal(t, int64(2650), txs[0].Balance)

	boom := errors.New("boom")
	_, err = store.MutateUser(ctx, "u1", func(u models.User) (Change, error) {
		return Change{}, boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.MutateUser(ctx, "u1", func(u models.User) (Change, error) {
		u.Points = 0
		return Change{User: u, Spin: &models.SpinRecord{SpinID: "s1", Value: 1}}, nil
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	after, err := store.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2650), after.Points)

	_, err = store.MutateUser(ctx, "ghost", func(u models.User) (Change, error) {
		return Change{User: u}, nil
	})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestWheelConfig(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	segs, err := store.LoadWheel(ctx)
	require.NoError(t, err)
	assert.Nil(t, segs)

	table := []models.WheelSegment{{Value: 10, Probability: 0.5}, {Value: 20, Probability: 0.5, Angle: 180}}
	require.NoError(t, store.SaveWheel(ctx, table))
	table[0].Value = 15
	require.NoError(t, store.SaveWheel(ctx, table))

	segs, err = store.LoadWheel(ctx)
	require.NoError(t, err)
	assert.Equal(t, table, segs)
}

func TestResetMonthlyUsage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	u := sampleUser("u1", "+216201234567")
	u.MonthlyLimit = 7500
	u.UsedThisMonth = 1200
	require.NoError(t, store.CreateUser(ctx, u))

	n, err := store.ResetMonthlyUsage(ctx, "2026-10")
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := store.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), got.UsedThisMonth)

	n, err = store.ResetMonthlyUsage(ctx, "2026-11")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err = store.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, got.UsedThisMonth)

	n, err = store.ResetMonthlyUsage(ctx, "2026-11")
	require.NoError(t, err)
	assert.Zero(t, n)
}
