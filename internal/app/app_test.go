package app

import (
	"context"
	mrand "math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taoo-rewards/internal/authflow"
	"taoo-rewards/internal/catalog"
	"taoo-rewards/internal/clock"
	"taoo-rewards/internal/confirm"
	"taoo-rewards/internal/ledger"
	"taoo-rewards/internal/lottery"
	"taoo-rewards/internal/models"
	"taoo-rewards/internal/receipt"
	"taoo-rewards/internal/session"
)

type fixture struct {
	app   *App
	kv    *session.MemoryKV
	clock *clock.Fake
}

func newFixture(t *testing.T, existing bool) *fixture {
	t.Helper()
	kv := session.NewMemoryKV()
	clk := clock.NewFake(time.Date(2026, 7, 10, 9, 30, 0, 0, time.UTC))
	a, err := New(Deps{
		Session:  session.NewManager(kv, "", nil),
		Client:   authflow.NewDemoClient(authflow.WithDelay(0), authflow.WithExisting(existing)),
		FlowOpts: []authflow.Option{authflow.WithClock(clk)},
		Gate:     lottery.NewGate(clk, time.UTC),
		Engine:   lottery.NewEngineWithSource(mrand.NewSource(3)),
		Wheel:    []models.WheelSegment{{Value: 700, Probability: 1, Angle: 315}},
		Analyzer: receipt.NewSimulatedAnalyzer(0, mrand.NewSource(3)),
	})
	require.NoError(t, err)
	return &fixture{app: a, kv: kv, clock: clk}
}

func (f *fixture) signIn(t *testing.T) models.User {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.app.Start(ctx))
	flow := f.app.Flow()
	flow.SetPhone("20 123 4567")
	require.NoError(t, flow.SubmitPhone(ctx))
	for i, r := range authflow.DemoCode {
		flow.Input(i, string(r))
	}
	require.NoError(t, flow.SubmitCode(ctx))
	if flow.Step() == authflow.StepProfile {
		require.NoError(t, flow.SubmitProfile(ctx, "Amal", "Trabelsi"))
	}
	u, err := f.app.CompleteAuth(ctx)
	require.NoError(t, err)
	return u
}

func TestStartDropsStaleSession(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.kv.Set(ctx, session.DefaultKey, []byte(`{"id":"old"}`)))

	require.NoError(t, f.app.Start(ctx))
	_, ok, err := f.kv.Get(ctx, session.DefaultKey)
	require.NoError(t, err)
	assert.False(t, ok)
	_, signedIn := f.app.User()
	assert.False(t, signedIn)

	_, err = f.app.CompleteAuth(ctx)
	assert.ErrorIs(t, err, ErrAuthIncomplete)
}

func TestSignInPersistsSession(t *testing.T) {
	f := newFixture(t, false)
	u := f.signIn(t)
	assert.True(t, u.IsNewUser)

	raw, ok, err := f.kv.Get(context.Background(), session.DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(raw), `"firstName":"Amal"`)
}

func TestDailySpin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.signIn(t)

	state, err := f.app.CheckIn()
	require.NoError(t, err)
	assert.True(t, state.CanPlay)

	res, err := f.app.Spin(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(700), res.Value)
	assert.Equal(t, float64(315), res.Angle)

	u, _ := f.app.User()
	assert.Equal(t, authflow.DemoPoints+700, u.Points)

	_, err = f.app.Spin(ctx)
	assert.ErrorIs(t, err, lottery.ErrAlreadyPlayed)
	u, _ = f.app.User()
	assert.Equal(t, authflow.DemoPoints+700, u.Points)

	state, err = f.app.CheckIn()
	require.NoError(t, err)
	assert.False(t, state.CanPlay)
	require.NotNil(t, state.WonPoints)
	assert.Equal(t, int64(700), *state.WonPoints)

	f.clock.Advance(24 * time.Hour)
	state, _ = f.app.CheckIn()
	assert.True(t, state.CanPlay)
	assert.Equal(t, 2, state.CurrentDay)
}

func TestReceiptAndTier(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.signIn(t)

	scan, err := f.app.ScanReceipt(ctx, []byte("img"))
	require.NoError(t, err)
	u, _ := f.app.User()
	assert.Equal(t, authflow.DemoPoints+scan.PointsEarned, u.Points)

	_, err = f.app.ScanReceipt(ctx, nil)
	assert.ErrorIs(t, err, receipt.ErrEmptyImage)

	assert.True(t, lockedOf(f.app.Deals(), "deal-fashion-20"))
	_, err = f.app.Purchase(ctx, 300, 3)
	assert.ErrorIs(t, err, ledger.ErrInvalidSplit)

	u, err = f.app.UpgradeTier(ctx, models.TierSilver)
	require.NoError(t, err)
	assert.Equal(t, int64(7500), u.MonthlyLimit)
	assert.False(t, lockedOf(f.app.Deals(), "deal-fashion-20"))
	assert.True(t, lockedOf(f.app.Deals(), "deal-dinner-vip"))

	inst, err := f.app.Purchase(ctx, 300, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(100), inst.Monthly)
	u, _ = f.app.User()
	assert.Equal(t, int64(7200), u.AvailableLimit())

	_, err = f.app.Redeem(ctx, "deal-dinner-vip")
	assert.ErrorIs(t, err, catalog.ErrLocked)

	view := f.app.Open(catalog.StoreDetail{StoreID: "st-zara"})
	assert.False(t, view.Unavailable)
	assert.True(t, f.app.Open(nil).Unavailable)
}

func lockedOf(deals []catalog.DealView, id string) bool {
	for _, d := range deals {
		if d.ID == id {
			return d.Locked
		}
	}
	return false
}

func TestLogoutNeedsConfirmation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.signIn(t)

	req := f.app.RequestLogout()
	assert.Equal(t, confirm.ActionLogout, req.Action)
	require.NoError(t, f.app.Prompts().Cancel())
	assert.ErrorIs(t, req.Wait(ctx), confirm.ErrCancelled)
	_, ok := f.app.User()
	assert.True(t, ok)

	f.app.RequestLogout()
	del := f.app.RequestDeleteAccount()
	require.NoError(t, f.app.Prompts().Resolve(ctx))
	assert.NoError(t, del.Wait(ctx))

	_, ok = f.app.User()
	assert.False(t, ok)
	assert.Equal(t, authflow.StepPhone, f.app.Flow().Step())
	_, found, _ := f.kv.Get(ctx, session.DefaultKey)
	assert.False(t, found)
}

func TestScanReceiptWithoutAnalyzer(t *testing.T) {
	ctx := context.Background()
	a, err := New(Deps{
		Session: session.NewManager(session.NewMemoryKV(), "", nil),
		Client:  authflow.NewDemoClient(authflow.WithDelay(0)),
	})
	require.NoError(t, err)
	require.NoError(t, a.session.Login(ctx, models.User{ID: "u1", Level: models.TierBasic}))

	scan, err := a.ScanReceipt(ctx, []byte("img"))
	require.NoError(t, err)
	assert.Positive(t, scan.PointsEarned)
	u, _ := a.User()
	assert.Equal(t, scan.PointsEarned, u.Points)
}

// fakeAPI keeps the authoritative user the way the server would.
type fakeAPI struct {
	user   models.User
	played bool
	calls  []string
}

func (f *fakeAPI) Me(context.Context) (models.User, error) {
	f.calls = append(f.calls, "me")
	return f.user, nil
}

func (f *fakeAPI) Spin(_ context.Context, spinID string) (authflow.SpinReply, error) {
	f.calls = append(f.calls, "spin")
	if f.played {
		return authflow.SpinReply{}, &authflow.APIError{Status: 409, Message: lottery.ErrAlreadyPlayed.Error()}
	}
	f.played = true
	now := time.Date(2026, 7, 10, 9, 30, 0, 0, time.UTC)
	f.user.Points += 250
	f.user.LastSpinAt = &now
	f.user.SpinStreak = 1
	return authflow.SpinReply{SpinID: spinID, Index: 1, Value: 250, Angle: 45, Streak: 1, Points: f.user.Points}, nil
}

func (f *fakeAPI) ScanReceipt(_ context.Context, image []byte) (authflow.ReceiptReply, error) {
	f.calls = append(f.calls, "receipt")
	f.user.Points += 455
	return authflow.ReceiptReply{Amount: "45.500", PointsEarned: 455, Points: f.user.Points}, nil
}

func (f *fakeAPI) UpgradeTier(_ context.Context, tier models.Tier) (models.User, error) {
	f.calls = append(f.calls, "upgrade")
	next, err := ledger.UpgradeTier(f.user, tier)
	if err != nil {
		return models.User{}, &authflow.APIError{Status: 409, Message: err.Error()}
	}
	f.user = next
	return f.user, nil
}

func (f *fakeAPI) Purchase(_ context.Context, amount int64, months int) (models.User, ledger.Installment, error) {
	f.calls = append(f.calls, "purchase")
	next, inst, err := ledger.SplitPurchase(f.user, amount, months)
	if err != nil {
		return models.User{}, ledger.Installment{}, &authflow.APIError{Status: 400, Message: err.Error()}
	}
	f.user = next
	return f.user, inst, nil
}

func (f *fakeAPI) Redeem(_ context.Context, dealID string) (models.User, error) {
	f.calls = append(f.calls, "redeem:"+dealID)
	f.user.Points -= 100
	return f.user, nil
}

func TestRemoteRewardsFollowServer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	u := f.signIn(t)

	api := &fakeAPI{user: u}
	api.user.Points = 1000
	f.app.rewards = NewRemoteRewards(api)

	res, err := f.app.Spin(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(250), res.Value)
	assert.Equal(t, float64(45), res.Angle)
	got, _ := f.app.User()
	assert.Equal(t, int64(1250), got.Points)
	require.NotNil(t, got.LastSpinAt)

	state, err := f.app.CheckIn()
	require.NoError(t, err)
	assert.False(t, state.CanPlay)

	_, err = f.app.Spin(ctx)
	assert.ErrorIs(t, err, lottery.ErrAlreadyPlayed)
	got, _ = f.app.User()
	assert.Equal(t, int64(1250), got.Points)

	scan, err := f.app.ScanReceipt(ctx, []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, int64(45500), scan.Millimes)
	got, _ = f.app.User()
	assert.Equal(t, int64(1705), got.Points)

	_, err = f.app.Purchase(ctx, 300, 3)
	assert.ErrorIs(t, err, ledger.ErrInvalidSplit)

	_, err = f.app.UpgradeTier(ctx, models.TierSilver)
	require.NoError(t, err)
	inst, err := f.app.Purchase(ctx, 1000, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(334), inst.First)
	got, _ = f.app.User()
	assert.Equal(t, int64(1000), got.UsedThisMonth)

	_, err = f.app.Redeem(ctx, "deal-fashion-20")
	require.NoError(t, err)
	got, _ = f.app.User()
	assert.Equal(t, api.user.Points, got.Points)

	assert.Equal(t, []string{"spin", "me", "spin", "receipt", "me", "purchase", "upgrade", "purchase", "redeem:deal-fashion-20"}, api.calls)
}
