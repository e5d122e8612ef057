package otpauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taoo-rewards/internal/clock"
	"taoo-rewards/internal/database"
	"taoo-rewards/internal/events"
	"taoo-rewards/internal/models"
	"taoo-rewards/internal/otpcode"
)

const testPhone = "+216 20 123 4567"

type memUsers struct {
	mu    sync.Mutex
	users map[string]models.User
	// fail holds errors returned by the next CreateUser calls, in order.
	fail []error
}

func (m *memUsers) GetUserByPhone(_ context.Context, phone string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[phone]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	return &u, nil
}

func (m *memUsers) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.fail) > 0 {
		err := m.fail[0]
		m.fail = m.fail[1:]
		return err
	}
	if _, ok := m.users[u.Phone]; ok {
		return database.ErrPhoneTaken
	}
	m.users[u.Phone] = *u
	return nil
}

type captureSender struct {
	codes map[string]string
	err   error
}

func (c *captureSender) Deliver(_ context.Context, phone, code string) error {
	if c.err != nil {
		return c.err
	}
	c.codes[phone] = code
	return nil
}

type fixture struct {
	svc    *Service
	users  *memUsers
	sender *captureSender
	clock  *clock.Fake
	events *events.Recorder
}

func newFixture(t *testing.T, testCode string) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	codes := NewCodeStore(nil, "test:")
	codes.now = clk.Now
	f := &fixture{
		users:  &memUsers{users: map[string]models.User{}},
		sender: &captureSender{codes: map[string]string{}},
		clock:  clk,
		events: &events.Recorder{},
	}
	issuer := otpcode.NewIssuer("server-secret", 5*time.Minute, testCode)
	f.svc = NewService(f.users, codes, issuer, f.sender, f.events, clk,
		Config{TTL: 5 * time.Minute, ResendCooldown: time.Minute}, zap.NewNop())
	return f
}

func TestNewPhoneRegisters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")

	res, err := f.svc.Send(ctx, testPhone)
	require.NoError(t, err)
	assert.False(t, res.Existing)
	code := f.sender.codes["+216201234567"]
	require.Len(t, code, 4)

	verified, err := f.svc.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.Nil(t, verified.User)
	require.NotEmpty(t, verified.Ticket)

	_, err = f.svc.Register(ctx, verified.Ticket, "  ", "Trabelsi")
	assert.ErrorIs(t, err, ErrNameRequired)

	u, err := f.svc.Register(ctx, verified.Ticket, " <b>Amira</b> ", "O'Neil")
	require.NoError(t, err)
	assert.Equal(t, "Amira", u.FirstName)
	assert.Equal(t, "O'Neil", u.LastName)
	assert.True(t, u.IsNewUser)
	assert.Equal(t, models.TierBasic, u.Level)
	assert.Equal(t, "+216201234567", u.Phone)

	_, err = f.svc.Register(ctx, verified.Ticket, "Amira", "Trabelsi")
	assert.ErrorIs(t, err, ErrTicket)

	require.Len(t, f.events.Events(), 1)
	assert.Equal(t, events.TypeUserRegistered, f.events.Events()[0].Type)
}

func TestExistingPhoneLogsIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "1234")
	f.users.users["+216201234567"] = models.User{ID: "u1", Phone: "+216201234567"}

	res, err := f.svc.Send(ctx, testPhone)
	require.NoError(t, err)
	assert.True(t, res.Existing)

	verified, err := f.svc.Verify(ctx, testPhone, "1234")
	require.NoError(t, err)
	require.NotNil(t, verified.User)
	assert.Equal(t, "u1", verified.User.ID)

	_, err = f.svc.Verify(ctx, testPhone, "1234")
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")

	_, err := f.svc.Send(ctx, "+216 20 123 456")
	assert.ErrorIs(t, err, ErrInvalidPhone)

	_, err = f.svc.Send(ctx, testPhone)
	require.NoError(t, err)

	f.clock.Advance(20 * time.Second)
	res, err := f.svc.Send(ctx, testPhone)
	assert.ErrorIs(t, err, ErrCooldown)
	assert.Equal(t, 40*time.Second, res.ResendIn)

	f.clock.Advance(41 * time.Second)
	_, err = f.svc.Send(ctx, testPhone)
	assert.NoError(t, err)
}

func TestSendDeliveryFailureReleasesCooldown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	f.sender.err = errors.New("gateway down")

	_, err := f.svc.Send(ctx, testPhone)
	require.Error(t, err)

	f.sender.err = nil
	_, err = f.svc.Send(ctx, testPhone)
	assert.NoError(t, err)
}

func TestVerifyAttemptsAndExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")

	_, err := f.svc.Verify(ctx, testPhone, "0000")
	assert.ErrorIs(t, err, ErrCodeExpired)

	_, err = f.svc.Send(ctx, testPhone)
	require.NoError(t, err)
	code := f.sender.codes["+216201234567"]
	wrong := "0000"
	if code == wrong {
		wrong = "1111"
	}
	for i := 0; i < MaxAttempts; i++ {
		_, err = f.svc.Verify(ctx, testPhone, wrong)
		assert.ErrorIs(t, err, ErrInvalidCode)
	}
	_, err = f.svc.Verify(ctx, testPhone, code)
	assert.ErrorIs(t, err, ErrCodeExpired)

	f.clock.Advance(2 * time.Minute)
	_, err = f.svc.Send(ctx, testPhone)
	require.NoError(t, err)
	f.clock.Advance(6 * time.Minute)
	_, err = f.svc.Verify(ctx, testPhone, f.sender.codes["+216201234567"])
	assert.ErrorIs(t, err, ErrCodeExpired)
	assert.Equal(t, 1, f.svc.Sweep(f.clock.Now()))
}

func TestConcurrentWrongGuessesAreCapped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")

	_, err := f.svc.Send(ctx, testPhone)
	require.NoError(t, err)
	code := f.sender.codes["+216201234567"]
	wrong := "0000"
	if code == wrong {
		wrong = "1111"
	}

	var wg sync.WaitGroup
	for i := 0; i < 4*MaxAttempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Verify(ctx, testPhone, wrong)
			assert.Error(t, err)
		}()
	}
	wg.Wait()

	_, err = f.svc.Verify(ctx, testPhone, code)
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestRegisterRetriesReferralCollision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "1234")
	f.users.fail = []error{database.ErrDuplicate, database.ErrDuplicate}

	_, err := f.svc.Send(ctx, testPhone)
	require.NoError(t, err)
	verified, err := f.svc.Verify(ctx, testPhone, "1234")
	require.NoError(t, err)

	u, err := f.svc.Register(ctx, verified.Ticket, "Amira", "Trabelsi")
	require.NoError(t, err)
	assert.Equal(t, "+216201234567", u.Phone)
	assert.NotEmpty(t, u.ReferralCode)
}

func TestRegisterKeepsTicketOnStoreError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "1234")

	_, err := f.svc.Send(ctx, testPhone)
	require.NoError(t, err)
	verified, err := f.svc.Verify(ctx, testPhone, "1234")
	require.NoError(t, err)

	f.users.fail = []error{errors.New("connection reset")}
	_, err = f.svc.Register(ctx, verified.Ticket, "Amira", "Trabelsi")
	require.Error(t, err)

	u, err := f.svc.Register(ctx, verified.Ticket, "Amira", "Trabelsi")
	require.NoError(t, err)
	assert.Equal(t, "Amira", u.FirstName)

	_, err = f.svc.Register(ctx, verified.Ticket, "Amira", "Trabelsi")
	assert.ErrorIs(t, err, ErrTicket)

	f.users.fail = []error{database.ErrDuplicate, database.ErrDuplicate, database.ErrDuplicate}
	_, err = f.svc.Send(ctx, "+216 20 765 4321")
	require.NoError(t, err)
	verified, err = f.svc.Verify(ctx, "+216 20 765 4321", "1234")
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, verified.Ticket, "Sami", "Ben Ali")
	assert.ErrorIs(t, err, database.ErrDuplicate)
}

func TestCodeStoreIncr(t *testing.T) {
	s := NewCodeStore(nil, "")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	assert.Equal(t, int64(1), s.Incr(ctx, "n", time.Minute))
	assert.Equal(t, int64(2), s.Incr(ctx, "n", time.Minute))
	now = now.Add(2 * time.Minute)
	assert.Equal(t, int64(1), s.Incr(ctx, "n", time.Minute))
}

func TestCodeStoreSweep(t *testing.T) {
	s := NewCodeStore(nil, "")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	s.Set(ctx, "a", "1", time.Minute)
	s.Set(ctx, "b", "2", time.Hour)
	assert.Equal(t, 1, s.Sweep(now.Add(2*time.Minute)))

	v, ok := s.Take(ctx, "b")
	assert.True(t, ok)
	assert.Equal(t, "2", v)
	_, ok = s.Get(ctx, "b")
	assert.False(t, ok)

	ok, _ = s.TrySet(ctx, "c", "1", time.Minute)
	assert.True(t, ok)
	ok, left := s.TrySet(ctx, "c", "1", time.Minute)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, left)
}
