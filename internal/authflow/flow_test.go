package authflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taoo-rewards/internal/clock"
	"taoo-rewards/internal/models"
)

const testPhone = "+216 20 123 4567"

func newFlow(t *testing.T, existing bool) (*Flow, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	client := NewDemoClient(WithDelay(0), WithExisting(existing))
	return New(client, WithClock(clk)), clk
}

func enterCode(f *Flow, code string) {
	for i, r := range code {
		f.Input(i, string(r))
	}
}

func TestNewUserFlow(t *testing.T) {
	ctx := context.Background()
	f, _ := newFlow(t, false)

	assert.Equal(t, testPhone, f.SetPhone("20 123 4567"))
	require.True(t, f.CanSubmitPhone())
	require.NoError(t, f.SubmitPhone(ctx))
	assert.Equal(t, StepOTP, f.Step())
	assert.False(t, f.Existing())

	enterCode(f, "1234")
	require.True(t, f.CanVerify())
	require.NoError(t, f.SubmitCode(ctx))
	assert.Equal(t, StepProfile, f.Step())
	assert.Nil(t, f.User())

	require.NoError(t, f.SubmitProfile(ctx, "Amal", "Trabelsi"))
	assert.Equal(t, StepDone, f.Step())

	u := f.User()
	require.NotNil(t, u)
	assert.True(t, u.IsNewUser)
	assert.Equal(t, models.TierBasic, u.Level)
	assert.NotEmpty(t, u.ReferralCode)
	assert.Equal(t, DemoPoints, u.Points)
	assert.Equal(t, "Amal", u.FirstName)
	assert.Equal(t, "Trabelsi", u.LastName)
	assert.Equal(t, "+216201234567", u.Phone)
}

func TestExistingUserFlowSkipsProfile(t *testing.T) {
	ctx := context.Background()
	f, _ := newFlow(t, true)

	f.SetPhone(testPhone)
	require.NoError(t, f.SubmitPhone(ctx))
	assert.True(t, f.Existing())

	enterCode(f, "1234")
	require.NoError(t, f.SubmitCode(ctx))
	assert.Equal(t, StepDone, f.Step())

	u := f.User()
	require.NotNil(t, u)
	assert.Equal(t, models.TierBasic, u.Level)
	assert.Equal(t, DemoPoints, u.Points)
	assert.False(t, u.IsNewUser)
	assert.ErrorIs(t, f.SubmitProfile(ctx, "Amal", "Trabelsi"), ErrWrongStep)
}

func TestSpecExamplePhoneIsIncomplete(t *testing.T) {
	f, _ := newFlow(t, true)
	f.SetPhone("+216 20 123 456")
	assert.False(t, f.CanSubmitPhone())

	err := f.SubmitPhone(context.Background())
	var fieldErr *FieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "phone", fieldErr.Field)
	assert.ErrorIs(t, err, ErrIncompletePhone)
	assert.Equal(t, StepPhone, f.Step())
}

func TestVerifyGating(t *testing.T) {
	ctx := context.Background()
	f, _ := newFlow(t, true)
	f.SetPhone(testPhone)
	require.NoError(t, f.SubmitPhone(ctx))

	for i, d := range []string{"1", "2", "3"} {
		f.Input(i, d)
		assert.False(t, f.CanVerify())
	}
	assert.ErrorIs(t, f.SubmitCode(ctx), ErrIncompleteCode)

	f.Input(3, "4")
	assert.True(t, f.CanVerify())

	f.Backspace(3)
	assert.False(t, f.CanVerify())
}

func TestWrongCodeStaysOnOTP(t *testing.T) {
	ctx := context.Background()
	f, _ := newFlow(t, false)
	f.SetPhone(testPhone)
	require.NoError(t, f.SubmitPhone(ctx))

	enterCode(f, "9999")
	err := f.SubmitCode(ctx)
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.Equal(t, StepOTP, f.Step())
	entry := f.Entry()
	assert.Equal(t, "9999", entry.Code())

	f.Backspace(3)
	assert.NoError(t, f.Err())
	f.Input(0, "1")
	f.Input(1, "2")
	f.Input(2, "3")
	f.Input(3, "4")
	require.NoError(t, f.SubmitCode(ctx))
	assert.Equal(t, StepProfile, f.Step())
}

func TestProfileRequiresNames(t *testing.T) {
	ctx := context.Background()
	f, _ := newFlow(t, false)
	f.SetPhone(testPhone)
	require.NoError(t, f.SubmitPhone(ctx))
	enterCode(f, "1234")
	require.NoError(t, f.SubmitCode(ctx))

	var fieldErr *FieldError
	err := f.SubmitProfile(ctx, "   ", "Trabelsi")
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "firstName", fieldErr.Field)

	err = f.SubmitProfile(ctx, "Amal", "")
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "lastName", fieldErr.Field)
	assert.Equal(t, StepProfile, f.Step())

	require.NoError(t, f.SubmitProfile(ctx, "  Amal ", " Trabelsi"))
	assert.Equal(t, "Amal", f.User().FirstName)
}

func TestResendCooldown(t *testing.T) {
	ctx := context.Background()
	f, clk := newFlow(t, true)
	f.SetPhone(testPhone)
	require.NoError(t, f.SubmitPhone(ctx))

	assert.Equal(t, 60*time.Second, f.ResendIn())
	assert.False(t, f.CanResend())
	assert.ErrorIs(t, f.Resend(ctx), ErrCooldown)

	clk.Advance(59*time.Second + 500*time.Millisecond)
	assert.Equal(t, time.Second, f.ResendIn())
	assert.False(t, f.CanResend())

	clk.Advance(time.Second)
	assert.Equal(t, time.Duration(0), f.ResendIn())
	require.True(t, f.CanResend())
	require.NoError(t, f.Resend(ctx))
	assert.Equal(t, 60*time.Second, f.ResendIn())
	assert.NoError(t, f.Err())
}

type blockingClient struct {
	*DemoClient
	release chan struct{}
}

func (b *blockingClient) SendCode(ctx context.Context, phone string) (SendResult, error) {
	<-b.release
	return b.DemoClient.SendCode(ctx, phone)
}

func TestCancelDropsLateResponse(t *testing.T) {
	client := &blockingClient{
		DemoClient: NewDemoClient(WithDelay(0), WithExisting(true)),
		release:    make(chan struct{}),
	}
	f := New(client)
	f.SetPhone(testPhone)

	done := make(chan error, 1)
	go func() {
		done <- f.SubmitPhone(context.Background())
	}()

	require.Eventually(t, f.Busy, time.Second, time.Millisecond)
	assert.ErrorIs(t, f.SubmitPhone(context.Background()), ErrBusy)
	f.Cancel()
	close(client.release)

	assert.ErrorIs(t, <-done, ErrStale)
	assert.Equal(t, StepPhone, f.Step())
}

func TestDemoClientHonorsContext(t *testing.T) {
	client := NewDemoClient(WithDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.SendCode(ctx, "+216201234567")
	assert.True(t, errors.Is(err, context.Canceled))
}
