package authflow

import (
	"context"
	"strings"
	"sync"
	"time"

	"taoo-rewards/internal/clock"
	"taoo-rewards/internal/models"
	"taoo-rewards/internal/otpcode"
	"taoo-rewards/internal/phone"
)

type Step int

const (
	StepPhone Step = iota
	StepOTP
	StepProfile
	StepDone
)

func (s Step) String() string {
	switch s {
	case StepPhone:
		return "phone"
	case StepOTP:
		return "otp"
	case StepProfile:
		return "profile"
	case StepDone:
		return "done"
	default:
		return "unknown"
	}
}

const DefaultResendCooldown = 60 * time.Second

// Flow drives a user from phone entry to an authenticated User. It is
// safe for concurrent use; each submission carries a generation number so
// a response that lands after Cancel or Back is dropped.
type Flow struct {
	client   AuthClient
	clock    clock.Clock
	cooldown time.Duration

	mu       sync.Mutex
	step     Step
	phone    string
	entry    otpcode.Entry
	existing bool
	sentAt   time.Time
	err      error
	user     *models.User
	gen      uint64
	busy     bool
}

type Option func(*Flow)

func WithClock(c clock.Clock) Option {
	return func(f *Flow) { f.clock = c }
}

func WithCooldown(d time.Duration) Option {
	return func(f *Flow) { f.cooldown = d }
}

func New(client AuthClient, opts ...Option) *Flow {
	f := &Flow{
		client:   client,
		clock:    clock.System{},
		cooldown: DefaultResendCooldown,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Flow) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

// Existing reports the account lookup made when the code was sent.
func (f *Flow) Existing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing
}

// User is nil until the flow reaches StepDone.
func (f *Flow) User() *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.user == nil {
		return nil
	}
	u := f.user.Clone()
	return &u
}

// SetPhone stores the masked form of input and returns it.
func (f *Flow) SetPhone(input string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phone = phone.Format(input)
	f.err = nil
	return f.phone
}

func (f *Flow) Phone() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phone
}

func (f *Flow) CanSubmitPhone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step == StepPhone && !f.busy && phone.Complete(f.phone)
}

func (f *Flow) SubmitPhone(ctx context.Context) error {
	f.mu.Lock()
	if f.step != StepPhone {
		f.mu.Unlock()
		return ErrWrongStep
	}
	if f.busy {
		f.mu.Unlock()
		return ErrBusy
	}
	if !phone.Complete(f.phone) {
		f.err = &FieldError{Field: "phone", Err: ErrIncompletePhone}
		err := f.err
		f.mu.Unlock()
		return err
	}
	gen := f.begin()
	number := phone.E164(f.phone)
	f.mu.Unlock()

	res, err := f.client.SendCode(ctx, number)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.finish(gen) {
		return ErrStale
	}
	if err != nil {
		f.err = err
		return err
	}
	f.existing = res.Existing
	f.entry.Reset()
	f.sentAt = f.clock.Now()
	f.step = StepOTP
	return nil
}

func (f *Flow) Input(i int, s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entry.Input(i, s)
	f.err = nil
}

func (f *Flow) Backspace(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entry.Backspace(i)
	f.err = nil
}

// Entry returns a snapshot of the code fields.
func (f *Flow) Entry() otpcode.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entry
}

func (f *Flow) CanVerify() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step == StepOTP && !f.busy && f.entry.Complete()
}

func (f *Flow) SubmitCode(ctx context.Context) error {
	f.mu.Lock()
	if f.step != StepOTP {
		f.mu.Unlock()
		return ErrWrongStep
	}
	if f.busy {
		f.mu.Unlock()
		return ErrBusy
	}
	if !f.entry.Complete() {
		f.err = &FieldError{Field: "code", Err: ErrIncompleteCode}
		err := f.err
		f.mu.Unlock()
		return err
	}
	gen := f.begin()
	number := phone.E164(f.phone)
	code := f.entry.Code()
	f.mu.Unlock()

	res, err := f.client.VerifyCode(ctx, number, code)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.finish(gen) {
		return ErrStale
	}
	if err != nil {
		f.err = &FieldError{Field: "code", Err: err}
		return f.err
	}
	if res.NeedsProfile {
		f.step = StepProfile
		return nil
	}
	if res.User == nil {
		f.err = &FieldError{Field: "code", Err: ErrInvalidCode}
		return f.err
	}
	u := res.User.Clone()
	f.user = &u
	f.step = StepDone
	return nil
}

// ResendIn is the time left before a new code may be requested, rounded
// up to whole seconds.
func (f *Flow) ResendIn() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resendInLocked()
}

func (f *Flow) resendInLocked() time.Duration {
	if f.step != StepOTP {
		return 0
	}
	left := f.cooldown - f.clock.Now().Sub(f.sentAt)
	if left <= 0 {
		return 0
	}
	return left.Truncate(time.Second) + ceilSecond(left)
}

func ceilSecond(d time.Duration) time.Duration {
	if d%time.Second == 0 {
		return 0
	}
	return time.Second
}

func (f *Flow) CanResend() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step == StepOTP && !f.busy && f.resendInLocked() == 0
}

// Resend requests a new code and restarts the cooldown. The account
// lookup from the first send is kept.
func (f *Flow) Resend(ctx context.Context) error {
	f.mu.Lock()
	if f.step != StepOTP {
		f.mu.Unlock()
		return ErrWrongStep
	}
	if f.busy {
		f.mu.Unlock()
		return ErrBusy
	}
	if f.resendInLocked() > 0 {
		f.mu.Unlock()
		return ErrCooldown
	}
	gen := f.begin()
	number := phone.E164(f.phone)
	f.mu.Unlock()

	_, err := f.client.SendCode(ctx, number)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.finish(gen) {
		return ErrStale
	}
	if err != nil {
		f.err = err
		return err
	}
	f.sentAt = f.clock.Now()
	f.err = nil
	return nil
}

func (f *Flow) SubmitProfile(ctx context.Context, firstName, lastName string) error {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)

	f.mu.Lock()
	if f.step != StepProfile {
		f.mu.Unlock()
		return ErrWrongStep
	}
	if f.busy {
		f.mu.Unlock()
		return ErrBusy
	}
	var invalid *FieldError
	switch {
	case firstName == "":
		invalid = &FieldError{Field: "firstName", Err: ErrNameRequired}
	case lastName == "":
		invalid = &FieldError{Field: "lastName", Err: ErrNameRequired}
	}
	if invalid != nil {
		f.err = invalid
		f.mu.Unlock()
		return invalid
	}
	gen := f.begin()
	number := phone.E164(f.phone)
	f.mu.Unlock()

	u, err := f.client.Register(ctx, number, firstName, lastName)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.finish(gen) {
		return ErrStale
	}
	if err != nil {
		f.err = err
		return err
	}
	created := u.Clone()
	created.IsNewUser = true
	f.user = &created
	f.step = StepDone
	return nil
}

// Back returns to phone entry and drops any in-flight response.
func (f *Flow) Back() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.busy = false
	f.step = StepPhone
	f.entry.Reset()
	f.err = nil
	f.existing = false
}

// Cancel drops any in-flight response without changing the step.
func (f *Flow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.busy = false
}

func (f *Flow) begin() uint64 {
	f.gen++
	f.busy = true
	f.err = nil
	return f.gen
}

func (f *Flow) finish(gen uint64) bool {
	if gen != f.gen {
		return false
	}
	f.busy = false
	return true
}
