package authflow

import (
	"context"
	mrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taoo-rewards/internal/ledger"
	"taoo-rewards/internal/models"
	"taoo-rewards/internal/util/refcode"
)

const (
	DemoCode         = "1234"
	DemoDelay        = 1500 * time.Millisecond
	DemoPoints int64 = 2450
)

var demoInterests = []string{"Mode", "Restaurants", "Électronique"}

// DemoClient stands in for the backend: every call waits a fixed delay,
// half of the phone numbers are treated as existing accounts, and only
// DemoCode is accepted.
type DemoClient struct {
	delay time.Duration
	code  string
	force *bool

	mu       sync.Mutex
	rng      *mrand.Rand
	existing map[string]bool
}

type DemoOption func(*DemoClient)

func WithDelay(d time.Duration) DemoOption {
	return func(c *DemoClient) { c.delay = d }
}

// WithExisting pins the existing-account decision instead of flipping a coin.
func WithExisting(existing bool) DemoOption {
	return func(c *DemoClient) { c.force = &existing }
}

func WithRandSource(src mrand.Source) DemoOption {
	return func(c *DemoClient) { c.rng = mrand.New(src) }
}

func NewDemoClient(opts ...DemoOption) *DemoClient {
	c := &DemoClient{
		delay:    DemoDelay,
		code:     DemoCode,
		rng:      mrand.New(mrand.NewSource(time.Now().UnixNano())),
		existing: map[string]bool{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *DemoClient) SendCode(ctx context.Context, phone string) (SendResult, error) {
	if err := c.wait(ctx); err != nil {
		return SendResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, seen := c.existing[phone]
	if !seen {
		if c.force != nil {
			existing = *c.force
		} else {
			existing = c.rng.Intn(2) == 0
		}
		c.existing[phone] = existing
	}
	return SendResult{Existing: existing}, nil
}

func (c *DemoClient) VerifyCode(ctx context.Context, phone, code string) (VerifyResult, error) {
	if err := c.wait(ctx); err != nil {
		return VerifyResult{}, err
	}
	if code != c.code {
		return VerifyResult{}, ErrInvalidCode
	}
	c.mu.Lock()
	existing := c.existing[phone]
	c.mu.Unlock()
	if !existing {
		return VerifyResult{NeedsProfile: true}, nil
	}
	u, err := DemoUser(phone, "Mohamed", "Ben Salah")
	if err != nil {
		return VerifyResult{}, err
	}
	u.Completion = 85
	u.AccountAgeDays = 214
	return VerifyResult{User: &u}, nil
}

func (c *DemoClient) Register(ctx context.Context, phone, firstName, lastName string) (*models.User, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" || lastName == "" {
		return nil, ErrNameRequired
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	u, err := DemoUser(phone, firstName, lastName)
	if err != nil {
		return nil, err
	}
	u.Completion = 40
	u.IsNewUser = true
	c.mu.Lock()
	c.existing[phone] = true
	c.mu.Unlock()
	return &u, nil
}

// DemoUser builds a basic-tier account with the program's demo defaults.
func DemoUser(phone, firstName, lastName string) (models.User, error) {
	code, err := refcode.Generate()
	if err != nil {
		return models.User{}, err
	}
	limits := ledger.LimitsFor(models.TierBasic)
	now := time.Now().UTC()
	return models.User{
		ID:             uuid.NewString(),
		Phone:          phone,
		FirstName:      firstName,
		LastName:       lastName,
		Level:          models.TierBasic,
		Points:         DemoPoints,
		MonthlyLimit:   limits.MonthlyLimit,
		MaxSplitMonths: limits.MaxSplitMonths,
		Interests:      append([]string(nil), demoInterests...),
		ReferralCode:   code,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (c *DemoClient) wait(ctx context.Context) error {
	if c.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
