package otpauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"taoo-rewards/internal/authflow"
	"taoo-rewards/internal/clock"
	"taoo-rewards/internal/database"
	"taoo-rewards/internal/events"
	"taoo-rewards/internal/models"
	"taoo-rewards/internal/otpcode"
	"taoo-rewards/internal/phone"
)

var (
	ErrInvalidPhone = errors.New("phone number must have 12 digits")
	ErrCooldown     = errors.New("code already sent, wait before resending")
	ErrInvalidCode  = errors.New("invalid code")
	ErrCodeExpired  = errors.New("code expired or never sent")
	ErrNameRequired = errors.New("first and last name are required")
	ErrTicket       = errors.New("registration ticket invalid or expired")
)

const (
	MaxAttempts = 5
	TicketTTL   = 10 * time.Minute

	referralAttempts = 3
)

// UserStore is the slice of the database the auth service needs.
type UserStore interface {
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
}

// Sender delivers a code to the subscriber, e.g. through an SMS gateway.
type Sender interface {
	Deliver(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the log instead of sending them.
type LogSender struct {
	Logger *zap.Logger
}

func (s LogSender) Deliver(_ context.Context, phone, code string) error {
	s.Logger.Info("otp code issued", zap.String("phone", phone), zap.String("code", code))
	return nil
}

type Config struct {
	TTL            time.Duration
	ResendCooldown time.Duration
}

type Service struct {
	users     UserStore
	codes     *CodeStore
	issuer    *otpcode.Issuer
	sender    Sender
	publisher events.Publisher
	clock     clock.Clock
	cfg       Config
	logger    *zap.Logger
	names     *bluemonday.Policy
}

type SendResult struct {
	Existing bool          `json:"existing"`
	ResendIn time.Duration `json:"-"`
}

// VerifyResult holds the account for a known phone, or a ticket that lets a
// new phone finish registration.
type VerifyResult struct {
	User   *models.User
	Ticket string
}

type challenge struct {
	IssuedAt time.Time `json:"issuedAt"`
}

func NewService(users UserStore, codes *CodeStore, issuer *otpcode.Issuer, sender Sender, publisher events.Publisher, clk clock.Clock, cfg Config, logger *zap.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = authflow.DefaultResendCooldown
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		users:     users,
		codes:     codes,
		issuer:    issuer,
		sender:    sender,
		publisher: publisher,
		clock:     clk,
		cfg:       cfg,
		logger:    logger,
		names:     bluemonday.StrictPolicy(),
	}
}

func challengeKey(p string) string { return "otp:challenge:" + p }
func attemptsKey(p string) string  { return "otp:attempts:" + p }
func cooldownKey(p string) string  { return "otp:cooldown:" + p }
func ticketKey(t string) string    { return "otp:ticket:" + t }

// Send issues a fresh code for the phone unless one was sent within the
// resend cooldown.
func (s *Service) Send(ctx context.Context, rawPhone string) (SendResult, error) {
	p := phone.E164(rawPhone)
	if p == "" {
		return SendResult{}, ErrInvalidPhone
	}
	if ok, left := s.codes.TrySet(ctx, cooldownKey(p), "1", s.cfg.ResendCooldown); !ok {
		return SendResult{ResendIn: left}, ErrCooldown
	}

	now := s.clock.Now()
	code, err := s.issuer.Generate(p, now)
	if err != nil {
		s.codes.Delete(ctx, cooldownKey(p))
		return SendResult{}, fmt.Errorf("generate code: %w", err)
	}
	payload, _ := json.Marshal(challenge{IssuedAt: now})
	s.codes.Delete(ctx, attemptsKey(p))
	s.codes.Set(ctx, challengeKey(p), string(payload), s.cfg.TTL)

	if err := s.sender.Deliver(ctx, p, code); err != nil {
		s.codes.Delete(ctx, challengeKey(p))
		s.codes.Delete(ctx, cooldownKey(p))
		return SendResult{}, fmt.Errorf("deliver code: %w", err)
	}

	existing := true
	if _, err := s.users.GetUserByPhone(ctx, p); err != nil {
		if !errors.Is(err, database.ErrUserNotFound) {
			return SendResult{}, err
		}
		existing = false
	}
	return SendResult{Existing: existing, ResendIn: s.cfg.ResendCooldown}, nil
}

// Verify checks the code against the outstanding challenge and consumes it.
func (s *Service) Verify(ctx context.Context, rawPhone, code string) (VerifyResult, error) {
	p := phone.E164(rawPhone)
	if p == "" {
		return VerifyResult{}, ErrInvalidPhone
	}
	raw, ok := s.codes.Get(ctx, challengeKey(p))
	if !ok {
		return VerifyResult{}, ErrCodeExpired
	}
	var ch challenge
	if err := json.Unmarshal([]byte(raw), &ch); err != nil {
		s.codes.Delete(ctx, challengeKey(p))
		return VerifyResult{}, ErrCodeExpired
	}

	if !s.issuer.Validate(p, strings.TrimSpace(code), ch.IssuedAt) {
		// Incr keeps concurrent wrong guesses from sharing one slot.
		left := s.cfg.TTL - s.clock.Now().Sub(ch.IssuedAt)
		if left < time.Second {
			left = time.Second
		}
		if s.codes.Incr(ctx, attemptsKey(p), left) >= MaxAttempts {
			s.codes.Delete(ctx, challengeKey(p))
			s.codes.Delete(ctx, attemptsKey(p))
			s.logger.Warn("otp attempts exhausted", zap.String("phone", p))
		}
		return VerifyResult{}, ErrInvalidCode
	}
	if _, ok := s.codes.Take(ctx, challengeKey(p)); !ok {
		return VerifyResult{}, ErrCodeExpired
	}
	s.codes.Delete(ctx, attemptsKey(p))

	u, err := s.users.GetUserByPhone(ctx, p)
	if err == nil {
		return VerifyResult{User: u}, nil
	}
	if !errors.Is(err, database.ErrUserNotFound) {
		return VerifyResult{}, err
	}
	ticket := uuid.NewString()
	s.codes.Set(ctx, ticketKey(ticket), p, TicketTTL)
	return VerifyResult{Ticket: ticket}, nil
}

// Register creates the account for a verified phone. The ticket is spent
// only once the account exists, so a failed insert can be retried with it.
func (s *Service) Register(ctx context.Context, ticket, firstName, lastName string) (*models.User, error) {
	first := s.cleanName(firstName)
	last := s.cleanName(lastName)
	if first == "" || last == "" {
		return nil, ErrNameRequired
	}
	if ticket == "" {
		return nil, ErrTicket
	}
	p, ok := s.codes.Get(ctx, ticketKey(ticket))
	if !ok {
		return nil, ErrTicket
	}

	u, err := s.createUser(ctx, p, first, last)
	if errors.Is(err, database.ErrPhoneTaken) {
		s.codes.Delete(ctx, ticketKey(ticket))
		return s.users.GetUserByPhone(ctx, p)
	}
	if err != nil {
		return nil, err
	}
	s.codes.Delete(ctx, ticketKey(ticket))

	ev := events.New(events.TypeUserRegistered, u.ID, map[string]any{"points": u.Points})
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish registration failed", zap.String("user_id", u.ID), zap.Error(err))
	}
	s.logger.Info("user registered", zap.String("user_id", u.ID))
	return &u, nil
}

// createUser inserts a new account, drawing a fresh referral code when the
// previous one collides.
func (s *Service) createUser(ctx context.Context, p, first, last string) (models.User, error) {
	var err error
	for i := 0; i < referralAttempts; i++ {
		var u models.User
		u, err = authflow.DemoUser(p, first, last)
		if err != nil {
			return models.User{}, err
		}
		u.Completion = 40
		u.IsNewUser = true
		u.CreatedAt = s.clock.Now().UTC()
		err = s.users.CreateUser(ctx, &u)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, database.ErrDuplicate) {
			return models.User{}, err
		}
	}
	return models.User{}, fmt.Errorf("referral code: %w", err)
}

func (s *Service) cleanName(name string) string {
	return strings.TrimSpace(html.UnescapeString(s.names.Sanitize(strings.TrimSpace(name))))
}

// Sweep purges expired challenges, cooldowns and tickets held in memory.
func (s *Service) Sweep(now time.Time) int {
	return s.codes.Sweep(now)
}
