package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taoo-rewards/internal/catalog"
	"taoo-rewards/internal/database"
	"taoo-rewards/internal/events"
	"taoo-rewards/internal/ledger"
	"taoo-rewards/internal/lottery"
	"taoo-rewards/internal/models"
	"taoo-rewards/internal/receipt"
)

type Store interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	MutateUser(ctx context.Context, id string, fn func(models.User) (database.Change, error)) (models.User, error)
	GetSpin(ctx context.Context, userID, spinID string) (*models.SpinRecord, error)
	ListSpins(ctx context.Context, userID string, limit int) ([]models.SpinRecord, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]models.PointsTransaction, error)
	DeleteUser(ctx context.Context, id string) error
	ResetMonthlyUsage(ctx context.Context, month string) (int64, error)
}

type WheelSource interface {
	Get(ctx context.Context) ([]models.WheelSegment, error)
}

type Service struct {
	store     Store
	wheel     WheelSource
	engine    *lottery.Engine
	gate      *lottery.Gate
	analyzer  receipt.Analyzer
	catalog   *catalog.Catalog
	publisher events.Publisher
	logger    *zap.Logger
}

type Deps struct {
	Store     Store
	Wheel     WheelSource
	Engine    *lottery.Engine
	Gate      *lottery.Gate
	Analyzer  receipt.Analyzer
	Catalog   *catalog.Catalog
	Publisher events.Publisher
	Logger    *zap.Logger
}

func NewService(d Deps) *Service {
	if d.Publisher == nil {
		d.Publisher = events.NoopPublisher{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Engine == nil {
		d.Engine = lottery.NewEngine()
	}
	if d.Gate == nil {
		d.Gate = lottery.NewGate(nil, nil)
	}
	if d.Catalog == nil {
		d.Catalog = catalog.Default()
	}
	return &Service{
		store:     d.Store,
		wheel:     d.Wheel,
		engine:    d.Engine,
		gate:      d.Gate,
		analyzer:  d.Analyzer,
		catalog:   d.Catalog,
		publisher: d.Publisher,
		logger:    d.Logger,
	}
}

type Status struct {
	CheckIn  models.DailyCheckIn   `json:"checkIn"`
	Segments []models.WheelSegment `json:"segments"`
	Points   int64                 `json:"points"`
}

type SpinOutcome struct {
	SpinID string  `json:"spinId"`
	Index  int     `json:"index"`
	Value  int64   `json:"value"`
	Angle  float64 `json:"angle"`
	Streak int     `json:"streak"`
	Points int64   `json:"points"`
	// Replayed is set when the spin id was already settled; nothing new
	// was drawn or credited.
	Replayed bool `json:"replayed"`
}

type ReceiptOutcome struct {
	Amount       string `json:"amount"`
	PointsEarned int64  `json:"pointsEarned"`
	Points       int64  `json:"points"`
}

func (s *Service) Me(ctx context.Context, userID string) (*models.User, error) {
	return s.store.GetUserByID(ctx, userID)
}

// Status reports today's check-in state alongside the active wheel.
func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	segments, err := s.wheel.Get(ctx)
	if err != nil {
		return Status{}, err
	}
	var lastWon *int64
	if u.LastSpinAt != nil {
		spins, err := s.store.ListSpins(ctx, userID, 1)
		if err != nil {
			return Status{}, err
		}
		if len(spins) > 0 {
			v := spins[0].Value
			lastWon = &v
		}
	}
	return Status{
		CheckIn:  s.gate.State(u.LastSpinAt, u.SpinStreak, lastWon),
		Segments: segments,
		Points:   u.Points,
	}, nil
}

// Spin settles one daily draw: eligibility, draw, credit and the spin
// record commit together or not at all. Repeating a settled spinID returns
// the original outcome.
func (s *Service) Spin(ctx context.Context, userID, spinID string) (SpinOutcome, error) {
	if spinID == "" {
		spinID = uuid.NewString()
	}
	if out, ok, err := s.replay(ctx, userID, spinID); err != nil || ok {
		return out, err
	}

	segments, err := s.wheel.Get(ctx)
	if err != nil {
		return SpinOutcome{}, err
	}
	if err := lottery.Validate(segments); err != nil {
		return SpinOutcome{}, err
	}

	var outcome SpinOutcome
	updated, err := s.store.MutateUser(ctx, userID, func(u models.User) (database.Change, error) {
		streak, err := s.gate.Check(u.LastSpinAt, u.SpinStreak)
		if err != nil {
			return database.Change{}, err
		}
		result := s.engine.Draw(segments)
		next, err := ledger.CreditPoints(u, result.Value)
		if err != nil {
			return database.Change{}, err
		}
		now := s.gate.Now().UTC()
		next.LastSpinAt = &now
		next.SpinStreak = streak
		outcome = SpinOutcome{
			SpinID: spinID,
			Index:  result.Index,
			Value:  result.Value,
			Angle:  result.Angle,
			Streak: streak,
		}
		return database.Change{
			User: next,
			Spin: &models.SpinRecord{
				SpinID:    spinID,
				Value:     result.Value,
				Angle:     result.Angle,
				Streak:    streak,
				CreatedAt: now,
			},
			Transaction: &models.PointsTransaction{
				ID:        uuid.NewString(),
				Kind:      models.TransactionSpin,
				Amount:    result.Value,
				Balance:   next.Points,
				Reference: spinID,
				CreatedAt: now,
			},
		}, nil
	})
	if errors.Is(err, database.ErrDuplicate) {
		if out, ok, rerr := s.replay(ctx, userID, spinID); rerr == nil && ok {
			return out, nil
		}
	}
	if err != nil {
		return SpinOutcome{}, err
	}
	outcome.Points = updated.Points

	s.publish(ctx, events.New(events.TypePointsCredited, userID, map[string]any{
		"kind":    models.TransactionSpin,
		"amount":  outcome.Value,
		"balance": updated.Points,
		"spinId":  spinID,
	}))
	s.logger.Info("spin settled",
		zap.String("user_id", userID),
		zap.String("spin_id", spinID),
		zap.Int64("value", outcome.Value),
		zap.Int("streak", outcome.Streak),
	)
	return outcome, nil
}

func (s *Service) replay(ctx context.Context, userID, spinID string) (SpinOutcome, bool, error) {
	rec, err := s.store.GetSpin(ctx, userID, spinID)
	if err != nil || rec == nil {
		return SpinOutcome{}, false, err
	}
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return SpinOutcome{}, false, err
	}
	return SpinOutcome{
		SpinID:   rec.SpinID,
		Index:    -1,
		Value:    rec.Value,
		Angle:    rec.Angle,
		Streak:   rec.Streak,
		Points:   u.Points,
		Replayed: true,
	}, true, nil
}

// ScanReceipt analyzes a receipt photo and credits ten points per dinar.
func (s *Service) ScanReceipt(ctx context.Context, userID string, image []byte) (ReceiptOutcome, error) {
	if s.analyzer == nil {
		return ReceiptOutcome{}, errors.New("receipt analysis unavailable")
	}
	scan, err := receipt.Process(ctx, s.analyzer, image)
	if err != nil {
		return ReceiptOutcome{}, err
	}
	if scan.PointsEarned <= 0 {
		return ReceiptOutcome{}, ledger.ErrInvalidReceipt
	}
	reference := uuid.NewString()
	updated, err := s.store.MutateUser(ctx, userID, func(u models.User) (database.Change, error) {
		next, err := ledger.CreditPoints(u, scan.PointsEarned)
		if err != nil {
			return database.Change{}, err
		}
		return database.Change{
			User: next,
			Transaction: &models.PointsTransaction{
				ID:        reference,
				Kind:      models.TransactionReceipt,
				Amount:    scan.PointsEarned,
				Balance:   next.Points,
				Reference: scan.Amount,
			},
		}, nil
	})
	if err != nil {
		return ReceiptOutcome{}, err
	}
	s.publish(ctx, events.New(events.TypePointsCredited, userID, map[string]any{
		"kind":    models.TransactionReceipt,
		"amount":  scan.PointsEarned,
		"balance": updated.Points,
	}))
	return ReceiptOutcome{Amount: scan.Amount, PointsEarned: scan.PointsEarned, Points: updated.Points}, nil
}

func (s *Service) UpgradeTier(ctx context.Context, userID string, tier models.Tier) (models.User, error) {
	var from models.Tier
	updated, err := s.store.MutateUser(ctx, userID, func(u models.User) (database.Change, error) {
		from = u.Level
		next, err := ledger.UpgradeTier(u, tier)
		if err != nil {
			return database.Change{}, err
		}
		return database.Change{User: next}, nil
	})
	if err != nil {
		return models.User{}, err
	}
	s.publish(ctx, events.New(events.TypeTierUpgraded, userID, map[string]any{
		"from": from,
		"to":   tier,
	}))
	return updated, nil
}

// Deals lists the catalog annotated for the user's tier.
func (s *Service) Deals(ctx context.Context, userID string) ([]catalog.DealView, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.catalog.Deals(u.Level), nil
}

func (s *Service) Deal(ctx context.Context, userID, dealID string) (catalog.View, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return catalog.View{}, err
	}
	return s.catalog.Resolve(catalog.DealDetail{DealID: dealID}, u.Level), nil
}

// Redeem spends the deal's point cost.
func (s *Service) Redeem(ctx context.Context, userID, dealID string) (models.User, error) {
	deal, ok := s.catalog.Deal(dealID)
	if !ok {
		return models.User{}, fmt.Errorf("%w: %s", catalog.ErrNotFound, dealID)
	}
	updated, err := s.store.MutateUser(ctx, userID, func(u models.User) (database.Change, error) {
		next, err := catalog.Redeem(u, deal)
		if err != nil {
			return database.Change{}, err
		}
		return database.Change{
			User: next,
			Transaction: &models.PointsTransaction{
				ID:        uuid.NewString(),
				Kind:      models.TransactionRedeem,
				Amount:    -deal.PointsCost,
				Balance:   next.Points,
				Reference: deal.ID,
			},
		}, nil
	})
	if err != nil {
		return models.User{}, err
	}
	s.publish(ctx, events.New(events.TypePointsDebited, userID, map[string]any{
		"kind":    models.TransactionRedeem,
		"amount":  deal.PointsCost,
		"balance": updated.Points,
		"dealId":  deal.ID,
	}))
	return updated, nil
}

// Purchase charges a split purchase, in dinars, against the monthly limit.
func (s *Service) Purchase(ctx context.Context, userID string, amount int64, months int) (models.User, ledger.Installment, error) {
	var inst ledger.Installment
	updated, err := s.store.MutateUser(ctx, userID, func(u models.User) (database.Change, error) {
		next, i, err := ledger.SplitPurchase(u, amount, months)
		if err != nil {
			return database.Change{}, err
		}
		inst = i
		return database.Change{User: next}, nil
	})
	if err != nil {
		return models.User{}, ledger.Installment{}, err
	}
	s.publish(ctx, events.New(events.TypeSpendingRecorded, userID, map[string]any{
		"amount":    amount,
		"months":    months,
		"available": updated.AvailableLimit(),
	}))
	return updated, inst, nil
}

// Sweep resets monthly usage once the calendar month changes in the spin
// timezone. It runs on the scheduler.
func (s *Service) Sweep(now time.Time) int {
	month := s.gate.Window(now).Format("2006-01")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := s.store.ResetMonthlyUsage(ctx, month)
	if err != nil {
		s.logger.Error("monthly usage reset failed", zap.String("month", month), zap.Error(err))
		return 0
	}
	if n > 0 {
		s.logger.Info("monthly usage reset", zap.String("month", month), zap.Int64("users", n))
	}
	return int(n)
}

func (s *Service) History(ctx context.Context, userID string, limit int) ([]models.PointsTransaction, error) {
	return s.store.ListTransactions(ctx, userID, limit)
}

func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("account deleted", zap.String("user_id", userID))
	return nil
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish event failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
