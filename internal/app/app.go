// Package app is the client-side core: one session, the sign-in flow, the
// daily wheel, receipts, deals and the confirmation prompts. Reward
// operations run locally or against the API depending on the RewardsClient.
package app

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"taoo-rewards/internal/authflow"
	"taoo-rewards/internal/catalog"
	"taoo-rewards/internal/confirm"
	"taoo-rewards/internal/ledger"
	"taoo-rewards/internal/lottery"
	"taoo-rewards/internal/models"
	"taoo-rewards/internal/receipt"
	"taoo-rewards/internal/session"
)

var ErrAuthIncomplete = errors.New("sign-in not finished")

const (
	LogoutPrompt = "Voulez-vous vraiment vous déconnecter ?"
	DeletePrompt = "Cette action est irréversible. Supprimer votre compte ?"
)

// AccountDeleter removes the account on the backend, when there is one.
type AccountDeleter interface {
	DeleteAccount(ctx context.Context) error
}

type Deps struct {
	Session  *session.Manager
	Client   authflow.AuthClient
	FlowOpts []authflow.Option
	Catalog  *catalog.Catalog
	Gate     *lottery.Gate
	Engine   *lottery.Engine
	Wheel    []models.WheelSegment
	Analyzer receipt.Analyzer
	// Rewards defaults to LocalRewards over Gate, Engine, Wheel and Analyzer.
	Rewards RewardsClient
	Deleter AccountDeleter
	Logger  *zap.Logger
}

type App struct {
	session  *session.Manager
	client   authflow.AuthClient
	flowOpts []authflow.Option
	catalog  *catalog.Catalog
	gate     *lottery.Gate
	wheel    []models.WheelSegment
	rewards  RewardsClient
	deleter  AccountDeleter
	logger   *zap.Logger
	prompts  confirm.Pending

	mu      sync.Mutex
	flow    *authflow.Flow
	lastWon *int64
}

func New(d Deps) (*App, error) {
	wheel := d.Wheel
	if wheel == nil {
		wheel = lottery.DefaultSegments
	}
	if err := lottery.Validate(wheel); err != nil {
		return nil, err
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Catalog == nil {
		d.Catalog = catalog.Default()
	}
	if d.Gate == nil {
		d.Gate = lottery.NewGate(nil, nil)
	}
	if d.Engine == nil {
		d.Engine = lottery.NewEngine()
	}
	if d.Analyzer == nil {
		d.Analyzer = receipt.NewSimulatedAnalyzer(0, nil)
	}
	if d.Rewards == nil {
		d.Rewards = NewLocalRewards(d.Gate, d.Engine, wheel, d.Analyzer)
	}
	a := &App{
		session:  d.Session,
		client:   d.Client,
		flowOpts: d.FlowOpts,
		catalog:  d.Catalog,
		gate:     d.Gate,
		wheel:    append([]models.WheelSegment(nil), wheel...),
		rewards:  d.Rewards,
		deleter:  d.Deleter,
		logger:   d.Logger,
	}
	a.flow = authflow.New(d.Client, d.FlowOpts...)
	return a, nil
}

// Start clears any session left from a previous run.
func (a *App) Start(ctx context.Context) error {
	return a.session.Restore(ctx)
}

func (a *App) Flow() *authflow.Flow {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flow
}

// CompleteAuth moves the user produced by a finished flow into the session.
func (a *App) CompleteAuth(ctx context.Context) (models.User, error) {
	flow := a.Flow()
	u := flow.User()
	if flow.Step() != authflow.StepDone || u == nil {
		return models.User{}, ErrAuthIncomplete
	}
	if err := a.session.Login(ctx, *u); err != nil {
		return models.User{}, err
	}
	a.logger.Info("signed in", zap.String("user_id", u.ID), zap.Bool("new", u.IsNewUser))
	return *u, nil
}

func (a *App) User() (models.User, bool) {
	return a.session.Current()
}

func (a *App) Wheel() []models.WheelSegment {
	return append([]models.WheelSegment(nil), a.wheel...)
}

func (a *App) CheckIn() (models.DailyCheckIn, error) {
	u, ok := a.session.Current()
	if !ok {
		return models.DailyCheckIn{}, session.ErrNoSession
	}
	a.mu.Lock()
	lastWon := a.lastWon
	a.mu.Unlock()
	return a.gate.State(u.LastSpinAt, u.SpinStreak, lastWon), nil
}

// Spin plays today's draw and credits the payout. A second spin in the same
// day fails with lottery.ErrAlreadyPlayed and draws nothing.
func (a *App) Spin(ctx context.Context) (lottery.Result, error) {
	var result lottery.Result
	_, err := a.session.Dispatch(ctx, func(u models.User) (models.User, error) {
		next, res, err := a.rewards.Spin(ctx, u)
		result = res
		return next, err
	})
	if err != nil {
		return lottery.Result{}, err
	}
	a.mu.Lock()
	won := result.Value
	a.lastWon = &won
	a.mu.Unlock()
	return result, nil
}

// ScanReceipt analyzes the image and credits the points it earns.
func (a *App) ScanReceipt(ctx context.Context, image []byte) (receipt.Scan, error) {
	var scan receipt.Scan
	_, err := a.session.Dispatch(ctx, func(u models.User) (models.User, error) {
		next, s, err := a.rewards.ScanReceipt(ctx, u, image)
		scan = s
		return next, err
	})
	if err != nil {
		return receipt.Scan{}, err
	}
	return scan, nil
}

func (a *App) UpgradeTier(ctx context.Context, tier models.Tier) (models.User, error) {
	return a.session.Dispatch(ctx, func(u models.User) (models.User, error) {
		return a.rewards.UpgradeTier(ctx, u, tier)
	})
}

// Purchase charges a split purchase against the monthly limit.
func (a *App) Purchase(ctx context.Context, amount int64, months int) (ledger.Installment, error) {
	var inst ledger.Installment
	_, err := a.session.Dispatch(ctx, func(u models.User) (models.User, error) {
		next, i, err := a.rewards.Purchase(ctx, u, amount, months)
		inst = i
		return next, err
	})
	if err != nil {
		return ledger.Installment{}, err
	}
	return inst, nil
}

func (a *App) Deals() []catalog.DealView {
	u, _ := a.session.Current()
	return a.catalog.Deals(u.Level)
}

// Open resolves navigation params; a missing target yields an
// unavailable view.
func (a *App) Open(p catalog.Params) catalog.View {
	u, _ := a.session.Current()
	return a.catalog.Resolve(p, u.Level)
}

func (a *App) Redeem(ctx context.Context, dealID string) (models.User, error) {
	deal, ok := a.catalog.Deal(dealID)
	if !ok {
		return models.User{}, catalog.ErrNotFound
	}
	return a.session.Dispatch(ctx, func(u models.User) (models.User, error) {
		return a.rewards.Redeem(ctx, u, deal)
	})
}

// Prompts exposes the pending confirmation for the UI to render.
func (a *App) Prompts() *confirm.Pending {
	return &a.prompts
}

func (a *App) RequestLogout() *confirm.Request {
	return a.prompts.Post(confirm.ActionLogout, LogoutPrompt, a.logout)
}

func (a *App) RequestDeleteAccount() *confirm.Request {
	return a.prompts.Post(confirm.ActionDeleteAccount, DeletePrompt, func(ctx context.Context) error {
		if a.deleter != nil {
			if err := a.deleter.DeleteAccount(ctx); err != nil {
				return err
			}
		}
		return a.logout(ctx)
	})
}

func (a *App) logout(ctx context.Context) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	a.flow.Cancel()
	a.flow = authflow.New(a.client, a.flowOpts...)
	a.lastWon = nil
	a.mu.Unlock()
	return nil
}
