package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"taoo-rewards/internal/authflow"
	"taoo-rewards/internal/catalog"
	"taoo-rewards/internal/ledger"
	"taoo-rewards/internal/lottery"
	"taoo-rewards/internal/models"
	"taoo-rewards/internal/receipt"
)

// RewardsClient applies a reward operation for the signed-in user u and
// returns the user as it stands afterwards. App runs every call inside
// session.Dispatch.
type RewardsClient interface {
	Spin(ctx context.Context, u models.User) (models.User, lottery.Result, error)
	ScanReceipt(ctx context.Context, u models.User, image []byte) (models.User, receipt.Scan, error)
	UpgradeTier(ctx context.Context, u models.User, tier models.Tier) (models.User, error)
	Purchase(ctx context.Context, u models.User, amount int64, months int) (models.User, ledger.Installment, error)
	Redeem(ctx context.Context, u models.User, deal models.Deal) (models.User, error)
}

// LocalRewards plays everything on the device: the gate and engine decide
// the spin and the ledger applies the changes.
type LocalRewards struct {
	gate     *lottery.Gate
	engine   *lottery.Engine
	wheel    []models.WheelSegment
	analyzer receipt.Analyzer
}

func NewLocalRewards(gate *lottery.Gate, engine *lottery.Engine, wheel []models.WheelSegment, analyzer receipt.Analyzer) *LocalRewards {
	return &LocalRewards{
		gate:     gate,
		engine:   engine,
		wheel:    append([]models.WheelSegment(nil), wheel...),
		analyzer: analyzer,
	}
}

func (r *LocalRewards) Spin(_ context.Context, u models.User) (models.User, lottery.Result, error) {
	streak, err := r.gate.Check(u.LastSpinAt, u.SpinStreak)
	if err != nil {
		return u, lottery.Result{}, err
	}
	result := r.engine.Draw(r.wheel)
	next, err := ledger.CreditPoints(u, result.Value)
	if err != nil {
		return u, lottery.Result{}, err
	}
	now := r.gate.Now()
	next.LastSpinAt = &now
	next.SpinStreak = streak
	return next, result, nil
}

func (r *LocalRewards) ScanReceipt(ctx context.Context, u models.User, image []byte) (models.User, receipt.Scan, error) {
	scan, err := receipt.Process(ctx, r.analyzer, image)
	if err != nil {
		return u, receipt.Scan{}, err
	}
	next, err := ledger.CreditPoints(u, scan.PointsEarned)
	if err != nil {
		return u, receipt.Scan{}, err
	}
	return next, scan, nil
}

func (r *LocalRewards) UpgradeTier(_ context.Context, u models.User, tier models.Tier) (models.User, error) {
	return ledger.UpgradeTier(u, tier)
}

func (r *LocalRewards) Purchase(_ context.Context, u models.User, amount int64, months int) (models.User, ledger.Installment, error) {
	return ledger.SplitPurchase(u, amount, months)
}

func (r *LocalRewards) Redeem(_ context.Context, u models.User, deal models.Deal) (models.User, error) {
	return catalog.Redeem(u, deal)
}

// RewardsAPI is the server side of the rewards calls.
type RewardsAPI interface {
	Me(ctx context.Context) (models.User, error)
	Spin(ctx context.Context, spinID string) (authflow.SpinReply, error)
	ScanReceipt(ctx context.Context, image []byte) (authflow.ReceiptReply, error)
	UpgradeTier(ctx context.Context, tier models.Tier) (models.User, error)
	Purchase(ctx context.Context, amount int64, months int) (models.User, ledger.Installment, error)
	Redeem(ctx context.Context, dealID string) (models.User, error)
}

// RemoteRewards sends every operation to the API. The server's copy of the
// user replaces the session's, so the daily gate and the balance follow the
// server across restarts.
type RemoteRewards struct {
	api RewardsAPI
}

func NewRemoteRewards(api RewardsAPI) *RemoteRewards {
	return &RemoteRewards{api: api}
}

func (r *RemoteRewards) Spin(ctx context.Context, u models.User) (models.User, lottery.Result, error) {
	reply, err := r.api.Spin(ctx, uuid.NewString())
	if err != nil {
		return u, lottery.Result{}, remoteError(err)
	}
	next, err := r.api.Me(ctx)
	if err != nil {
		return u, lottery.Result{}, remoteError(err)
	}
	return next, lottery.Result{Index: reply.Index, Value: reply.Value, Angle: reply.Angle}, nil
}

func (r *RemoteRewards) ScanReceipt(ctx context.Context, u models.User, image []byte) (models.User, receipt.Scan, error) {
	if len(image) == 0 {
		return u, receipt.Scan{}, receipt.ErrEmptyImage
	}
	reply, err := r.api.ScanReceipt(ctx, image)
	if err != nil {
		return u, receipt.Scan{}, remoteError(err)
	}
	millimes, err := ledger.ParseMillimes(reply.Amount)
	if err != nil {
		return u, receipt.Scan{}, err
	}
	next, err := r.api.Me(ctx)
	if err != nil {
		return u, receipt.Scan{}, remoteError(err)
	}
	return next, receipt.Scan{Millimes: millimes, Amount: reply.Amount, PointsEarned: reply.PointsEarned}, nil
}

func (r *RemoteRewards) UpgradeTier(ctx context.Context, u models.User, tier models.Tier) (models.User, error) {
	next, err := r.api.UpgradeTier(ctx, tier)
	if err != nil {
		return u, remoteError(err)
	}
	return next, nil
}

func (r *RemoteRewards) Purchase(ctx context.Context, u models.User, amount int64, months int) (models.User, ledger.Installment, error) {
	next, inst, err := r.api.Purchase(ctx, amount, months)
	if err != nil {
		return u, ledger.Installment{}, remoteError(err)
	}
	return next, inst, nil
}

func (r *RemoteRewards) Redeem(ctx context.Context, u models.User, deal models.Deal) (models.User, error) {
	next, err := r.api.Redeem(ctx, deal.ID)
	if err != nil {
		return u, remoteError(err)
	}
	return next, nil
}

// domainErrors are the failures the API reports by message.
var domainErrors = []error{
	lottery.ErrAlreadyPlayed,
	ledger.ErrInvalidAmount,
	ledger.ErrInsufficientPoints,
	ledger.ErrInvalidTier,
	ledger.ErrNotUpgrade,
	ledger.ErrLimitExceeded,
	ledger.ErrInvalidReceipt,
	ledger.ErrInvalidSplit,
	receipt.ErrEmptyImage,
	catalog.ErrLocked,
	catalog.ErrNotFound,
}

// remoteError maps an API error back onto the sentinel the local path
// would have returned.
func remoteError(err error) error {
	var apiErr *authflow.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	for _, target := range domainErrors {
		if strings.Contains(apiErr.Message, target.Error()) {
			return fmt.Errorf("%w (status %d)", target, apiErr.Status)
		}
	}
	return err
}
