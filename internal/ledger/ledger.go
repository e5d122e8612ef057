// Package ledger holds the point balance and tier mutations. Every
// operation returns a new User and leaves its argument untouched.
package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"taoo-rewards/internal/models"
)

var (
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrInvalidTier        = errors.New("invalid tier")
	ErrNotUpgrade         = errors.New("tier is not an upgrade")
	ErrLimitExceeded      = errors.New("monthly limit exceeded")
	ErrInvalidReceipt     = errors.New("invalid receipt amount")
	ErrInvalidSplit       = errors.New("split exceeds the tier's maximum months")
)

// MillimesPerDinar is the TND minor unit.
const MillimesPerDinar = 1000

var maxReceiptDinars = decimal.NewFromInt(1_000_000_000)

type Limits struct {
	MonthlyLimit   int64 `json:"monthlyLimit"`
	MaxSplitMonths int   `json:"maxSplitMonths"`
}

var tierLimits = map[models.Tier]Limits{
	models.TierBasic:  {MonthlyLimit: 0, MaxSplitMonths: 0},
	models.TierSilver: {MonthlyLimit: 7500, MaxSplitMonths: 6},
	models.TierGold:   {MonthlyLimit: 15000, MaxSplitMonths: 12},
}

func LimitsFor(tier models.Tier) Limits {
	return tierLimits[tier]
}

func CreditPoints(u models.User, amount int64) (models.User, error) {
	if amount <= 0 {
		return u, ErrInvalidAmount
	}
	out := u.Clone()
	out.Points += amount
	return out, nil
}

// DebitPoints spends points; the balance never goes below zero.
func DebitPoints(u models.User, amount int64) (models.User, error) {
	if amount <= 0 {
		return u, ErrInvalidAmount
	}
	if u.Points < amount {
		return u, ErrInsufficientPoints
	}
	out := u.Clone()
	out.Points -= amount
	return out, nil
}

// UpgradeTier moves u to a strictly higher paid tier and applies its limits.
func UpgradeTier(u models.User, tier models.Tier) (models.User, error) {
	if tier != models.TierSilver && tier != models.TierGold {
		return u, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	if tier.Rank() <= u.Level.Rank() {
		return u, fmt.Errorf("%w: %s -> %s", ErrNotUpgrade, u.Level, tier)
	}
	limits := LimitsFor(tier)
	out := u.Clone()
	out.Level = tier
	out.MonthlyLimit = limits.MonthlyLimit
	out.MaxSplitMonths = limits.MaxSplitMonths
	return out, nil
}

// IsLocked reports whether a deal is hidden behind a higher tier.
func IsLocked(tier models.Tier, premium, vip bool) bool {
	return (vip && tier != models.TierGold) || (premium && tier == models.TierBasic)
}

// RecordSpending charges amount against the monthly limit.
func RecordSpending(u models.User, amount int64) (models.User, error) {
	if amount <= 0 {
		return u, ErrInvalidAmount
	}
	if u.UsedThisMonth+amount > u.MonthlyLimit {
		return u, ErrLimitExceeded
	}
	out := u.Clone()
	out.UsedThisMonth += amount
	return out, nil
}

// Installment is one split purchase charged against the monthly limit.
// First equals Monthly plus the remainder of the division.
type Installment struct {
	Amount  int64 `json:"amount"`
	Months  int   `json:"months"`
	First   int64 `json:"first"`
	Monthly int64 `json:"monthly"`
}

// SplitPurchase charges the full amount against the monthly limit and
// spreads it over months; the first installment absorbs the remainder.
func SplitPurchase(u models.User, amount int64, months int) (models.User, Installment, error) {
	if months < 1 || months > u.MaxSplitMonths {
		return u, Installment{}, ErrInvalidSplit
	}
	out, err := RecordSpending(u, amount)
	if err != nil {
		return u, Installment{}, err
	}
	monthly := amount / int64(months)
	return out, Installment{
		Amount:  amount,
		Months:  months,
		First:   monthly + amount%int64(months),
		Monthly: monthly,
	}, nil
}

// ReceiptPoints awards ten points per dinar, rounded down.
func ReceiptPoints(amount string) (int64, error) {
	millimes, err := ParseMillimes(amount)
	if err != nil {
		return 0, err
	}
	return PointsForMillimes(millimes), nil
}

func PointsForMillimes(millimes int64) int64 {
	if millimes <= 0 {
		return 0
	}
	return millimes * 10 / MillimesPerDinar
}

// ParseMillimes reads a positive dinar amount with at most three decimals.
func ParseMillimes(amount string) (int64, error) {
	s := strings.TrimSpace(strings.Replace(amount, ",", ".", 1))
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidReceipt)
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 3 {
		return 0, fmt.Errorf("%w: %q has more than 3 decimals", ErrInvalidReceipt, amount)
	}
	if !allDigits(whole) || !allDigits(frac) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidReceipt, amount)
	}
	if frac != "" {
		whole += "." + frac
	}
	d, err := decimal.NewFromString(whole)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: %q is not positive", ErrInvalidReceipt, amount)
	}
	if d.GreaterThan(maxReceiptDinars) {
		return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidReceipt, amount)
	}
	return d.Shift(3).IntPart(), nil
}

// FormatMillimes renders millimes as a dinar amount with three decimals.
func FormatMillimes(millimes int64) string {
	return decimal.New(millimes, -3).StringFixed(3)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
