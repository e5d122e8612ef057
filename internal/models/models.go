package models

import (
	"time"
)

type Tier string

const (
	TierBasic  Tier = "basic"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

// Rank orders tiers so upgrades can be compared; unknown tiers rank below basic.
func (t Tier) Rank() int {
	switch t {
	case TierBasic:
		return 0
	case TierSilver:
		return 1
	case TierGold:
		return 2
	default:
		return -1
	}
}

func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

type User struct {
	ID             string     `json:"id"`
	Phone          string     `json:"phone"`
	Email          *string    `json:"email,omitempty"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName"`
	Level          Tier       `json:"level"`
	Points         int64      `json:"points"`
	Completion     int        `json:"accountCompletion"`
	MonthlyLimit   int64      `json:"monthlyLimit"`
	UsedThisMonth  int64      `json:"usedThisMonth"`
	MaxSplitMonths int        `json:"maxSplitMonths"`
	AccountAgeDays int        `json:"accountAgeDays"`
	Interests      []string   `json:"interests"`
	ReferralCode   string     `json:"referralCode"`
	IsNewUser      bool       `json:"isNewUser"`
	SpinStreak     int        `json:"spinStreak"`
	LastSpinAt     *time.Time `json:"lastSpinAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func (u User) AvailableLimit() int64 {
	return u.MonthlyLimit - u.UsedThisMonth
}

// Clone returns a copy that shares no slices or pointers with u.
func (u User) Clone() User {
	out := u
	if u.Email != nil {
		email := *u.Email
		out.Email = &email
	}
	if u.LastSpinAt != nil {
		at := *u.LastSpinAt
		out.LastSpinAt = &at
	}
	if u.Interests != nil {
		out.Interests = append([]string(nil), u.Interests...)
	}
	return out
}

type WheelSegment struct {
	Value       int64   `json:"value" yaml:"value"`
	Probability float64 `json:"probability" yaml:"probability"`
	Angle       float64 `json:"angle" yaml:"angle"`
}

type DailyCheckIn struct {
	CurrentDay int       `json:"currentDay"`
	CanPlay    bool      `json:"canPlay"`
	WonPoints  *int64    `json:"wonPoints"`
	NextWindow time.Time `json:"nextWindow"`
}

type SpinRecord struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	SpinID    string    `json:"spinId"`
	Value     int64     `json:"value"`
	Angle     float64   `json:"angle"`
	Streak    int       `json:"streak"`
	CreatedAt time.Time `json:"createdAt"`
}

type TransactionKind string

const (
	TransactionSpin    TransactionKind = "spin"
	TransactionReceipt TransactionKind = "receipt"
	TransactionRedeem  TransactionKind = "redeem"
)

type PointsTransaction struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Kind      TransactionKind `json:"kind"`
	Amount    int64           `json:"amount"`
	Balance   int64           `json:"balance"`
	Reference string          `json:"reference"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Deal struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	StoreID    string `json:"storeId"`
	PointsCost int64  `json:"pointsCost"`
	Discount   int    `json:"discount"`
	Premium    bool   `json:"premium"`
	VIP        bool   `json:"vip"`
}

type Store struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Address  string `json:"address"`
}
