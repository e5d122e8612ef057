// Package receipt turns a receipt photo into a purchase amount.
package receipt

import (
	"context"
	"errors"
	mrand "math/rand"
	"sync"
	"time"

	"taoo-rewards/internal/ledger"
)

var ErrEmptyImage = errors.New("receipt image is empty")

type Scan struct {
	Millimes     int64  `json:"-"`
	Amount       string `json:"amount"`
	PointsEarned int64  `json:"pointsEarned"`
}

// Analyzer extracts the total paid, in millimes, from a receipt image.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte) (int64, error)
}

// SimulatedAnalyzer has no image understanding: after a fixed delay it
// reports a random total in [20, 200) dinars.
type SimulatedAnalyzer struct {
	delay time.Duration
	mu    sync.Mutex
	rng   *mrand.Rand
}

func NewSimulatedAnalyzer(delay time.Duration, src mrand.Source) *SimulatedAnalyzer {
	if src == nil {
		src = mrand.NewSource(time.Now().UnixNano())
	}
	return &SimulatedAnalyzer{delay: delay, rng: mrand.New(src)}
}

const (
	minMillimes = 20 * ledger.MillimesPerDinar
	maxMillimes = 200 * ledger.MillimesPerDinar
)

func (a *SimulatedAnalyzer) Analyze(ctx context.Context, image []byte) (int64, error) {
	if len(image) == 0 {
		return 0, ErrEmptyImage
	}
	if a.delay > 0 {
		timer := time.NewTimer(a.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return minMillimes + a.rng.Int63n(maxMillimes-minMillimes), nil
}

// Process analyzes image and computes the points it earns.
func Process(ctx context.Context, a Analyzer, image []byte) (Scan, error) {
	millimes, err := a.Analyze(ctx, image)
	if err != nil {
		return Scan{}, err
	}
	if millimes <= 0 {
		return Scan{}, ledger.ErrInvalidReceipt
	}
	return Scan{
		Millimes:     millimes,
		Amount:       ledger.FormatMillimes(millimes),
		PointsEarned: ledger.PointsForMillimes(millimes),
	}, nil
}
