package lottery

import (
	"errors"
	"time"

	"taoo-rewards/internal/clock"
	"taoo-rewards/internal/models"
)

// StreakDays is the length of the check-in cycle shown to the user.
const StreakDays = 7

var ErrAlreadyPlayed = errors.New("daily spin already used")

// Gate decides spin eligibility by calendar day in a fixed location.
type Gate struct {
	clock clock.Clock
	loc   *time.Location
}

func NewGate(clk clock.Clock, loc *time.Location) *Gate {
	if clk == nil {
		clk = clock.System{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Gate{clock: clk, loc: loc}
}

func (g *Gate) Now() time.Time {
	return g.clock.Now()
}

// Window returns the start of the calendar day containing t.
func (g *Gate) Window(t time.Time) time.Time {
	t = t.In(g.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, g.loc)
}

func (g *Gate) nextWindow(t time.Time) time.Time {
	w := g.Window(t)
	return time.Date(w.Year(), w.Month(), w.Day()+1, 0, 0, 0, 0, g.loc)
}

// daysBetween counts calendar days from a to b in the gate's location.
func (g *Gate) daysBetween(a, b time.Time) int {
	wa, wb := g.Window(a), g.Window(b)
	da := time.Date(wa.Year(), wa.Month(), wa.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(wb.Year(), wb.Month(), wb.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// State reports today's check-in position from the last spin time and the
// streak recorded with it. lastWon is echoed when today's spin is used.
func (g *Gate) State(lastSpin *time.Time, streak int, lastWon *int64) models.DailyCheckIn {
	now := g.clock.Now()
	state := models.DailyCheckIn{
		CurrentDay: 1,
		CanPlay:    true,
		NextWindow: g.nextWindow(now),
	}
	if lastSpin == nil {
		return state
	}
	switch gap := g.daysBetween(*lastSpin, now); {
	case gap <= 0:
		state.CanPlay = false
		state.CurrentDay = dayOf(streak)
		state.WonPoints = lastWon
	case gap == 1:
		state.CurrentDay = dayOf(streak + 1)
	}
	return state
}

// Check rejects a second spin in the same window and returns the streak
// the new spin will record.
func (g *Gate) Check(lastSpin *time.Time, streak int) (int, error) {
	state := g.State(lastSpin, streak, nil)
	if !state.CanPlay {
		return 0, ErrAlreadyPlayed
	}
	if lastSpin != nil && g.daysBetween(*lastSpin, g.clock.Now()) == 1 {
		return streak + 1, nil
	}
	return 1, nil
}

func dayOf(streak int) int {
	if streak <= 0 {
		return 1
	}
	return (streak-1)%StreakDays + 1
}
