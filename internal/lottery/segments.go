package lottery

import (
	"errors"
	"fmt"
	"math"

	"taoo-rewards/internal/models"
)

// sumTolerance absorbs float error in configured tables; anything further
// from 1.0 is a configuration error.
const sumTolerance = 1e-9

var ErrInvalidTable = errors.New("invalid wheel table")

// DefaultSegments is the eight-slot wheel, in layout order.
var DefaultSegments = []models.WheelSegment{
	{Value: 100, Probability: 0.10, Angle: 0},
	{Value: 20, Probability: 0.30, Angle: 45},
	{Value: 200, Probability: 0.10, Angle: 90},
	{Value: 2000, Probability: 0.01, Angle: 135},
	{Value: 50, Probability: 0.40, Angle: 180},
	{Value: 1000, Probability: 0.02, Angle: 225},
	{Value: 500, Probability: 0.04, Angle: 270},
	{Value: 700, Probability: 0.03, Angle: 315},
}

func Validate(segments []models.WheelSegment) error {
	if len(segments) == 0 {
		return fmt.Errorf("%w: no segments", ErrInvalidTable)
	}
	var total float64
	for i, s := range segments {
		if s.Value <= 0 {
			return fmt.Errorf("%w: segment %d has non-positive value %d", ErrInvalidTable, i, s.Value)
		}
		if s.Probability < 0 || s.Probability > 1 || math.IsNaN(s.Probability) {
			return fmt.Errorf("%w: segment %d probability %v outside [0,1]", ErrInvalidTable, i, s.Probability)
		}
		if s.Angle < 0 || s.Angle >= 360 {
			return fmt.Errorf("%w: segment %d angle %v outside [0,360)", ErrInvalidTable, i, s.Angle)
		}
		total += s.Probability
	}
	if math.Abs(total-1) > sumTolerance {
		return fmt.Errorf("%w: probabilities sum to %.6f", ErrInvalidTable, total)
	}
	return nil
}

// Pick returns the first index whose cumulative probability exceeds r.
// When rounding leaves r at or above the final cumulative sum, the last
// segment wins so a spin always produces a result.
func Pick(segments []models.WheelSegment, r float64) int {
	var cumulative float64
	for i, s := range segments {
		cumulative += s.Probability
		if r < cumulative {
			return i
		}
	}
	return len(segments) - 1
}

// StopRotation is the clockwise rotation, in degrees, that lands the
// pointer on a segment at angle after the given number of full turns.
func StopRotation(angle float64, turns int) float64 {
	offset := math.Mod(360-math.Mod(angle, 360), 360)
	return float64(turns)*360 + offset
}
