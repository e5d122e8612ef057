package lottery

import (
	mrand "math/rand"
	"sync"
	"time"

	"taoo-rewards/internal/models"
)

type Result struct {
	Index int   `json:"index"`
	Value int64 `json:"value"`
	// Angle is the fixed layout position of the winning segment.
	Angle float64 `json:"angle"`
}

type Engine struct {
	rng *mrand.Rand
	mu  sync.Mutex
}

func NewEngine() *Engine {
	return NewEngineWithSource(mrand.NewSource(time.Now().UnixNano()))
}

func NewEngineWithSource(src mrand.Source) *Engine {
	return &Engine{rng: mrand.New(src)}
}

// Draw selects a segment by weighted random draw. The table must be
// non-empty; callers validate it once when it is loaded.
func (e *Engine) Draw(segments []models.WheelSegment) Result {
	e.mu.Lock()
	r := e.rng.Float64()
	e.mu.Unlock()
	i := Pick(segments, r)
	return Result{
		Index: i,
		Value: segments[i].Value,
		Angle: segments[i].Angle,
	}
}
