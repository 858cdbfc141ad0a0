package robot

import (
	"context"
	"log/slog"
	"math"
	"sync"
)

// Limit is the allowed position range of one motor.
type Limit struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// DeadZone is the smallest position change worth sending. Targets closer
// than this to the last sent value are skipped to avoid flooding the bus.
const DeadZone = 0.5

// clamp restricts v to the range [min, max].
func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Guard wraps an Actuator with per-motor limits and dead-zone filtering.
// Motors without a limit pass through unclamped.
type Guard struct {
	next     Actuator
	limits   map[string]Limit
	deadZone float64
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]float64
	skipped  uint64
	errors   uint64
}

// NewGuard wraps next.
func NewGuard(next Actuator, limits map[string]Limit, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		next:     next,
		limits:   limits,
		deadZone: DeadZone,
		logger:   logger.With("component", "robot.guard"),
		lastSent: make(map[string]float64),
	}
}

// MoveJoint clamps position, skips it when within the dead zone of the
// previous target, and forwards it otherwise.
func (g *Guard) MoveJoint(ctx context.Context, motor string, position float64) error {
	if math.IsNaN(position) || math.IsInf(position, 0) {
		g.logger.Warn("dropping non-finite target", "motor", motor)
		return nil
	}
	if lim, ok := g.limits[motor]; ok {
		clamped := clamp(position, lim.Min, lim.Max)
		if clamped != position {
			g.logger.Debug("target clamped", "motor", motor, "requested", position, "sent", clamped)
		}
		position = clamped
	}

	g.mu.Lock()
	last, seen := g.lastSent[motor]
	if seen && math.Abs(position-last) < g.deadZone {
		g.skipped++
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	if err := g.next.MoveJoint(ctx, motor, position); err != nil {
		g.mu.Lock()
		g.errors++
		g.mu.Unlock()
		return err
	}

	g.mu.Lock()
	g.lastSent[motor] = position
	g.mu.Unlock()
	return nil
}

// Stats returns the number of skipped targets and failed sends.
func (g *Guard) Stats() (skipped, errors uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.skipped, g.errors
}
