// Package cycle defines the integer cycle type used to tag every action and log entry.
package cycle

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	// ErrNonIntegerCycle is returned when a cycle value is not a whole, non-negative number.
	ErrNonIntegerCycle = errors.New("cycle must be a non-negative integer")
	// ErrNonMonotonicCycle is returned when a counter is asked to move backwards or stand still.
	ErrNonMonotonicCycle = errors.New("cycle must strictly increase")
)

// #region cycle
// Cycle is one atomic unit of action in a campaign.
type Cycle int

// Calibration is the only cycle during which calibration provenance may be earned.
const Calibration Cycle = 0

// FromFloat converts a float cycle value, failing on anything that is not a whole number.
func FromFloat(f float64) (Cycle, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: got %v", ErrNonIntegerCycle, f)
	}
	return Cycle(int(f)), nil
}

// Parse converts a decimal string cycle value.
func Parse(s string) (Cycle, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: got %q", ErrNonIntegerCycle, s)
	}
	return Cycle(n), nil
}

// #endregion cycle

// #region counter
// Counter tracks the current cycle and only moves forward.
type Counter struct {
	current Cycle
	started bool
}

// Current returns the current cycle. Before the first Advance it is Calibration.
func (c *Counter) Current() Cycle {
	return c.current
}

// Started reports whether Advance has been called at least once.
func (c *Counter) Started() bool {
	return c.started
}

// Advance moves the counter to next. The first call may set any cycle >= 0;
// later calls require next > current.
func (c *Counter) Advance(next Cycle) error {
	if next < 0 {
		return fmt.Errorf("%w: got %d", ErrNonIntegerCycle, next)
	}
	if c.started && next <= c.current {
		return fmt.Errorf("%w: %d -> %d", ErrNonMonotonicCycle, c.current, next)
	}
	c.current = next
	c.started = true
	return nil
}

// Next advances by exactly one cycle (or starts at Calibration) and returns the new value.
func (c *Counter) Next() Cycle {
	if !c.started {
		c.started = true
		c.current = Calibration
		return c.current
	}
	c.current++
	return c.current
}

// #endregion counter
