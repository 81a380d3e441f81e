package kinematics

import (
	"errors"
	"fmt"

	"stepcore/standalone/config"
)

// ErrOutOfLimits is returned for a target outside the soft limits
var ErrOutOfLimits = errors.New("position out of limits")

// Cartesian implements basic Cartesian kinematics (XYZ 1:1 mapping)
type Cartesian struct {
	limits  [NumAxes]AxisLimits
	checked [NumAxes]bool
}

// NewCartesian creates a new Cartesian kinematics instance
func NewCartesian(cfg *config.MachineConfig) (*Cartesian, error) {
	k := &Cartesian{}
	// Validate required axes
	for i := AxisX; i <= AxisZ; i++ {
		name := config.AxisNames[i]
		a, ok := cfg.Axes[name]
		if !ok {
			return nil, fmt.Errorf("%s axis not configured", string(AxisNames[i]))
		}
		k.limits[i] = AxisLimits{Min: a.MinPosition, Max: a.MaxPosition}
		k.checked[i] = true
	}
	// Extruder is unbounded
	return k, nil
}

// CalcPosition converts XYZ coordinates to stepper positions
// For Cartesian, this is a 1:1 mapping
func (k *Cartesian) CalcPosition(pos Position) Position {
	return pos
}

// CheckLimits validates that a position is within configured limits
func (k *Cartesian) CheckLimits(pos Position) error {
	for i := range pos {
		if !k.checked[i] {
			continue
		}
		if pos[i] < k.limits[i].Min || pos[i] > k.limits[i].Max {
			return fmt.Errorf("%c=%.3f: %w", AxisNames[i], pos[i], ErrOutOfLimits)
		}
	}
	return nil
}

// Limits returns the soft limits of axis i
func (k *Cartesian) Limits(i int) AxisLimits {
	return k.limits[i]
}
