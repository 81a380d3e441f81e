// Package kinematics maps machine coordinates to per-axis positions.
package kinematics

// Axis indices in machine order
const (
	AxisX = iota
	AxisY
	AxisZ
	AxisE
	NumAxes
)

// AxisNames are the gcode letters of each axis, indexed by axis
var AxisNames = [NumAxes]byte{'X', 'Y', 'Z', 'E'}

// Position represents a position in machine coordinates (mm)
type Position [NumAxes]float64

// AxisIndex returns the index of axis letter (either case) or -1
func AxisIndex(letter byte) int {
	if letter >= 'a' && letter <= 'z' {
		letter -= 'a' - 'A'
	}
	for i, n := range AxisNames {
		if n == letter {
			return i
		}
	}
	return -1
}

// Kinematics defines the interface for coordinate transformations
type Kinematics interface {
	// CalcPosition converts machine coordinates to actuator positions (mm)
	CalcPosition(pos Position) Position

	// CheckLimits validates that a position is within configured limits
	CheckLimits(pos Position) error
}

// AxisLimits represents position limits for an axis
type AxisLimits struct {
	Min float64
	Max float64
}
