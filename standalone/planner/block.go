package planner

import (
	"strconv"
	"strings"

	"stepcore/standalone/kinematics"
	"stepcore/standalone/stepgen"
)

// Block is one planned motion segment between two targets. Speeds are in
// mm/s along the path and Acceleration in mm/s^2. The look-ahead pass may
// revise EntrySpeed and ExitSpeed while the block is pending; once Ready is
// set the block is immutable.
type Block struct {
	ID           uint32
	Steps        [kinematics.NumAxes]int32 // Signed step delta per axis
	Delta        kinematics.Position       // Signed mm delta per axis
	Millimeters  float64                   // Path length
	Unit         kinematics.Position       // Unit direction vector
	DominantAxis int                       // Axis with the most steps
	TotalSteps   uint32                    // Step count of the dominant axis

	NominalSpeed  float64 // Requested feed after axis limits
	MaxEntrySpeed float64 // Junction limit with the previous block
	EntrySpeed    float64
	CruiseSpeed   float64
	ExitSpeed     float64
	Acceleration  float64

	Ready   bool
	Profile stepgen.Profile // Valid once Ready
}

// maxReachable returns the speed reachable from v over the block length
func (b *Block) maxReachable(v float64) float64 {
	return sqrt(v*v + 2*b.Acceleration*b.Millimeters)
}

// String renders the block for the dump control command
func (b *Block) String() string {
	var s strings.Builder
	s.WriteString("B")
	s.WriteString(strconv.FormatUint(uint64(b.ID), 10))
	if b.Ready {
		s.WriteString(" ready")
	} else {
		s.WriteString(" pending")
	}
	for i, n := range b.Steps {
		if n == 0 {
			continue
		}
		s.WriteByte(' ')
		s.WriteByte(kinematics.AxisNames[i])
		s.WriteString(strconv.FormatInt(int64(n), 10))
	}
	s.WriteString(" mm=")
	s.WriteString(ftoa(b.Millimeters))
	s.WriteString(" v=")
	s.WriteString(ftoa(b.EntrySpeed))
	s.WriteByte('/')
	s.WriteString(ftoa(b.CruiseSpeed))
	s.WriteByte('/')
	s.WriteString(ftoa(b.ExitSpeed))
	s.WriteString(" max=")
	s.WriteString(ftoa(b.NominalSpeed))
	s.WriteString(" a=")
	s.WriteString(ftoa(b.Acceleration))
	return s.String()
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}
