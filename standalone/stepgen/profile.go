package stepgen

import "math"

// Step rates are fixed point fractions of a step per tick. RateOne is one
// step every tick, the fastest any axis can go.
const (
	RateShift        = 32
	RateOne   uint64 = 1 << RateShift
)

// Profile is the trapezoidal velocity profile of the dominant axis of a
// block, expressed in dominant steps and Q32 steps-per-tick rates. Every
// axis of a block shares it.
type Profile struct {
	TotalSteps      uint32 // Dominant axis step count
	AccelerateUntil uint32 // Dominant steps spent accelerating
	DecelerateAfter uint32 // Dominant step where deceleration begins
	InitialRate     uint64 // Rate at block entry
	NominalRate     uint64 // Cruise rate
	FinalRate       uint64 // Rate at block exit, also the deceleration floor
	Acceleration    uint64 // Rate change per tick
}

// ConstantProfile runs total steps at a fixed rate
func ConstantProfile(total uint32, rate uint64) Profile {
	if rate == 0 {
		rate = 1
	}
	if rate > RateOne {
		rate = RateOne
	}
	return Profile{
		TotalSteps:      total,
		AccelerateUntil: 0,
		DecelerateAfter: total,
		InitialRate:     rate,
		NominalRate:     rate,
		FinalRate:       rate,
	}
}

// NewProfile builds the trapezoid for a block of total dominant steps.
// Rates are in steps/s and accel in steps/s^2; tickHz converts them to the
// per-tick domain. Rates are floored at minRate so a block always finishes,
// and capped at one step per tick.
func NewProfile(total uint32, initial, nominal, final, accel float64, tickHz uint32, minRate float64) Profile {
	hz := float64(tickHz)
	if minRate < 1 {
		minRate = 1
	}
	nominal = clamp(nominal, minRate, hz)
	initial = clamp(initial, minRate, nominal)
	final = clamp(final, minRate, nominal)

	if accel <= 0 || total == 0 {
		return ConstantProfile(total, toRate(nominal, hz))
	}

	n := float64(total)
	accelSteps := math.Ceil((nominal*nominal - initial*initial) / (2 * accel))
	decelSteps := math.Floor((nominal*nominal - final*final) / (2 * accel))
	plateau := n - accelSteps - decelSteps

	if plateau < 0 {
		// Nominal speed is never reached: accelerate until the point where
		// the acceleration and deceleration curves cross.
		accelSteps = math.Ceil((2*accel*n + final*final - initial*initial) / (4 * accel))
		accelSteps = clamp(accelSteps, 0, n)
		plateau = 0
	}

	until := uint32(accelSteps)
	after := until + uint32(plateau)
	if after > total {
		after = total
	}

	rateAccel := uint64(accel / (hz * hz) * float64(RateOne))
	if rateAccel == 0 {
		rateAccel = 1
	}

	return Profile{
		TotalSteps:      total,
		AccelerateUntil: until,
		DecelerateAfter: after,
		InitialRate:     toRate(initial, hz),
		NominalRate:     toRate(nominal, hz),
		FinalRate:       toRate(final, hz),
		Acceleration:    rateAccel,
	}
}

// toRate converts steps/s to the Q32 per-tick rate
func toRate(stepsPerSec, hz float64) uint64 {
	r := uint64(stepsPerSec / hz * float64(RateOne))
	if r > RateOne {
		return RateOne
	}
	if r == 0 {
		return 1
	}
	return r
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
