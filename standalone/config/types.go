package config

// AxisConfig represents configuration for a single axis
type AxisConfig struct {
	StepPin      string  `koanf:"step_pin" yaml:"step_pin"`           // GPIO pin for step pulses
	DirPin       string  `koanf:"dir_pin" yaml:"dir_pin"`             // GPIO pin for direction
	EnablePin    string  `koanf:"enable_pin" yaml:"enable_pin"`       // GPIO pin for enable (optional)
	StepsPerMM   float64 `koanf:"steps_per_mm" yaml:"steps_per_mm"`   // Steps per millimeter
	MaxVelocity  float64 `koanf:"max_velocity" yaml:"max_velocity"`   // Maximum velocity (mm/s)
	MaxAccel     float64 `koanf:"max_accel" yaml:"max_accel"`         // Maximum acceleration (mm/s^2)
	MinPosition  float64 `koanf:"min_position" yaml:"min_position"`   // Minimum position (mm)
	MaxPosition  float64 `koanf:"max_position" yaml:"max_position"`   // Maximum position (mm)
	InvertStep   bool    `koanf:"invert_step" yaml:"invert_step"`     // Invert step signal
	InvertDir    bool    `koanf:"invert_dir" yaml:"invert_dir"`       // Invert direction signal
	InvertEnable bool    `koanf:"invert_enable" yaml:"invert_enable"` // Invert enable signal
}

// MachineConfig represents the complete machine configuration
type MachineConfig struct {
	Name          string                `koanf:"name" yaml:"name"`
	Kinematics    string                `koanf:"kinematics" yaml:"kinematics"`         // only "cartesian"
	TickFrequency uint32                `koanf:"tick_frequency" yaml:"tick_frequency"` // Step tick rate (Hz)
	Axes          map[string]AxisConfig `koanf:"axes" yaml:"axes"`                     // "x", "y", "z", "e"

	// Global motion parameters
	DefaultVelocity   float64 `koanf:"default_velocity" yaml:"default_velocity"`     // Default feedrate (mm/s)
	SeekVelocity      float64 `koanf:"seek_velocity" yaml:"seek_velocity"`           // G0 feedrate (mm/s)
	DefaultAccel      float64 `koanf:"default_accel" yaml:"default_accel"`           // Default acceleration (mm/s^2)
	JunctionDeviation float64 `koanf:"junction_deviation" yaml:"junction_deviation"` // Junction deviation for cornering (mm)
	LookAhead         int     `koanf:"look_ahead" yaml:"look_ahead"`                 // Pending blocks before forcing one out
	MinStepRate       float64 `koanf:"min_step_rate" yaml:"min_step_rate"`           // Slowest dominant step rate (steps/s)
}

// AxisNames lists the configurable axes in machine order
var AxisNames = [...]string{"x", "y", "z", "e"}

// Axis returns the configuration of axis name and whether it exists
func (c *MachineConfig) Axis(name string) (AxisConfig, bool) {
	a, ok := c.Axes[name]
	return a, ok
}

// Clone returns a deep copy so runtime changes (M92, M203) do not leak into
// a stored configuration.
func (c *MachineConfig) Clone() *MachineConfig {
	out := *c
	out.Axes = make(map[string]AxisConfig, len(c.Axes))
	for k, v := range c.Axes {
		out.Axes[k] = v
	}
	return &out
}
