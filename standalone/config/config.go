package config

import (
	"errors"
	"fmt"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/providers/structs"
	"go.uber.org/multierr"
)

// LoadConfig parses a YAML configuration on top of the default Cartesian
// configuration and returns the validated result.
func LoadConfig(yamlData []byte) (*MachineConfig, error) {
	k, err := defaults()
	if err != nil {
		return nil, err
	}
	if len(yamlData) > 0 {
		if err := k.Load(rawbytes.Provider(yamlData), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	return unmarshal(k)
}

// LoadFile is LoadConfig reading from path
func LoadFile(path string) (*MachineConfig, error) {
	k, err := defaults()
	if err != nil {
		return nil, err
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return unmarshal(k)
}

func defaults() (*koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultCartesianConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	return k, nil
}

func unmarshal(k *koanf.Koanf) (*MachineConfig, error) {
	var config MachineConfig
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyDefaults fills in values that must not be zero. Settings where zero
// is valid, such as junction_deviation, keep what the file says; the struct
// defaults already cover a missing key.
func applyDefaults(config *MachineConfig) {
	// Default kinematics
	if config.Kinematics == "" {
		config.Kinematics = "cartesian"
	}
	if config.TickFrequency == 0 {
		config.TickFrequency = 100000
	}

	// Default motion parameters
	if config.DefaultVelocity == 0 {
		config.DefaultVelocity = 50.0 // 50 mm/s
	}
	if config.SeekVelocity == 0 {
		config.SeekVelocity = config.DefaultVelocity * 2
	}
	if config.DefaultAccel == 0 {
		config.DefaultAccel = 500.0 // 500 mm/s^2
	}
	if config.LookAhead == 0 {
		config.LookAhead = 16
	}
	if config.MinStepRate == 0 {
		config.MinStepRate = 100 // steps/s
	}

	// Apply defaults to each axis
	for name, axis := range config.Axes {
		if axis.MaxVelocity == 0 {
			axis.MaxVelocity = 300.0
		}
		if axis.MaxAccel == 0 {
			axis.MaxAccel = 1000.0
		}
		if axis.StepsPerMM == 0 {
			axis.StepsPerMM = 80.0 // Common value
		}
		config.Axes[name] = axis
	}
}

// Validate reports every problem in the configuration at once
func (c *MachineConfig) Validate() error {
	var err error

	if c.Kinematics != "cartesian" {
		err = multierr.Append(err, fmt.Errorf("unsupported kinematics %q", c.Kinematics))
	}
	if c.TickFrequency > 1000000 {
		err = multierr.Append(err, fmt.Errorf("tick_frequency %d above 1MHz", c.TickFrequency))
	}
	if c.LookAhead < 1 {
		err = multierr.Append(err, errors.New("look_ahead must be at least 1"))
	}
	if c.JunctionDeviation < 0 {
		err = multierr.Append(err, errors.New("junction_deviation must not be negative"))
	}
	if len(c.Axes) == 0 {
		err = multierr.Append(err, errors.New("no axes configured"))
	}

	for name, a := range c.Axes {
		if !knownAxis(name) {
			err = multierr.Append(err, fmt.Errorf("unknown axis %q", name))
			continue
		}
		if a.StepPin == "" || a.DirPin == "" {
			err = multierr.Append(err, fmt.Errorf("axis %s: step_pin and dir_pin are required", name))
		}
		if a.StepsPerMM <= 0 {
			err = multierr.Append(err, fmt.Errorf("axis %s: steps_per_mm must be positive", name))
		}
		if a.MaxVelocity <= 0 || a.MaxAccel <= 0 {
			err = multierr.Append(err, fmt.Errorf("axis %s: max_velocity and max_accel must be positive", name))
		}
		if a.MinPosition > a.MaxPosition {
			err = multierr.Append(err, fmt.Errorf("axis %s: min_position above max_position", name))
		}
	}
	return err
}

func knownAxis(name string) bool {
	for _, n := range AxisNames {
		if n == name {
			return true
		}
	}
	return false
}

// DefaultCartesianConfig returns a default configuration for a Cartesian printer
func DefaultCartesianConfig() *MachineConfig {
	return &MachineConfig{
		Name:          "stepcore",
		Kinematics:    "cartesian",
		TickFrequency: 100000,
		Axes: map[string]AxisConfig{
			"x": {
				StepPin:     "gpio0",
				DirPin:      "gpio1",
				EnablePin:   "gpio8",
				StepsPerMM:  80.0,
				MaxVelocity: 300.0,
				MaxAccel:    3000.0,
				MinPosition: 0.0,
				MaxPosition: 220.0,
			},
			"y": {
				StepPin:     "gpio2",
				DirPin:      "gpio3",
				EnablePin:   "gpio8",
				StepsPerMM:  80.0,
				MaxVelocity: 300.0,
				MaxAccel:    3000.0,
				MinPosition: 0.0,
				MaxPosition: 220.0,
			},
			"z": {
				StepPin:     "gpio4",
				DirPin:      "gpio5",
				EnablePin:   "gpio8",
				StepsPerMM:  400.0,
				MaxVelocity: 10.0,
				MaxAccel:    100.0,
				MinPosition: 0.0,
				MaxPosition: 250.0,
			},
			"e": {
				StepPin:     "gpio6",
				DirPin:      "gpio7",
				EnablePin:   "gpio8",
				StepsPerMM:  96.0,
				MaxVelocity: 50.0,
				MaxAccel:    5000.0,
				MinPosition: -10000.0,
				MaxPosition: 10000.0,
			},
		},
		DefaultVelocity:   50.0,
		SeekVelocity:      150.0,
		DefaultAccel:      500.0,
		JunctionDeviation: 0.05,
		LookAhead:         16,
		MinStepRate:       100,
	}
}
