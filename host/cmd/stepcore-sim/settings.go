package main

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// settings configure the simulator. Environment variables provide the
// defaults and flags override them.
type settings struct {
	ConfigPath string        `env:"STEPCORE_CONFIG"`
	StorePath  string        `env:"STEPCORE_STORE"`
	Device     string        `env:"STEPCORE_DEVICE"`
	Baud       int           `env:"STEPCORE_BAUD" envDefault:"115200"`
	Wake       time.Duration `env:"STEPCORE_WAKE" envDefault:"1ms"`
	Debug      bool          `env:"STEPCORE_DEBUG"`
}

func parseSettings(fs *flag.FlagSet, args []string) (settings, error) {
	var s settings
	if err := env.Parse(&s); err != nil {
		return s, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&s.ConfigPath, "config", s.ConfigPath, "Machine configuration YAML (built-in cartesian if empty)")
	fs.StringVar(&s.StorePath, "store", s.StorePath, "File used by M500/M501 (none if empty)")
	fs.StringVar(&s.Device, "device", s.Device, "Serial device to serve (stdin/stdout if empty)")
	fs.IntVar(&s.Baud, "baud", s.Baud, "Baud rate for -device")
	fs.DurationVar(&s.Wake, "wake", s.Wake, "Tick goroutine wake-up interval")
	fs.BoolVar(&s.Debug, "debug", s.Debug, "Log debug output")
	if err := fs.Parse(args); err != nil {
		return s, err
	}

	if s.Wake <= 0 {
		return s, errors.New("wake interval must be positive")
	}
	return s, nil
}
