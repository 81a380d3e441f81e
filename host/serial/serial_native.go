package serial

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// NativePort wraps the tarm/serial implementation
type NativePort struct {
	port *serial.Port
	cfg  *Config
}

// openPort is replaced in tests
var openPort = func(c *serial.Config) (Port, error) {
	p, err := serial.OpenPort(c)
	if err != nil {
		return nil, err
	}
	return &NativePort{port: p}, nil
}

// Open opens a native serial port
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	serialConfig := &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	}

	port, err := openPort(serialConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	if np, ok := port.(*NativePort); ok {
		np.cfg = cfg
	}
	return port, nil
}

// OpenWithRetry opens the port, retrying with exponential backoff for up to
// maxElapsed (3s if zero). A controller that just reset takes a moment to
// enumerate its USB serial device again.
func OpenWithRetry(cfg *Config, maxElapsed time.Duration) (Port, error) {
	if maxElapsed <= 0 {
		maxElapsed = 3 * time.Second
	}
	var port Port
	op := func() error {
		var err error
		port, err = Open(cfg)
		return err
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      maxElapsed,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, err
	}
	return port, nil
}

// Read reads data from the serial port
func (p *NativePort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

// Write writes data to the serial port
func (p *NativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// Close closes the serial port
func (p *NativePort) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Flush discards buffered data
func (p *NativePort) Flush() error {
	return p.port.Flush()
}
