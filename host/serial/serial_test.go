package serial

import (
	"errors"
	"testing"
	"time"

	"github.com/tarm/serial"
)

type nopPort struct{}

func (nopPort) Read(b []byte) (int, error)  { return 0, nil }
func (nopPort) Write(b []byte) (int, error) { return len(b), nil }
func (nopPort) Close() error                { return nil }
func (nopPort) Flush() error                { return nil }

func stubOpen(t *testing.T, fn func(c *serial.Config) (Port, error)) {
	t.Helper()
	old := openPort
	openPort = fn
	t.Cleanup(func() { openPort = old })
}

func TestOpenPassesConfig(t *testing.T) {
	var got *serial.Config
	stubOpen(t, func(c *serial.Config) (Port, error) {
		got = c
		return nopPort{}, nil
	})
	if _, err := Open(DefaultConfig("/dev/ttyACM7")); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.Name != "/dev/ttyACM7" || got.Baud != 115200 || got.ReadTimeout != 100*time.Millisecond {
		t.Errorf("serial config = %+v", got)
	}
	if _, err := Open(nil); err == nil {
		t.Error("Open(nil) succeeded")
	}
}

func TestOpenWithRetry(t *testing.T) {
	attempts := 0
	stubOpen(t, func(c *serial.Config) (Port, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("no such device")
		}
		return nopPort{}, nil
	})
	if _, err := OpenWithRetry(DefaultConfig("x"), time.Second); err != nil {
		t.Fatalf("OpenWithRetry: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestOpenWithRetryGivesUp(t *testing.T) {
	stubOpen(t, func(c *serial.Config) (Port, error) {
		return nil, errors.New("no such device")
	})
	start := time.Now()
	if _, err := OpenWithRetry(DefaultConfig("x"), 100*time.Millisecond); err == nil {
		t.Fatal("OpenWithRetry succeeded without a device")
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("gave up after %v", d)
	}
}
