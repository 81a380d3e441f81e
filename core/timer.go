package core

import (
	"errors"
	"sync"
	"time"
)

// Tick rates for common setups
const (
	DefaultTickFrequency = 100000 // 100kHz step tick
	MaxTickFrequency     = 1000000
)

// TickHandler is called once per tick period from the tick context.
// The return value is false when the caller should yield to the
// completion task (the current block finished).
type TickHandler func() bool

// TickSource is a fixed-frequency timer that drives a TickHandler
type TickSource interface {
	// Start begins calling handler every tick period
	Start(handler TickHandler) error

	// Stop halts the tick source and waits for the tick goroutine to exit
	Stop()

	// Frequency returns the tick frequency in Hz
	Frequency() uint32
}

// TickerSource is a TickSource for hosts. It runs the handler on its own
// goroutine. A time.Ticker cannot keep up with step-rate frequencies, so
// each wake-up catches up on every tick period that elapsed since the
// previous one.
type TickerSource struct {
	freq uint32
	wake time.Duration
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewTickerSource creates a host tick source. wake is how often the
// goroutine wakes up to run the elapsed ticks (1ms if zero).
func NewTickerSource(freq uint32, wake time.Duration) *TickerSource {
	if wake <= 0 {
		wake = time.Millisecond
	}
	return &TickerSource{freq: freq, wake: wake}
}

// Frequency returns the tick frequency in Hz
func (t *TickerSource) Frequency() uint32 {
	return t.freq
}

// Start begins ticking
func (t *TickerSource) Start(handler TickHandler) error {
	if t.freq == 0 || t.freq > MaxTickFrequency {
		return errors.New("tick frequency out of range")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return errors.New("tick source already started")
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(handler, t.stop, t.done)
	return nil
}

func (t *TickerSource) run(handler TickHandler, stop, done chan struct{}) {
	defer close(done)

	period := time.Second / time.Duration(t.freq)
	ticker := time.NewTicker(t.wake)
	defer ticker.Stop()

	last := time.Now()
	var owed time.Duration
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			owed += now.Sub(last)
			last = now
			for owed >= period {
				owed -= period
				handler()
			}
		}
	}
}

// Stop halts the tick goroutine
func (t *TickerSource) Stop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}
