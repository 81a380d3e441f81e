package core

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTickerSourceRunsHandler(t *testing.T) {
	src := NewTickerSource(10000, time.Millisecond)
	var ticks atomic.Uint64

	if err := src.Start(func() bool {
		ticks.Add(1)
		return true
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := src.Start(func() bool { return true }); err == nil {
		t.Error("Expected error starting twice")
	}

	time.Sleep(50 * time.Millisecond)
	src.Stop()
	src.Stop() // second stop is a no-op

	// 50ms at 10kHz is 500 ticks; allow generous scheduling slack
	if got := ticks.Load(); got < 100 {
		t.Errorf("Expected at least 100 ticks, got %d", got)
	}
}

func TestTickerSourceRejectsBadFrequency(t *testing.T) {
	if err := NewTickerSource(0, 0).Start(func() bool { return true }); err == nil {
		t.Error("Expected error for zero frequency")
	}
}
