package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNotifierCountsOverruns(t *testing.T) {
	n := NewNotifier()
	n.Notify()
	n.Notify()
	n.Notify()

	count, err := n.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 folded notifications, got %d", count)
	}
	if n.Pending() != 0 {
		t.Errorf("Expected nothing pending, got %d", n.Pending())
	}
}

func TestNotifierWaitCancelled(t *testing.T) {
	n := NewNotifier()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := n.Wait(ctx); err == nil {
		t.Error("Expected context error")
	}
}

func TestNotifierNeverLosesSignal(t *testing.T) {
	n := NewNotifier()
	const total = 10000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			n.Notify()
		}
	}()

	received := uint32(0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for received < total {
		c, err := n.Wait(ctx)
		if err != nil {
			t.Fatalf("Wait failed after %d notifications: %v", received, err)
		}
		received += c
	}
	wg.Wait()

	if received != total {
		t.Errorf("Expected %d notifications, got %d", total, received)
	}
}
