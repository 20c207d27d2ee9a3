package serialmux

import (
	"context"
	"testing"
	"time"
)

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux()

	id, ch := d.Subscribe()
	d.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("unsubscribed channel should be closed")
	}

	_, ch = d.Subscribe()
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("Close should close subscriber channels")
	}

	// subscribing after close returns an already closed channel
	_, ch = d.Subscribe()
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after Close")
	}

	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if d.Stats().Frames != 0 {
		t.Error("disabled mux should report no frames")
	}
}

func TestDisabledSerialMux_MonitorWaitsForContext(t *testing.T) {
	d := NewDisabledSerialMux()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := d.Monitor(ctx); err != context.DeadlineExceeded {
		t.Errorf("Monitor() = %v, want DeadlineExceeded", err)
	}
}
