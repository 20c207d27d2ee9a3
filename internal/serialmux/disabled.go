package serialmux

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/uwb.follow/internal/uwb"
)

// DisabledSerialMux is a no-op SerialMux implementation used when the UWB
// module is absent (for --disable-uwb). It lets the control surface and the
// actuators run without a tag. Subscribers are tracked so their channels can
// be deterministically closed on Unsubscribe() or Close(), allowing readers
// to unblock predictably during shutdown.
type DisabledSerialMux struct {
	mu          sync.Mutex
	subscribers map[string]chan uwb.RawFrame
	closing     bool
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{
		subscribers: make(map[string]chan uwb.RawFrame),
	}
}

func (d *DisabledSerialMux) Subscribe() (string, <-chan uwb.RawFrame) {
	id := uuid.NewString()
	ch := make(chan uwb.RawFrame)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		// If already closing, return a closed channel so callers don't block.
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

func (d *DisabledSerialMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *DisabledSerialMux) Initialize() error { return nil }

func (d *DisabledSerialMux) Stats() uwb.ReaderStats { return uwb.ReaderStats{} }

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, d)
}
