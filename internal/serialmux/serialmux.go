// Serialmux provides an abstraction over the UWB serial port with the
// ability for multiple clients to subscribe to the frames recovered from it.
package serialmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/uwb.follow/internal/httputil"
	"github.com/banshee-data/uwb.follow/internal/monitoring"
	"github.com/banshee-data/uwb.follow/internal/uwb"
)

// ErrClosed is returned by Monitor when the mux has been closed.
var ErrClosed = errors.New("serialmux: closed")

// SerialMux is a generic serial port multiplexer that frames the UWB byte
// stream and fans the frames out to every subscriber.
//
// Each subscriber channel holds at most one frame. When a subscriber is busy
// (the tracker blocks while the servo settles) the pending frame is replaced
// by the newest one, so a slow consumer always resumes on fresh data rather
// than working through a backlog.
type SerialMux[T SerialPorter] struct {
	port   T
	reader *uwb.FrameReader

	subscribers  map[string]chan uwb.RawFrame
	subscriberMu sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	// errorPause is how long Monitor waits after a failed read before
	// reading again.
	errorPause time.Duration
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving frames from the serial
	// port. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, <-chan uwb.RawFrame)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// Monitor reads frames from the serial port and sends them to the
	// subscribed channels.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error
	// Initialize discards anything the device sent before we were ready.
	Initialize() error
	// Stats reports the framing counters.
	Stats() uwb.ReaderStats

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux instance reading from port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		reader:      uwb.NewFrameReader(port),
		subscribers: make(map[string]chan uwb.RawFrame),
		errorPause:  DefaultReadTimeout,
	}
}

func (s *SerialMux[T]) Subscribe() (string, <-chan uwb.RawFrame) {
	id := uuid.NewString()
	ch := make(chan uwb.RawFrame, 1)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Initialize flushes the port's input and output buffers so framing starts
// on bytes sent after we opened the device.
func (s *SerialMux[T]) Initialize() error {
	br, ok := any(s.port).(BufferResetter)
	if !ok {
		return nil
	}
	if err := br.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to reset input buffer: %w", err)
	}
	if err := br.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("failed to reset output buffer: %w", err)
	}
	monitoring.Logf("serial port buffers reset")
	return nil
}

// Stats reports the framing counters.
func (s *SerialMux[T]) Stats() uwb.ReaderStats {
	return s.reader.Stats()
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// Monitor reads frames from the serial port and publishes them to
// subscribers until ctx is done, the port reaches EOF, or the mux is closed.
// Other read errors are logged and reading continues.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	type result struct {
		frame uwb.RawFrame
		err   error
	}
	results := make(chan result)
	done := make(chan struct{})
	defer close(done)

	// the blocking read runs in its own goroutine so the outer loop can
	// await frames and context cancellation together.
	go func() {
		defer close(results)
		for {
			f, err := s.reader.Next(ctx)
			select {
			case results <- result{f, err}:
			case <-ctx.Done():
				return
			case <-done:
				return
			}
			if err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil || s.isClosing() {
					return
				}
				time.Sleep(s.errorPause)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r, ok := <-results:
			if !ok {
				return ctx.Err()
			}
			if s.isClosing() {
				return ErrClosed
			}
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					return nil
				}
				if errors.Is(r.err, context.Canceled) || errors.Is(r.err, context.DeadlineExceeded) {
					return r.err
				}
				monitoring.Logf("serial read failed: %v", r.err)
				continue
			}
			s.publish(r.frame)
		}
	}
}

// publish delivers f to every subscriber, replacing any frame a subscriber
// has not collected yet.
func (s *SerialMux[T]) publish(f uwb.RawFrame) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- f:
			continue
		default:
		}
		// drop the stale pending frame, then retry once
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- f:
		default:
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}

// attachAdminRoutes mounts the frame tail and framing stats pages. Shared by
// every SerialMuxInterface implementation.
func attachAdminRoutes(mux *http.ServeMux, s SerialMuxInterface) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("uwb-stats", "UWB framing counters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Stats())
	})

	// Server-Sent Events stream of raw frames as hex.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case f, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", f); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
