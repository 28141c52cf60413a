package capture

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/skypro1111/i2s-serial-bridge/internal/audio"
)

// BatchFunc receives one completed capture batch. rx is nil when the
// peripheral only requests transmit data; tx is nil for receive-only operation.
// Both slices are owned by the caller and valid only for the call.
type BatchFunc func(rx, tx []uint32)

// Recorder receives producer-side measurements. Implementations must not block.
type Recorder interface {
	RecordBatch(words, bytes int)
	RecordBatchDropped()
	RecordOverflow(droppedBytes int)
	RecordErrorLatched()
}

// EventKind identifies a producer-side event
type EventKind int

const (
	// EventLatched is published when the error flag becomes set
	EventLatched EventKind = iota
	// EventOverflow is published when an append overflows the ring
	EventOverflow
)

func (k EventKind) String() string {
	switch k {
	case EventLatched:
		return "latched"
	case EventOverflow:
		return "overflow"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is handed from the producer to a foreground watcher
type Event struct {
	Kind  EventKind
	Err   error
	Batch uint64
	At    time.Time
}

type latchedError struct {
	err error
	at  time.Time
}

// Handler is the capture frame handler. OnBatch runs in the producer context:
// it never blocks, never logs and does not allocate unless an error occurs.
type Handler struct {
	tc   *audio.Transcoder
	ring *audio.Ring
	rec  Recorder

	// LatchOnOverflow treats a rejected append like any other append failure
	LatchOnOverflow bool

	failed  atomic.Bool
	lastErr atomic.Pointer[latchedError]

	wake   chan struct{}
	events chan Event

	batches        atomic.Uint64
	words          atomic.Uint64
	droppedBatches atomic.Uint64
	overflows      atomic.Uint64
	latches        atomic.Uint64
	eventsDropped  atomic.Uint64
}

// HandlerStats is a snapshot of handler counters
type HandlerStats struct {
	Batches        uint64    `json:"batches"`
	Words          uint64    `json:"words"`
	DroppedBatches uint64    `json:"dropped_batches"`
	Overflows      uint64    `json:"overflows"`
	Latches        uint64    `json:"latches"`
	EventsDropped  uint64    `json:"events_dropped"`
	ErrorLatched   bool      `json:"error_latched"`
	LastError      string    `json:"last_error,omitempty"`
	LastErrorAt    time.Time `json:"last_error_at,omitempty"`
}

// NewHandler creates a handler that transcodes into ring. rec may be nil.
func NewHandler(tc *audio.Transcoder, ring *audio.Ring, rec Recorder, eventBuffer int) *Handler {
	if eventBuffer < 1 {
		eventBuffer = 1
	}
	return &Handler{
		tc:     tc,
		ring:   ring,
		rec:    rec,
		wake:   make(chan struct{}, 1),
		events: make(chan Event, eventBuffer),
	}
}

// OnBatch is the BatchFunc registered with the capture source
func (h *Handler) OnBatch(rx, tx []uint32) {
	if rx == nil {
		// transmit requests are ignored; receive-only
		return
	}

	seq := h.batches.Add(1)
	if h.failed.Load() {
		h.droppedBatches.Add(1)
		if h.rec != nil {
			h.rec.RecordBatchDropped()
		}
		return
	}

	if err := h.copySamples(rx, seq); err != nil {
		h.latch(err, seq)
		h.droppedBatches.Add(1)
		if h.rec != nil {
			h.rec.RecordBatchDropped()
		}
	}
}

func (h *Handler) copySamples(rx []uint32, seq uint64) error {
	out, err := h.tc.Transcode(rx)
	if err != nil {
		return fmt.Errorf("transcode batch %d: %w", seq, err)
	}

	if err := h.ring.Append(out); err != nil {
		written, err := h.appendFailed(err, seq)
		if err != nil || !written {
			return err
		}
	}

	h.words.Add(uint64(len(rx)))
	if h.rec != nil {
		h.rec.RecordBatch(len(rx), len(out))
	}

	select {
	case h.wake <- struct{}{}:
	default:
	}
	return nil
}

// appendFailed handles a failed append and reports whether the run still landed
func (h *Handler) appendFailed(err error, seq uint64) (bool, error) {
	var overflow *audio.OverflowError
	if !errors.As(err, &overflow) {
		return false, fmt.Errorf("append batch %d: %w", seq, err)
	}

	h.overflows.Add(1)
	if h.rec != nil {
		h.rec.RecordOverflow(overflow.Dropped)
	}
	h.publish(Event{Kind: EventOverflow, Err: err, Batch: seq, At: time.Now()})

	if overflow.Written {
		return true, nil
	}
	if h.LatchOnOverflow {
		return false, fmt.Errorf("append batch %d: %w", seq, err)
	}
	h.droppedBatches.Add(1)
	if h.rec != nil {
		h.rec.RecordBatchDropped()
	}
	return false, nil
}

func (h *Handler) latch(err error, seq uint64) {
	if !h.failed.CompareAndSwap(false, true) {
		return
	}
	now := time.Now()
	h.lastErr.Store(&latchedError{err: err, at: now})
	h.latches.Add(1)
	if h.rec != nil {
		h.rec.RecordErrorLatched()
	}
	h.publish(Event{Kind: EventLatched, Err: err, Batch: seq, At: now})
}

func (h *Handler) publish(ev Event) {
	select {
	case h.events <- ev:
	default:
		h.eventsDropped.Add(1)
	}
}

// Failed reports whether the error flag is set
func (h *Handler) Failed() bool {
	return h.failed.Load()
}

// LastError returns the error that most recently set the flag
func (h *Handler) LastError() error {
	if le := h.lastErr.Load(); le != nil {
		return le.err
	}
	return nil
}

// ClearError resets the error flag so that batches are forwarded again.
// It reports whether the flag was set.
func (h *Handler) ClearError() bool {
	return h.failed.CompareAndSwap(true, false)
}

// Wake is signalled after each batch lands in the ring
func (h *Handler) Wake() <-chan struct{} {
	return h.wake
}

// Events delivers latch and overflow events to a foreground watcher
func (h *Handler) Events() <-chan Event {
	return h.events
}

// Stats returns a snapshot of handler counters
func (h *Handler) Stats() HandlerStats {
	stats := HandlerStats{
		Batches:        h.batches.Load(),
		Words:          h.words.Load(),
		DroppedBatches: h.droppedBatches.Load(),
		Overflows:      h.overflows.Load(),
		Latches:        h.latches.Load(),
		EventsDropped:  h.eventsDropped.Load(),
		ErrorLatched:   h.failed.Load(),
	}
	if le := h.lastErr.Load(); le != nil {
		stats.LastError = le.err.Error()
		stats.LastErrorAt = le.at
	}
	return stats
}
