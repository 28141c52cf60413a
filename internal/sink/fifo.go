package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// FIFOConfig configures the transmit FIFO
type FIFOConfig struct {
	Size           int     // FIFO capacity in bytes
	WriteChunk     int     // largest single write to the output
	BytesPerSecond float64 // line rate to emulate; 0 writes as fast as the output accepts
	CTS            CTSFunc // nil disables hardware flow control
	CTSPoll        time.Duration
}

// Stats is a snapshot of FIFO counters
type Stats struct {
	Pushed    uint64 `json:"bytes_pushed"`
	Written   uint64 `json:"bytes_written"`
	Busy      uint64 `json:"busy_rejections"`
	CTSWaits  uint64 `json:"cts_waits"`
	Queued    int    `json:"queued_bytes"`
	Capacity  int    `json:"capacity_bytes"`
	LastError string `json:"last_error,omitempty"`
}

// FIFO is a bounded transmit queue in front of an io.Writer. Producers push
// bytes without blocking; Run moves them to the writer.
type FIFO struct {
	w      io.Writer
	cfg    FIFOConfig
	logger *slog.Logger

	tx      chan byte
	ready   chan struct{}
	limiter *rate.Limiter

	closed    atomic.Bool
	closeOnce sync.Once

	pushed   atomic.Uint64
	written  atomic.Uint64
	busy     atomic.Uint64
	ctsWaits atomic.Uint64

	mu      sync.Mutex
	lastErr error
}

// NewFIFO creates a FIFO writing to w
func NewFIFO(w io.Writer, cfg FIFOConfig, logger *slog.Logger) (*FIFO, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("fifo size must be positive, got %d", cfg.Size)
	}
	if cfg.WriteChunk <= 0 || cfg.WriteChunk > cfg.Size {
		cfg.WriteChunk = cfg.Size
	}
	if cfg.CTSPoll <= 0 {
		cfg.CTSPoll = time.Millisecond
	}

	f := &FIFO{
		w:      w,
		cfg:    cfg,
		logger: logger,
		tx:     make(chan byte, cfg.Size),
		ready:  make(chan struct{}, 1),
	}
	if cfg.BytesPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.BytesPerSecond), cfg.WriteChunk)
	}
	return f, nil
}

// PushByte queues b, returning false when the FIFO is full or closed
func (f *FIFO) PushByte(b byte) bool {
	if f.closed.Load() {
		return false
	}
	select {
	case f.tx <- b:
		f.pushed.Add(1)
		return true
	default:
		f.busy.Add(1)
		return false
	}
}

// Ready is signalled whenever bytes leave the FIFO
func (f *FIFO) Ready() <-chan struct{} {
	return f.ready
}

// Run moves queued bytes to the writer until ctx is done or a write fails
func (f *FIFO) Run(ctx context.Context) error {
	chunk := make([]byte, 0, f.cfg.WriteChunk)

	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-f.tx:
			chunk = append(chunk[:0], b)
		collect:
			for len(chunk) < cap(chunk) {
				select {
				case b := <-f.tx:
					chunk = append(chunk, b)
				default:
					break collect
				}
			}

			if err := f.write(ctx, chunk); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				f.setErr(err)
				return fmt.Errorf("sink write failed: %w", err)
			}

			select {
			case f.ready <- struct{}{}:
			default:
			}
		}
	}
}

func (f *FIFO) write(ctx context.Context, p []byte) error {
	if f.cfg.CTS != nil {
		if err := f.waitCTS(ctx); err != nil {
			return err
		}
	}
	if f.limiter != nil {
		if err := f.limiter.WaitN(ctx, len(p)); err != nil {
			return err
		}
	}

	n, err := f.w.Write(p)
	f.written.Add(uint64(n))
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}

func (f *FIFO) waitCTS(ctx context.Context) error {
	waited := false
	for {
		ok, err := f.cfg.CTS()
		if err != nil {
			return fmt.Errorf("failed to read CTS: %w", err)
		}
		if ok {
			return nil
		}
		if !waited {
			waited = true
			f.ctsWaits.Add(1)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.cfg.CTSPoll):
		}
	}
}

func (f *FIFO) setErr(err error) {
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()
}

// Flush waits until every queued byte has been handed to the writer
func (f *FIFO) Flush(ctx context.Context) error {
	for len(f.tx) > 0 {
		if f.closed.Load() {
			return ErrClosed
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("flush with %d bytes queued: %w", len(f.tx), ctx.Err())
		case <-f.ready:
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

// Len returns the number of queued bytes
func (f *FIFO) Len() int {
	return len(f.tx)
}

// Close stops accepting bytes and closes the writer when it is an io.Closer
func (f *FIFO) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		if c, ok := f.w.(io.Closer); ok {
			err = c.Close()
		}
		f.logger.Info("Sink closed",
			slog.Uint64("bytes_written", f.written.Load()),
			slog.Int("bytes_discarded", len(f.tx)),
		)
	})
	return err
}

// Stats returns a snapshot of FIFO counters
func (f *FIFO) Stats() Stats {
	stats := Stats{
		Pushed:   f.pushed.Load(),
		Written:  f.written.Load(),
		Busy:     f.busy.Load(),
		CTSWaits: f.ctsWaits.Load(),
		Queued:   len(f.tx),
		Capacity: cap(f.tx),
	}
	f.mu.Lock()
	if f.lastErr != nil {
		stats.LastError = f.lastErr.Error()
	}
	f.mu.Unlock()
	return stats
}
