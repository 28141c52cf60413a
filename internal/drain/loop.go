package drain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/skypro1111/i2s-serial-bridge/internal/audio"
	"github.com/skypro1111/i2s-serial-bridge/internal/sink"
)

// ErrSinkStalled ends a pass when the sink stays busy past the configured timeout
var ErrSinkStalled = errors.New("sink stalled")

// State is the drain loop state
type State int32

const (
	StateIdle State = iota
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDraining:
		return "DRAINING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Recorder receives consumer-side measurements
type Recorder interface {
	RecordPass(forwarded int)
	RecordSinkBusy()
	RecordSinkStall()
}

// Config configures the drain loop
type Config struct {
	ChunkSize     int           // most bytes forwarded per pass
	SinkTimeout   time.Duration // 0 waits for a busy sink forever
	RetryInterval time.Duration // re-check of a busy sink that gives no ready signal
	IdlePoll      time.Duration // wake-up when the producer sends no signal
}

// Loop forwards ring contents to the sink in bounded chunks
type Loop struct {
	ring   *audio.Ring
	sink   sink.Sink
	ready  <-chan struct{}
	cfg    Config
	logger *slog.Logger
	rec    Recorder

	// Wake, when set, is signalled by the producer after each append
	Wake <-chan struct{}
	// OnIdle runs on every DRAINING to IDLE transition
	OnIdle func()

	chunk []byte
	state atomic.Int32

	passes    atomic.Uint64
	forwarded atomic.Uint64
	busyWaits atomic.Uint64
	stalls    atomic.Uint64
}

// Stats is a snapshot of drain loop counters
type Stats struct {
	State     string `json:"state"`
	ChunkSize int    `json:"chunk_size"`
	Passes    uint64 `json:"passes"`
	Forwarded uint64 `json:"bytes_forwarded"`
	BusyWaits uint64 `json:"sink_busy_waits"`
	Stalls    uint64 `json:"sink_stalls"`
}

// New creates a drain loop. rec may be nil.
func New(ring *audio.Ring, snk sink.Sink, cfg Config, logger *slog.Logger, rec Recorder) (*Loop, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.SinkTimeout < 0 {
		return nil, fmt.Errorf("sink timeout cannot be negative, got %v", cfg.SinkTimeout)
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Millisecond
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = 10 * time.Millisecond
	}

	l := &Loop{
		ring:   ring,
		sink:   snk,
		cfg:    cfg,
		logger: logger,
		rec:    rec,
		chunk:  make([]byte, cfg.ChunkSize),
	}
	if n, ok := snk.(sink.Notifier); ok {
		l.ready = n.Ready()
	}
	return l, nil
}

// Pass performs one drain pass: it forwards at most ChunkSize bytes of the
// physically contiguous readable span and consumes what the sink accepted.
// It returns early with ErrSinkStalled or the context error, keeping unsent
// bytes in the ring.
func (l *Loop) Pass(ctx context.Context) (int, error) {
	n := l.ring.Peek(l.chunk)
	if n == 0 {
		l.setState(StateIdle)
		return 0, nil
	}
	l.setState(StateDraining)
	l.passes.Add(1)

	var (
		sent  int
		err   error
		stall <-chan time.Time
	)
	for sent < n {
		if l.sink.PushByte(l.chunk[sent]) {
			sent++
			continue
		}

		if stall == nil && l.cfg.SinkTimeout > 0 {
			timer := time.NewTimer(l.cfg.SinkTimeout)
			defer timer.Stop()
			stall = timer.C
		}
		if err = l.waitSink(ctx, stall); err != nil {
			break
		}
	}

	if sent > 0 {
		if cerr := l.ring.Consume(sent); cerr != nil {
			return sent, fmt.Errorf("consume after forwarding %d bytes: %w", sent, cerr)
		}
		l.forwarded.Add(uint64(sent))
	}
	if l.rec != nil {
		l.rec.RecordPass(sent)
	}

	if l.ring.Empty() {
		l.setState(StateIdle)
	}
	return sent, err
}

func (l *Loop) waitSink(ctx context.Context, stall <-chan time.Time) error {
	l.busyWaits.Add(1)
	if l.rec != nil {
		l.rec.RecordSinkBusy()
	}

	retry := time.NewTimer(l.cfg.RetryInterval)
	defer retry.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stall:
		l.stalls.Add(1)
		if l.rec != nil {
			l.rec.RecordSinkStall()
		}
		return fmt.Errorf("%w: busy for %v", ErrSinkStalled, l.cfg.SinkTimeout)
	case <-l.ready:
	case <-retry.C:
	}
	return nil
}

// Drain runs passes until the ring is empty or a pass stops early
func (l *Loop) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := l.Pass(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}

// Run drains for the lifetime of ctx, sleeping between bursts until the
// producer signals Wake or IdlePoll elapses
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("Drain loop started",
		slog.Int("chunk_size", l.cfg.ChunkSize),
		slog.Duration("sink_timeout", l.cfg.SinkTimeout),
	)

	idle := time.NewTicker(l.cfg.IdlePoll)
	defer idle.Stop()

	for {
		_, err := l.Drain(ctx)
		switch {
		case ctx.Err() != nil:
			l.logger.Info("Drain loop stopped",
				slog.Uint64("bytes_forwarded", l.forwarded.Load()),
				slog.Int("bytes_pending", l.ring.Len()),
			)
			return nil
		case errors.Is(err, ErrSinkStalled):
			l.logger.Warn("Sink stalled, pass ended early",
				slog.Int("bytes_pending", l.ring.Len()),
				slog.Duration("sink_timeout", l.cfg.SinkTimeout),
			)
			continue
		case err != nil:
			return fmt.Errorf("drain failed: %w", err)
		}

		select {
		case <-ctx.Done():
		case <-l.Wake:
		case <-idle.C:
		}
	}
}

func (l *Loop) setState(s State) {
	prev := State(l.state.Swap(int32(s)))
	if prev == StateDraining && s == StateIdle && l.OnIdle != nil {
		l.OnIdle()
	}
}

// State returns the current state
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Stats returns a snapshot of drain loop counters
func (l *Loop) Stats() Stats {
	return Stats{
		State:     l.State().String(),
		ChunkSize: l.cfg.ChunkSize,
		Passes:    l.passes.Load(),
		Forwarded: l.forwarded.Load(),
		BusyWaits: l.busyWaits.Load(),
		Stalls:    l.stalls.Load(),
	}
}
