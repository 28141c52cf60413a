package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/i2s-serial-bridge/internal/audio"
	"github.com/skypro1111/i2s-serial-bridge/internal/capture"
	"github.com/skypro1111/i2s-serial-bridge/internal/clock"
	"github.com/skypro1111/i2s-serial-bridge/internal/config"
	"github.com/skypro1111/i2s-serial-bridge/internal/drain"
	"github.com/skypro1111/i2s-serial-bridge/internal/metrics"
	"github.com/skypro1111/i2s-serial-bridge/internal/sink"
)

// readyTimeout bounds the wait for both clock generators
const readyTimeout = time.Second

// Output is the sink side the bridge drives: a byte sink with a ready
// signal, its own writer goroutine and a queue it can flush.
type Output interface {
	sink.Sink
	sink.Notifier
	Run(ctx context.Context) error
	Flush(ctx context.Context) error
	Len() int
	Stats() sink.Stats
}

// Bridge wires a capture source through the transcoder and ring buffer to
// the drain loop and the output
type Bridge struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	source capture.Source
	out    Output

	ring    *audio.Ring
	tc      *audio.Transcoder
	handler *capture.Handler
	loop    *drain.Loop
	synth   *clock.Synth

	startTime time.Time
	mu        sync.Mutex
	udpPrev   capture.UDPStatistics
}

// Stats is a snapshot of the whole pipeline
type Stats struct {
	Source        string                 `json:"source"`
	UptimeSeconds float64                `json:"uptime_seconds"`
	Clock         clock.Stats            `json:"clock"`
	Capture       capture.HandlerStats   `json:"capture"`
	Ring          audio.RingStats        `json:"ring"`
	Drain         drain.Stats            `json:"drain"`
	Sink          sink.Stats             `json:"sink"`
	UDP           *capture.UDPStatistics `json:"udp,omitempty"`
}

// New creates a bridge for a validated configuration. m may be nil.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, source capture.Source, out Output) (*Bridge, error) {
	native, err := audio.ParseByteOrder(cfg.Capture.ByteOrder)
	if err != nil {
		return nil, err
	}

	tc, err := audio.NewTranscoder(cfg.Capture.BatchWords, native)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcoder: %w", err)
	}

	policy, err := audio.ParseOverflowPolicy(cfg.Buffer.OverflowPolicy)
	if err != nil {
		return nil, err
	}

	ring, err := audio.NewRing(cfg.Buffer.Capacity, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to create ring buffer: %w", err)
	}

	synth, err := clock.NewSynth(cfg.Clock, logger)
	if err != nil {
		return nil, err
	}

	// A nil *Metrics must not end up inside a non-nil interface
	var (
		captureRec capture.Recorder
		drainRec   drain.Recorder
	)
	if m != nil {
		captureRec = m
		drainRec = m
	}

	handler := capture.NewHandler(tc, ring, captureRec, cfg.Capture.EventBuffer)
	handler.LatchOnOverflow = cfg.Buffer.LatchOnOverflow

	loop, err := drain.New(ring, out, drain.Config{
		ChunkSize:     cfg.Drain.ChunkSize,
		SinkTimeout:   cfg.Drain.GetSinkTimeoutDuration(),
		RetryInterval: cfg.Drain.GetRetryIntervalDuration(),
		IdlePoll:      cfg.Drain.GetIdlePollDuration(),
	}, logger, drainRec)
	if err != nil {
		return nil, fmt.Errorf("failed to create drain loop: %w", err)
	}
	loop.Wake = handler.Wake()

	b := &Bridge{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		source:    source,
		out:       out,
		ring:      ring,
		tc:        tc,
		handler:   handler,
		loop:      loop,
		synth:     synth,
		startTime: time.Now(),
	}
	if cfg.Buffer.RecoverOnDrain {
		loop.OnIdle = b.recoverOnIdle
	}

	return b, nil
}

// Run starts the clock generators and runs the pipeline until ctx is done,
// a component fails, or a finite source has been fully delivered.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.synth.Start(); err != nil {
		return fmt.Errorf("failed to start clock: %w", err)
	}
	defer b.synth.Stop()

	readyCtx, cancelReady := context.WithTimeout(ctx, readyTimeout)
	err := b.synth.WaitReady(readyCtx)
	cancelReady()
	if err != nil {
		return err
	}

	b.logger.Info("Bridge started",
		slog.String("source", b.source.Name()),
		slog.String("wire_order", b.tc.Wire().String()),
		slog.Int("ring_capacity", b.ring.Cap()),
		slog.String("overflow_policy", b.ring.Policy().String()),
		slog.Int("chunk_size", b.cfg.Drain.ChunkSize),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return b.out.Run(gctx)
	})

	g.Go(func() error {
		return b.loop.Run(gctx)
	})

	g.Go(func() error {
		if err := b.source.Run(gctx, b.handler.OnBatch); err != nil {
			return fmt.Errorf("capture source %s: %w", b.source.Name(), err)
		}
		if gctx.Err() != nil {
			return nil
		}

		b.logger.Info("Capture source finished, draining remaining bytes",
			slog.Int("bytes_pending", b.ring.Len()),
		)
		if err := b.waitDrained(gctx); err == nil {
			b.logger.Info("All captured bytes forwarded")
		}
		cancel()
		return nil
	})

	g.Go(func() error {
		b.watchEvents(gctx)
		return nil
	})

	if interval := b.cfg.GetStatsInterval(); interval > 0 {
		g.Go(func() error {
			b.sampleStats(gctx, interval)
			return nil
		})
	}

	err = g.Wait()
	stats := b.Stats()
	b.logger.Info("Bridge stopped",
		slog.Uint64("batches", stats.Capture.Batches),
		slog.Uint64("dropped_batches", stats.Capture.DroppedBatches),
		slog.Uint64("bytes_forwarded", stats.Drain.Forwarded),
		slog.Uint64("bytes_written", stats.Sink.Written),
		slog.Int("bytes_pending", stats.Ring.Used),
	)
	return err
}

// waitDrained blocks until the ring is empty and the output queue is flushed
func (b *Bridge) waitDrained(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for !b.ring.Empty() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return b.out.Flush(ctx)
}

// watchEvents logs what the capture handler cannot log itself
func (b *Bridge) watchEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.handler.Events():
			switch ev.Kind {
			case capture.EventLatched:
				b.logger.Error("Capture error flag latched, batches will be dropped",
					slog.Uint64("batch", ev.Batch),
					slog.String("error", ev.Err.Error()),
				)
			case capture.EventOverflow:
				attrs := []any{
					slog.Uint64("batch", ev.Batch),
					slog.String("error", ev.Err.Error()),
				}
				var overflow *audio.OverflowError
				if errors.As(ev.Err, &overflow) {
					attrs = append(attrs,
						slog.Int("requested", overflow.Requested),
						slog.Int("free", overflow.Free),
						slog.Int("dropped", overflow.Dropped),
					)
				}
				b.logger.Warn("Ring buffer overflow", attrs...)
			}
		}
	}
}

// sampleStats refreshes gauges and logs a periodic summary
func (b *Bridge) sampleStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := b.Stats()
			b.updateGauges(stats)

			b.logger.Debug("Bridge statistics",
				slog.Uint64("batches", stats.Capture.Batches),
				slog.Uint64("dropped_batches", stats.Capture.DroppedBatches),
				slog.Int("ring_used", stats.Ring.Used),
				slog.Float64("ring_fill", stats.Ring.FillRatio),
				slog.String("drain_state", stats.Drain.State),
				slog.Uint64("bytes_forwarded", stats.Drain.Forwarded),
				slog.Int("sink_queued", stats.Sink.Queued),
				slog.Bool("error_latched", stats.Capture.ErrorLatched),
			)
		}
	}
}

func (b *Bridge) updateGauges(stats Stats) {
	if b.metrics == nil {
		return
	}

	b.metrics.SetRing(stats.Ring.Used, stats.Ring.Capacity)
	b.metrics.SetDraining(stats.Drain.State == drain.StateDraining.String())
	b.metrics.SetSinkQueued(stats.Sink.Queued)
	b.metrics.SetErrorLatched(stats.Capture.ErrorLatched)

	if stats.UDP != nil {
		b.mu.Lock()
		prev := b.udpPrev
		b.udpPrev = *stats.UDP
		b.mu.Unlock()

		b.metrics.AddUDP(
			stats.UDP.PacketsReceived-prev.PacketsReceived,
			stats.UDP.ParseErrors-prev.ParseErrors,
			stats.UDP.LostBatches-prev.LostBatches,
		)
	}
}

func (b *Bridge) recoverOnIdle() {
	if !b.handler.ClearError() {
		return
	}
	if b.metrics != nil {
		b.metrics.SetErrorLatched(false)
	}
	b.logger.Info("Capture error flag cleared after the buffer drained",
		slog.String("last_error", errString(b.handler.LastError())),
	)
}

// ClearError resets the capture error flag. It reports whether the flag was set.
func (b *Bridge) ClearError() bool {
	cleared := b.handler.ClearError()
	if cleared {
		if b.metrics != nil {
			b.metrics.SetErrorLatched(false)
		}
		b.logger.Info("Capture error flag cleared")
	}
	return cleared
}

// Failed reports whether the capture error flag is set
func (b *Bridge) Failed() bool {
	return b.handler.Failed()
}

// Handler returns the capture handler
func (b *Bridge) Handler() *capture.Handler {
	return b.handler
}

// Ring returns the ring buffer between capture and drain
func (b *Bridge) Ring() *audio.Ring {
	return b.ring
}

// Stats returns a snapshot of the whole pipeline
func (b *Bridge) Stats() Stats {
	now := time.Now()
	stats := Stats{
		Source:        b.source.Name(),
		UptimeSeconds: now.Sub(b.startTime).Seconds(),
		Clock:         b.synth.Stats(now),
		Capture:       b.handler.Stats(),
		Ring:          b.ring.Stats(),
		Drain:         b.loop.Stats(),
		Sink:          b.out.Stats(),
	}
	if udp, ok := b.source.(*capture.UDPSource); ok {
		s := udp.GetStatistics()
		stats.UDP = &s
	}
	return stats
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
