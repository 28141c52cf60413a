package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/skypro1111/i2s-serial-bridge/internal/audio"
	"github.com/skypro1111/i2s-serial-bridge/internal/clock"
)

// ToneConfig configures a synthetic sine source
type ToneConfig struct {
	FrequencyHz float64
	Amplitude   float64 // fraction of full scale, 0..1
	SampleRate  int     // frames per second, normally the word clock
	SampleWidth int     // significant bits per sample
	BatchWords  int
	Channels    Channels
	Interval    time.Duration // between batches; 0 delivers back to back
	Batches     int           // stop after this many batches; 0 runs until cancelled
}

// Validate validates tone configuration
func (c *ToneConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.FrequencyHz <= 0 || c.FrequencyHz >= float64(c.SampleRate)/2 {
		return fmt.Errorf("tone frequency must be between 0 and %d Hz, got %.1f", c.SampleRate/2, c.FrequencyHz)
	}
	if c.Amplitude < 0 || c.Amplitude > 1 {
		return fmt.Errorf("amplitude must be between 0 and 1, got %f", c.Amplitude)
	}
	if c.SampleWidth < 8 || c.SampleWidth > 32 {
		return fmt.Errorf("sample width must be between 8 and 32 bits, got %d", c.SampleWidth)
	}
	if c.BatchWords <= 0 || c.BatchWords%c.Channels.PerFrame() != 0 {
		return fmt.Errorf("batch of %d words does not hold whole %s frames", c.BatchWords, c.Channels)
	}
	return nil
}

// ToneSource emits a sine tone into a double buffer, delivering one half per
// batch while the other half is being filled.
type ToneSource struct {
	cfg    ToneConfig
	logger *slog.Logger

	buf   []uint32
	phase float64
}

// NewToneSource creates a tone source
func NewToneSource(cfg ToneConfig, logger *slog.Logger) (*ToneSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tone config: %w", err)
	}

	buf := make([]uint32, 2*cfg.BatchWords)
	for i := range buf {
		buf[i] = 0xCCCCCCCC
	}

	return &ToneSource{
		cfg:    cfg,
		logger: logger,
		buf:    buf,
	}, nil
}

// Name returns the source name
func (s *ToneSource) Name() string {
	return "tone"
}

// Run delivers batches until ctx is done or the configured batch count is reached
func (s *ToneSource) Run(ctx context.Context, deliver BatchFunc) error {
	s.logger.Info("Tone source started",
		slog.Float64("frequency_hz", s.cfg.FrequencyHz),
		slog.Int("sample_rate", s.cfg.SampleRate),
		slog.Int("batch_words", s.cfg.BatchWords),
		slog.String("channels", s.cfg.Channels.String()),
		slog.Duration("interval", s.cfg.Interval),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	half := 0
	delivered := 0
	err := clock.Pace(ctx, s.cfg.Interval, func() error {
		batch := s.buf[half*s.cfg.BatchWords : (half+1)*s.cfg.BatchWords]
		s.fill(batch)
		deliver(batch, nil)
		half ^= 1

		delivered++
		if s.cfg.Batches > 0 && delivered >= s.cfg.Batches {
			cancel()
		}
		return nil
	})

	s.logger.Info("Tone source stopped", slog.Int("batches", delivered))
	return err
}

func (s *ToneSource) fill(batch []uint32) {
	perFrame := s.cfg.Channels.PerFrame()
	full := float64(int64(1)<<(s.cfg.SampleWidth-1) - 1)
	step := 2 * math.Pi * s.cfg.FrequencyHz / float64(s.cfg.SampleRate)

	for i := 0; i < len(batch); i += perFrame {
		sample := int32(math.Round(s.cfg.Amplitude * full * math.Sin(s.phase)))
		word := audio.LeftJustify(sample, s.cfg.SampleWidth)
		for c := 0; c < perFrame; c++ {
			batch[i+c] = word
		}

		s.phase += step
		if s.phase >= 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
}
