package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/skypro1111/i2s-serial-bridge/internal/audio"
	"github.com/skypro1111/i2s-serial-bridge/internal/clock"
)

// WAVConfig configures file replay
type WAVConfig struct {
	Path       string
	BatchWords int
	Channels   Channels
	Interval   time.Duration
	Loop       bool
}

// WAVSource replays a PCM WAV file as capture batches. Samples are
// left-justified at the file's bit depth.
type WAVSource struct {
	cfg    WAVConfig
	logger *slog.Logger

	info  *audio.WAVInfo
	words []uint32
	buf   []uint32
}

// NewWAVSource loads the file and prepares its words for the configured channels
func NewWAVSource(cfg WAVConfig, logger *slog.Logger) (*WAVSource, error) {
	if cfg.BatchWords <= 0 || cfg.BatchWords%cfg.Channels.PerFrame() != 0 {
		return nil, fmt.Errorf("batch of %d words does not hold whole %s frames", cfg.BatchWords, cfg.Channels)
	}

	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV file %s: %w", cfg.Path, err)
	}

	samples, info, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode WAV file %s: %w", cfg.Path, err)
	}

	return &WAVSource{
		cfg:    cfg,
		logger: logger,
		info:   info,
		words:  selectWords(samples, info, cfg.Channels),
		buf:    make([]uint32, cfg.BatchWords),
	}, nil
}

// selectWords maps interleaved file samples onto the capture channel layout
func selectWords(samples []int32, info *audio.WAVInfo, ch Channels) []uint32 {
	fileCh := int(info.Channels)
	bits := int(info.BitsPerSample)
	frames := len(samples) / fileCh

	pick := func(frame, c int) uint32 {
		if c >= fileCh {
			c = fileCh - 1
		}
		return audio.LeftJustify(samples[frame*fileCh+c], bits)
	}

	words := make([]uint32, 0, frames*ch.PerFrame())
	for f := 0; f < frames; f++ {
		switch ch {
		case ChannelsStereo:
			words = append(words, pick(f, 0), pick(f, 1))
		case ChannelsRight:
			words = append(words, pick(f, 1))
		default:
			words = append(words, pick(f, 0))
		}
	}
	return words
}

// Name returns the source name
func (s *WAVSource) Name() string {
	return "wav"
}

// Info returns the decoded file description
func (s *WAVSource) Info() *audio.WAVInfo {
	return s.info
}

// Run delivers the file in batches; without Loop it returns once the file is exhausted.
// A final short batch is padded with silence.
func (s *WAVSource) Run(ctx context.Context, deliver BatchFunc) error {
	s.logger.Info("WAV source started",
		slog.String("path", s.cfg.Path),
		slog.Int("sample_rate", int(s.info.SampleRate)),
		slog.Int("bits_per_sample", int(s.info.BitsPerSample)),
		slog.Float64("duration_seconds", s.info.Duration),
		slog.Bool("loop", s.cfg.Loop),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pos := 0
	passes := 0
	batches := 0
	err := clock.Pace(ctx, s.cfg.Interval, func() error {
		n := copy(s.buf, s.words[pos:])
		pos += n
		for n < len(s.buf) {
			if !s.cfg.Loop {
				clear(s.buf[n:])
				break
			}
			passes++
			pos = copy(s.buf[n:], s.words)
			n += pos
		}

		deliver(s.buf, nil)
		batches++

		if pos >= len(s.words) {
			if !s.cfg.Loop {
				cancel()
				return nil
			}
			passes++
			pos = 0
		}
		return nil
	})

	s.logger.Info("WAV source stopped",
		slog.Int("batches", batches),
		slog.Int("passes", passes),
	)
	return err
}
