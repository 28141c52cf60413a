package bridge

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/i2s-serial-bridge/internal/capture"
	"github.com/skypro1111/i2s-serial-bridge/internal/config"
	"github.com/skypro1111/i2s-serial-bridge/internal/sink"
)

// NewSource builds the capture source selected by the configuration
func NewSource(cfg *config.Config, logger *slog.Logger) (capture.Source, error) {
	channels, err := capture.ParseChannels(cfg.Capture.Channels)
	if err != nil {
		return nil, err
	}

	var interval time.Duration
	if cfg.Capture.RealTime {
		interval = cfg.GetBatchInterval()
	}

	switch cfg.Capture.Source {
	case "tone":
		src, err := capture.NewToneSource(capture.ToneConfig{
			FrequencyHz: cfg.Capture.Tone.FrequencyHz,
			Amplitude:   cfg.Capture.Tone.Amplitude,
			SampleRate:  int(cfg.Clock.WordClockHz()),
			SampleWidth: cfg.Capture.SampleWidth,
			BatchWords:  cfg.Capture.BatchWords,
			Channels:    channels,
			Interval:    interval,
			Batches:     cfg.Capture.Tone.Batches,
		}, logger)
		if err != nil {
			return nil, err
		}
		return src, nil

	case "wav":
		src, err := capture.NewWAVSource(capture.WAVConfig{
			Path:       cfg.Capture.WAV.Path,
			BatchWords: cfg.Capture.BatchWords,
			Channels:   channels,
			Interval:   interval,
			Loop:       cfg.Capture.WAV.Loop,
		}, logger)
		if err != nil {
			return nil, err
		}
		return src, nil

	case "udp":
		return capture.NewUDPSource(&capture.UDPConfig{
			BindAddress: cfg.Capture.UDP.BindAddress,
			Port:        cfg.Capture.UDP.Port,
			BufferSize:  cfg.Capture.UDP.BufferSize,
			QueueSize:   cfg.Capture.UDP.QueueSize,
			BatchWords:  cfg.Capture.BatchWords,
			Channels:    channels,
		}, logger), nil

	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Capture.Source)
	}
}

// OutputConfig maps the sink section onto the output options
func OutputConfig(cfg *config.Config) sink.OutputConfig {
	return sink.OutputConfig{
		Kind:       cfg.Sink.Output,
		Device:     cfg.Sink.Device,
		Path:       cfg.Sink.Path,
		BaudRate:   cfg.Sink.BaudRate,
		RTSCTS:     cfg.Sink.RTSCTS(),
		FIFOSize:   cfg.Sink.TxFIFOSize,
		WriteChunk: cfg.Sink.WriteChunk,
		Pace:       cfg.Sink.Pace,
	}
}
