package capture

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/skypro1111/i2s-serial-bridge/internal/audio"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseChannels(t *testing.T) {
	tests := []struct {
		name     string
		want     Channels
		perFrame int
		wantErr  bool
	}{
		{name: "left", want: ChannelsLeft, perFrame: 1},
		{name: "", want: ChannelsLeft, perFrame: 1},
		{name: "right", want: ChannelsRight, perFrame: 1},
		{name: "stereo", want: ChannelsStereo, perFrame: 2},
		{name: "surround", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseChannels(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseChannels(%q): expected error", tt.name)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseChannels(%q) = %v, %v", tt.name, got, err)
		}
		if got.PerFrame() != tt.perFrame {
			t.Errorf("%s: expected %d words per frame, got %d", got, tt.perFrame, got.PerFrame())
		}
	}
}

func TestToneSourceDoubleBuffer(t *testing.T) {
	src, err := NewToneSource(ToneConfig{
		FrequencyHz: 1000,
		Amplitude:   0.5,
		SampleRate:  10000,
		SampleWidth: 24,
		BatchWords:  32,
		Channels:    ChannelsLeft,
		Batches:     4,
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewToneSource failed: %v", err)
	}

	var halves []*uint32
	var words []uint32
	err = src.Run(context.Background(), func(rx, tx []uint32) {
		if tx != nil {
			t.Error("Expected receive-only delivery")
		}
		if len(rx) != 32 {
			t.Errorf("Expected 32 words per batch, got %d", len(rx))
		}
		halves = append(halves, &rx[0])
		words = append(words, rx...)
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(halves) != 4 {
		t.Fatalf("Expected 4 batches, got %d", len(halves))
	}
	if halves[0] == halves[1] || halves[0] != halves[2] || halves[1] != halves[3] {
		t.Error("Expected batches to alternate between the two halves")
	}

	// 24-bit samples are left-justified: the low byte is always zero
	for i, w := range words {
		if w&0xFF != 0 {
			t.Fatalf("Word %d not left-justified: 0x%08X", i, w)
		}
	}

	// 1 kHz at 10 kHz repeats every 10 frames
	if words[0] != words[10] || words[3] != words[13] {
		t.Errorf("Expected tone period of 10 frames, got %08X/%08X %08X/%08X",
			words[0], words[10], words[3], words[13])
	}
}

func TestToneSourceStereo(t *testing.T) {
	src, err := NewToneSource(ToneConfig{
		FrequencyHz: 440,
		Amplitude:   1,
		SampleRate:  10000,
		SampleWidth: 16,
		BatchWords:  8,
		Channels:    ChannelsStereo,
		Batches:     1,
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewToneSource failed: %v", err)
	}

	src.Run(context.Background(), func(rx, tx []uint32) {
		for i := 0; i < len(rx); i += 2 {
			if rx[i] != rx[i+1] {
				t.Errorf("Frame %d: expected equal left and right words, got %08X %08X", i/2, rx[i], rx[i+1])
			}
		}
	})
}

func TestToneConfigValidate(t *testing.T) {
	base := ToneConfig{FrequencyHz: 440, Amplitude: 0.5, SampleRate: 10000, SampleWidth: 24, BatchWords: 32, Channels: ChannelsLeft}

	tests := []struct {
		name   string
		modify func(*ToneConfig)
	}{
		{name: "above nyquist", modify: func(c *ToneConfig) { c.FrequencyHz = 6000 }},
		{name: "amplitude", modify: func(c *ToneConfig) { c.Amplitude = 1.5 }},
		{name: "width", modify: func(c *ToneConfig) { c.SampleWidth = 40 }},
		{name: "partial stereo frame", modify: func(c *ToneConfig) { c.Channels = ChannelsStereo; c.BatchWords = 31 }},
	}

	for _, tt := range tests {
		cfg := base
		tt.modify(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func writeWAV(t *testing.T, samples []int32, channels, bits int) string {
	t.Helper()

	data, err := audio.EncodeWAV(samples, 10000, channels, bits)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "capture.wav")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write WAV file: %v", err)
	}
	return path
}

func TestWAVSourceReplay(t *testing.T) {
	path := writeWAV(t, []int32{1, 2, 3, 4, 5}, 1, 24)

	src, err := NewWAVSource(WAVConfig{Path: path, BatchWords: 2, Channels: ChannelsLeft}, discardLogger())
	if err != nil {
		t.Fatalf("NewWAVSource failed: %v", err)
	}

	var got []uint32
	err = src.Run(context.Background(), func(rx, tx []uint32) {
		got = append(got, rx...)
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// 5 samples in batches of 2: the last batch is padded with silence
	want := []uint32{0x100, 0x200, 0x300, 0x400, 0x500, 0}
	if len(got) != len(want) {
		t.Fatalf("Expected %d words, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Word %d: expected 0x%08X, got 0x%08X", i, want[i], got[i])
		}
	}
}

func TestWAVSourceLoop(t *testing.T) {
	path := writeWAV(t, []int32{7, 8, 9}, 1, 16)

	src, err := NewWAVSource(WAVConfig{Path: path, BatchWords: 4, Channels: ChannelsLeft, Loop: true}, discardLogger())
	if err != nil {
		t.Fatalf("NewWAVSource failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []uint32
	src.Run(ctx, func(rx, tx []uint32) {
		got = append(got, rx...)
		if len(got) >= 12 {
			cancel()
		}
	})

	for i := 0; i < 12; i++ {
		want := audio.LeftJustify(int32(7+i%3), 16)
		if got[i] != want {
			t.Errorf("Word %d: expected 0x%08X, got 0x%08X", i, want, got[i])
		}
	}
}

func TestWAVSourceChannelSelection(t *testing.T) {
	// interleaved L/R frames
	path := writeWAV(t, []int32{1, -1, 2, -2}, 2, 16)

	tests := []struct {
		channels Channels
		want     []uint32
	}{
		{channels: ChannelsLeft, want: []uint32{0x00010000, 0x00020000}},
		{channels: ChannelsRight, want: []uint32{0xFFFF0000, 0xFFFE0000}},
		{channels: ChannelsStereo, want: []uint32{0x00010000, 0xFFFF0000, 0x00020000, 0xFFFE0000}},
	}

	for _, tt := range tests {
		t.Run(tt.channels.String(), func(t *testing.T) {
			src, err := NewWAVSource(WAVConfig{Path: path, BatchWords: len(tt.want), Channels: tt.channels}, discardLogger())
			if err != nil {
				t.Fatalf("NewWAVSource failed: %v", err)
			}

			var got []uint32
			src.Run(context.Background(), func(rx, tx []uint32) {
				got = append(got, rx...)
			})

			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d words, got %d", len(tt.want), len(got))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Word %d: expected 0x%08X, got 0x%08X", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestNewWAVSourceMissingFile(t *testing.T) {
	_, err := NewWAVSource(WAVConfig{Path: filepath.Join(t.TempDir(), "missing.wav"), BatchWords: 4, Channels: ChannelsLeft}, discardLogger())
	if err == nil {
		t.Error("Expected error for missing file")
	}
}
