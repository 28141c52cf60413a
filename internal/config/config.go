package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skypro1111/i2s-serial-bridge/internal/clock"
	"github.com/skypro1111/i2s-serial-bridge/internal/protocol"
	"github.com/skypro1111/i2s-serial-bridge/internal/sink"
)

// Config represents the complete bridge configuration
type Config struct {
	Capture       CaptureConfig `yaml:"capture" json:"capture"`
	Clock         clock.Config  `yaml:"clock" json:"clock"`
	Buffer        BufferConfig  `yaml:"buffer" json:"buffer"`
	Drain         DrainConfig   `yaml:"drain" json:"drain"`
	Sink          SinkConfig    `yaml:"sink" json:"sink"`
	HTTP          HTTPConfig    `yaml:"http" json:"http"`
	Logging       LoggingConfig `yaml:"logging" json:"logging"`
	StatsInterval int           `yaml:"stats_interval" json:"stats_interval"` // seconds, 0 disables
}

// CaptureConfig contains capture source and sample format configuration
type CaptureConfig struct {
	Source      string     `yaml:"source" json:"source"`         // tone, wav or udp
	ByteOrder   string     `yaml:"byte_order" json:"byte_order"` // native order of captured words
	Channels    string     `yaml:"channels" json:"channels"`
	SampleWidth int        `yaml:"sample_width" json:"sample_width"`
	BatchWords  int        `yaml:"batch_words" json:"batch_words"`
	RealTime    bool       `yaml:"real_time" json:"real_time"` // pace local sources by the word clock
	EventBuffer int        `yaml:"event_buffer" json:"event_buffer"`
	Tone        ToneConfig `yaml:"tone" json:"tone"`
	WAV         WAVConfig  `yaml:"wav" json:"wav"`
	UDP         UDPConfig  `yaml:"udp" json:"udp"`
}

// ToneConfig contains synthetic tone parameters
type ToneConfig struct {
	FrequencyHz float64 `yaml:"frequency_hz" json:"frequency_hz"`
	Amplitude   float64 `yaml:"amplitude" json:"amplitude"`
	Batches     int     `yaml:"batches" json:"batches"` // 0 runs until stopped
}

// WAVConfig contains file replay parameters
type WAVConfig struct {
	Path string `yaml:"path" json:"path"`
	Loop bool   `yaml:"loop" json:"loop"`
}

// UDPConfig contains network capture configuration
type UDPConfig struct {
	Port        int    `yaml:"port" json:"port"`
	BindAddress string `yaml:"bind_address" json:"bind_address"`
	BufferSize  int    `yaml:"buffer_size" json:"buffer_size"`
	QueueSize   int    `yaml:"queue_size" json:"queue_size"`
}

// BufferConfig contains ring buffer configuration
type BufferConfig struct {
	Capacity        int    `yaml:"capacity" json:"capacity"` // bytes
	OverflowPolicy  string `yaml:"overflow_policy" json:"overflow_policy"`
	LatchOnOverflow bool   `yaml:"latch_on_overflow" json:"latch_on_overflow"`
	RecoverOnDrain  bool   `yaml:"recover_on_drain" json:"recover_on_drain"`
}

// DrainConfig contains drain loop configuration
type DrainConfig struct {
	ChunkSize     int `yaml:"chunk_size" json:"chunk_size"`           // bytes per pass
	SinkTimeout   int `yaml:"sink_timeout_ms" json:"sink_timeout_ms"` // 0 waits forever
	RetryInterval int `yaml:"retry_interval_ms" json:"retry_interval_ms"`
	IdlePoll      int `yaml:"idle_poll_ms" json:"idle_poll_ms"`
}

// SinkConfig contains output configuration
type SinkConfig struct {
	Output      string `yaml:"output" json:"output"` // serial, file or stdout
	Device      string `yaml:"device" json:"device"`
	Path        string `yaml:"path" json:"path"`
	BaudRate    int    `yaml:"baud_rate" json:"baud_rate"`
	FlowControl string `yaml:"flow_control" json:"flow_control"` // none or rtscts
	TxFIFOSize  int    `yaml:"tx_fifo_size" json:"tx_fifo_size"`
	WriteChunk  int    `yaml:"write_chunk" json:"write_chunk"`
	Pace        bool   `yaml:"pace" json:"pace"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" json:"port"`
	Address string `yaml:"address" json:"address"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Default returns the configuration of the reference board: a 24-bit left
// channel captured in 32-word batches into an 8 KiB ring, drained 128 bytes
// at a time to a 921600 baud UART with hardware flow control.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Source:      "tone",
			ByteOrder:   "big",
			Channels:    "left",
			SampleWidth: 24,
			BatchWords:  32,
			RealTime:    true,
			EventBuffer: 16,
			Tone: ToneConfig{
				FrequencyHz: 1000,
				Amplitude:   0.5,
			},
			UDP: UDPConfig{
				Port:        4444,
				BindAddress: "0.0.0.0",
				BufferSize:  65536,
				QueueSize:   256,
			},
		},
		Clock: clock.DefaultConfig(),
		Buffer: BufferConfig{
			Capacity:       8192,
			OverflowPolicy: "reject",
		},
		Drain: DrainConfig{
			ChunkSize:     128,
			RetryInterval: 1,
			IdlePoll:      10,
		},
		Sink: SinkConfig{
			Output:      "serial",
			Device:      "/dev/ttyUSB0",
			BaudRate:    921600,
			FlowControl: "rtscts",
			TxFIFOSize:  256,
			WriteChunk:  64,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		StatsInterval: 10,
	}
}

// Load reads the configuration file over the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Clock.Validate(); err != nil {
		return fmt.Errorf("clock config: %w", err)
	}

	if err := c.Buffer.Validate(); err != nil {
		return fmt.Errorf("buffer config: %w", err)
	}

	if c.Buffer.Capacity < c.Capture.BatchWords*protocol.WordSize {
		return fmt.Errorf("buffer config: capacity %d cannot hold one batch of %d bytes",
			c.Buffer.Capacity, c.Capture.BatchWords*protocol.WordSize)
	}

	if err := c.Drain.Validate(); err != nil {
		return fmt.Errorf("drain config: %w", err)
	}

	if err := c.Sink.Validate(); err != nil {
		return fmt.Errorf("sink config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if c.StatsInterval < 0 {
		return fmt.Errorf("stats_interval cannot be negative, got %d", c.StatsInterval)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	validSources := map[string]bool{"tone": true, "wav": true, "udp": true}
	if !validSources[c.Source] {
		return fmt.Errorf("source must be one of [tone, wav, udp], got '%s'", c.Source)
	}

	validOrders := map[string]bool{"big": true, "little": true, "native": true}
	if !validOrders[c.ByteOrder] {
		return fmt.Errorf("byte_order must be one of [big, little, native], got '%s'", c.ByteOrder)
	}

	perFrame := 1
	switch c.Channels {
	case "left", "right":
	case "stereo":
		perFrame = 2
	default:
		return fmt.Errorf("channels must be one of [left, right, stereo], got '%s'", c.Channels)
	}

	if c.SampleWidth < 8 || c.SampleWidth > 32 {
		return fmt.Errorf("sample_width must be between 8 and 32 bits, got %d", c.SampleWidth)
	}

	if c.BatchWords < 1 || c.BatchWords > protocol.MaxBatchWords {
		return fmt.Errorf("batch_words must be between 1 and %d, got %d", protocol.MaxBatchWords, c.BatchWords)
	}

	if c.BatchWords%perFrame != 0 {
		return fmt.Errorf("batch_words must hold whole %s frames, got %d", c.Channels, c.BatchWords)
	}

	if c.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be at least 1, got %d", c.EventBuffer)
	}

	switch c.Source {
	case "tone":
		if c.Tone.FrequencyHz <= 0 {
			return fmt.Errorf("tone frequency_hz must be positive, got %f", c.Tone.FrequencyHz)
		}
		if c.Tone.Amplitude < 0 || c.Tone.Amplitude > 1 {
			return fmt.Errorf("tone amplitude must be between 0 and 1, got %f", c.Tone.Amplitude)
		}
		if c.Tone.Batches < 0 {
			return fmt.Errorf("tone batches cannot be negative, got %d", c.Tone.Batches)
		}
	case "wav":
		if c.WAV.Path == "" {
			return fmt.Errorf("wav path cannot be empty")
		}
	case "udp":
		if c.UDP.Port < 1 || c.UDP.Port > 65535 {
			return fmt.Errorf("udp port must be between 1 and 65535, got %d", c.UDP.Port)
		}
		if c.UDP.BindAddress == "" {
			return fmt.Errorf("udp bind_address cannot be empty")
		}
		if c.UDP.BufferSize < 1024 {
			return fmt.Errorf("udp buffer_size must be at least 1024 bytes, got %d", c.UDP.BufferSize)
		}
		if c.UDP.QueueSize < 1 {
			return fmt.Errorf("udp queue_size must be at least 1, got %d", c.UDP.QueueSize)
		}
	}

	return nil
}

// Validate validates ring buffer configuration
func (b *BufferConfig) Validate() error {
	if b.Capacity < 1 {
		return fmt.Errorf("capacity must be positive, got %d", b.Capacity)
	}

	if b.OverflowPolicy != "reject" && b.OverflowPolicy != "drop_oldest" {
		return fmt.Errorf("overflow_policy must be 'reject' or 'drop_oldest', got '%s'", b.OverflowPolicy)
	}

	return nil
}

// Validate validates drain loop configuration
func (d *DrainConfig) Validate() error {
	if d.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", d.ChunkSize)
	}

	if d.SinkTimeout < 0 {
		return fmt.Errorf("sink_timeout_ms cannot be negative, got %d", d.SinkTimeout)
	}

	if d.RetryInterval < 0 || d.IdlePoll < 0 {
		return fmt.Errorf("retry_interval_ms and idle_poll_ms cannot be negative")
	}

	return nil
}

// Validate validates sink configuration
func (s *SinkConfig) Validate() error {
	switch s.Output {
	case "serial":
		if s.Device == "" {
			return fmt.Errorf("device cannot be empty for serial output")
		}
	case "file":
		if s.Path == "" {
			return fmt.Errorf("path cannot be empty for file output")
		}
	case "stdout":
	default:
		return fmt.Errorf("output must be one of [serial, file, stdout], got '%s'", s.Output)
	}

	if s.BaudRate < 1 {
		return fmt.Errorf("baud_rate must be positive, got %d", s.BaudRate)
	}

	if s.FlowControl != "none" && s.FlowControl != "rtscts" {
		return fmt.Errorf("flow_control must be 'none' or 'rtscts', got '%s'", s.FlowControl)
	}

	if s.TxFIFOSize < 1 {
		return fmt.Errorf("tx_fifo_size must be positive, got %d", s.TxFIFOSize)
	}

	if s.WriteChunk < 0 {
		return fmt.Errorf("write_chunk cannot be negative, got %d", s.WriteChunk)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout or stderr is a file path
	return nil
}

// RTSCTS reports whether hardware flow control is enabled
func (s *SinkConfig) RTSCTS() bool {
	return s.FlowControl == "rtscts"
}

// GetSinkTimeoutDuration returns the sink timeout as a time.Duration
func (d *DrainConfig) GetSinkTimeoutDuration() time.Duration {
	return time.Duration(d.SinkTimeout) * time.Millisecond
}

// GetRetryIntervalDuration returns the busy-sink retry interval as a time.Duration
func (d *DrainConfig) GetRetryIntervalDuration() time.Duration {
	return time.Duration(d.RetryInterval) * time.Millisecond
}

// GetIdlePollDuration returns the idle poll interval as a time.Duration
func (d *DrainConfig) GetIdlePollDuration() time.Duration {
	return time.Duration(d.IdlePoll) * time.Millisecond
}

// GetStatsInterval returns the stats sampling interval as a time.Duration
func (c *Config) GetStatsInterval() time.Duration {
	return time.Duration(c.StatsInterval) * time.Second
}

// PerFrame returns the number of words one frame contributes
func (c *CaptureConfig) PerFrame() int {
	if c.Channels == "stereo" {
		return 2
	}
	return 1
}

// GetBatchInterval returns the time the configured clock takes to produce one batch
func (c *Config) GetBatchInterval() time.Duration {
	return c.Clock.BatchInterval(c.Capture.BatchWords, c.Capture.PerFrame())
}

// StreamByteRate returns the wire bytes per second produced by the capture side
func (c *Config) StreamByteRate() float64 {
	return c.Clock.WordClockHz() * float64(c.Capture.PerFrame()*protocol.WordSize)
}

// SinkByteRate returns the bytes per second the serial line carries with 8N1 framing
func (c *Config) SinkByteRate() float64 {
	return float64(c.Sink.BaudRate) / sink.BitsPerByte
}
