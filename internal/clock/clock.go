package clock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// FrameBits is the number of bit-clock cycles in one word-clock cycle
const FrameBits = 64

// Config describes the two periodic generators that drive the capture
// peripheral in subordinate mode. Periods are in ticks of the base clock.
type Config struct {
	BaseHz         int `yaml:"base_hz" json:"base_hz"`
	BitClockTicks  int `yaml:"bit_clock_ticks" json:"bit_clock_ticks"`
	WordClockTicks int `yaml:"word_clock_ticks" json:"word_clock_ticks"`
	DutyPercent    int `yaml:"duty_percent" json:"duty_percent"`
}

// DefaultConfig returns a 16 MHz base with a 640 kHz bit clock and a 10 kHz word clock
func DefaultConfig() Config {
	return Config{
		BaseHz:         16000000,
		BitClockTicks:  25,
		WordClockTicks: 25 * FrameBits,
		DutyPercent:    50,
	}
}

// Validate validates clock configuration
func (c *Config) Validate() error {
	if c.BaseHz <= 0 {
		return fmt.Errorf("base_hz must be positive, got %d", c.BaseHz)
	}

	if c.BitClockTicks < 2 {
		return fmt.Errorf("bit_clock_ticks must be at least 2, got %d", c.BitClockTicks)
	}

	if c.WordClockTicks != FrameBits*c.BitClockTicks {
		return fmt.Errorf("word_clock_ticks must be %d x bit_clock_ticks (%d), got %d",
			FrameBits, FrameBits*c.BitClockTicks, c.WordClockTicks)
	}

	if c.DutyPercent != 50 {
		return fmt.Errorf("duty_percent must be 50, got %d", c.DutyPercent)
	}

	return nil
}

// BitClockHz returns the bit clock frequency
func (c Config) BitClockHz() float64 {
	return float64(c.BaseHz) / float64(c.BitClockTicks)
}

// WordClockHz returns the word clock frequency, which is also the frame rate
func (c Config) WordClockHz() float64 {
	return float64(c.BaseHz) / float64(c.WordClockTicks)
}

// BatchInterval returns how long the peripheral takes to fill a batch of the
// given number of words when each frame yields channels words.
func (c Config) BatchInterval(words, channels int) time.Duration {
	if words <= 0 || channels <= 0 || c.BaseHz <= 0 {
		return 0
	}
	frames := int64((words + channels - 1) / channels)
	return time.Duration(frames * int64(c.WordClockTicks) * int64(time.Second) / int64(c.BaseHz))
}

// ReadyFunc is invoked once by each generator after it has started
type ReadyFunc func(id int)

// Generator is one periodic square-wave source
type Generator struct {
	ID          int
	Name        string
	PeriodTicks int
	DutyPercent int

	baseHz int

	mu      sync.Mutex
	running bool
	started time.Time
}

// NewGenerator creates a stopped generator
func NewGenerator(id int, name string, baseHz, periodTicks, duty int) *Generator {
	return &Generator{
		ID:          id,
		Name:        name,
		PeriodTicks: periodTicks,
		DutyPercent: duty,
		baseHz:      baseHz,
	}
}

// Start enables the generator and reports readiness through ready
func (g *Generator) Start(ready ReadyFunc) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return fmt.Errorf("generator %s already running", g.Name)
	}
	g.running = true
	g.started = time.Now()
	g.mu.Unlock()

	if ready != nil {
		ready(g.ID)
	}
	return nil
}

// Stop disables the generator
func (g *Generator) Stop() {
	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
}

// Running reports whether the generator is enabled
func (g *Generator) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Period returns the output period
func (g *Generator) Period() time.Duration {
	return time.Duration(int64(g.PeriodTicks) * int64(time.Second) / int64(g.baseHz))
}

// HighTime returns how long the output stays high in each period
func (g *Generator) HighTime() time.Duration {
	return g.Period() * time.Duration(g.DutyPercent) / 100
}

// Cycles returns the number of complete periods emitted up to now
func (g *Generator) Cycles(now time.Time) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running || now.Before(g.started) {
		return 0
	}
	elapsed := now.Sub(g.started)
	return uint64(elapsed.Seconds() * float64(g.baseHz) / float64(g.PeriodTicks))
}

// Synth owns the bit-clock and word-clock generators
type Synth struct {
	cfg    Config
	logger *slog.Logger

	bit  *Generator
	word *Generator

	ready chan int
	// OnReady, when set, is called for each generator after the internal bookkeeping
	OnReady ReadyFunc
}

// NewSynth creates the two generators for a validated configuration
func NewSynth(cfg Config, logger *slog.Logger) (*Synth, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid clock config: %w", err)
	}

	return &Synth{
		cfg:    cfg,
		logger: logger,
		bit:    NewGenerator(0, "sck", cfg.BaseHz, cfg.BitClockTicks, cfg.DutyPercent),
		word:   NewGenerator(1, "lrck", cfg.BaseHz, cfg.WordClockTicks, cfg.DutyPercent),
		ready:  make(chan int, 2),
	}, nil
}

// Start enables both generators
func (s *Synth) Start() error {
	for _, g := range []*Generator{s.bit, s.word} {
		if err := g.Start(s.readyCallback); err != nil {
			s.Stop()
			return fmt.Errorf("failed to start %s: %w", g.Name, err)
		}
	}

	s.logger.Info("Clock generators enabled",
		slog.Float64("bit_clock_hz", s.cfg.BitClockHz()),
		slog.Float64("word_clock_hz", s.cfg.WordClockHz()),
		slog.Int("duty_percent", s.cfg.DutyPercent),
	)
	return nil
}

func (s *Synth) readyCallback(id int) {
	select {
	case s.ready <- id:
	default:
	}
	if s.OnReady != nil {
		s.OnReady(id)
	}
}

// WaitReady blocks until both generators have reported ready
func (s *Synth) WaitReady(ctx context.Context) error {
	seen := map[int]bool{}
	for len(seen) < 2 {
		select {
		case id := <-s.ready:
			seen[id] = true
		case <-ctx.Done():
			return fmt.Errorf("clock generators not ready (%d of 2): %w", len(seen), ctx.Err())
		}
	}
	return nil
}

// Stop disables both generators
func (s *Synth) Stop() {
	s.bit.Stop()
	s.word.Stop()
}

// BitClock returns the bit clock generator
func (s *Synth) BitClock() *Generator {
	return s.bit
}

// WordClock returns the word clock generator
func (s *Synth) WordClock() *Generator {
	return s.word
}

// GeneratorStats is a snapshot of one generator
type GeneratorStats struct {
	Name     string  `json:"name"`
	Hz       float64 `json:"hz"`
	PeriodNs int64   `json:"period_ns"`
	HighNs   int64   `json:"high_ns"`
	Running  bool    `json:"running"`
	Cycles   uint64  `json:"cycles"`
}

// Stats describes both generators at now
type Stats struct {
	BitClock  GeneratorStats `json:"bit_clock"`
	WordClock GeneratorStats `json:"word_clock"`
}

// Stats returns a snapshot of both generators; WordClock.Cycles counts frames
func (s *Synth) Stats(now time.Time) Stats {
	return Stats{
		BitClock:  s.BitClock().snapshot(now),
		WordClock: s.WordClock().snapshot(now),
	}
}

func (g *Generator) snapshot(now time.Time) GeneratorStats {
	period := g.Period()
	return GeneratorStats{
		Name:     g.Name,
		Hz:       float64(g.baseHz) / float64(g.PeriodTicks),
		PeriodNs: period.Nanoseconds(),
		HighNs:   g.HighTime().Nanoseconds(),
		Running:  g.Running(),
		Cycles:   g.Cycles(now),
	}
}

// Config returns the synthesizer configuration
func (s *Synth) Config() Config {
	return s.cfg
}

// Pace calls fn once per interval until ctx is done or fn fails.
// A non-positive interval calls fn back to back.
func Pace(ctx context.Context, interval time.Duration, fn func() error) error {
	if interval <= 0 {
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if err := fn(); err != nil {
				return err
			}
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(); err != nil {
				return err
			}
		}
	}
}
