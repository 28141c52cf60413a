package sink

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.bug.st/serial"
)

// Output kinds
const (
	OutputSerial = "serial"
	OutputFile   = "file"
	OutputStdout = "stdout"
)

// BitsPerByte is the line cost of one byte with 8N1 framing
const BitsPerByte = 10

// OutputConfig selects and configures the physical output behind the FIFO
type OutputConfig struct {
	Kind       string
	Device     string // serial device
	Path       string // file output
	BaudRate   int
	RTSCTS     bool
	FIFOSize   int
	WriteChunk int
	Pace       bool // emulate the baud rate on file and stdout outputs
}

// LineRate returns the byte rate of the configured serial framing
func (c OutputConfig) LineRate() float64 {
	return float64(c.BaudRate) / BitsPerByte
}

// Open creates the configured output and the FIFO in front of it
func Open(cfg OutputConfig, logger *slog.Logger) (*FIFO, error) {
	fifoCfg := FIFOConfig{
		Size:       cfg.FIFOSize,
		WriteChunk: cfg.WriteChunk,
	}

	var w io.Writer
	switch cfg.Kind {
	case OutputSerial:
		port, err := OpenSerial(cfg.Device, cfg.BaudRate, cfg.RTSCTS)
		if err != nil {
			return nil, err
		}
		w = port
		if cfg.RTSCTS {
			fifoCfg.CTS = port.CTS
		}
	case OutputFile:
		file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open output file %s: %w", cfg.Path, err)
		}
		w = file
		if cfg.Pace {
			fifoCfg.BytesPerSecond = cfg.LineRate()
		}
	case OutputStdout:
		// never closed
		w = struct{ io.Writer }{os.Stdout}
		if cfg.Pace {
			fifoCfg.BytesPerSecond = cfg.LineRate()
		}
	default:
		return nil, fmt.Errorf("unknown sink output %q", cfg.Kind)
	}

	fifo, err := NewFIFO(w, fifoCfg, logger)
	if err != nil {
		if c, ok := w.(io.Closer); ok {
			c.Close()
		}
		return nil, err
	}

	logger.Info("Sink opened",
		slog.String("output", cfg.Kind),
		slog.String("device", cfg.Device),
		slog.String("path", cfg.Path),
		slog.Int("baud_rate", cfg.BaudRate),
		slog.Bool("rtscts", cfg.RTSCTS),
		slog.Int("fifo_size", cfg.FIFOSize),
		slog.Float64("paced_bytes_per_second", fifoCfg.BytesPerSecond),
	)
	return fifo, nil
}

// SerialPort is a UART opened with 8N1 framing
type SerialPort struct {
	serial.Port
	name string
}

// OpenSerial opens a serial device. With rtscts the RTS line is asserted so
// the peer may send, and CTS gates our transmission.
func OpenSerial(name string, baud int, rtscts bool) (*SerialPort, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	if rtscts {
		if err := port.SetRTS(true); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to assert RTS on %s: %w", name, err)
		}
	}

	return &SerialPort{Port: port, name: name}, nil
}

// CTS reports the clear-to-send modem line
func (p *SerialPort) CTS() (bool, error) {
	bits, err := p.GetModemStatusBits()
	if err != nil {
		return false, err
	}
	return bits.CTS, nil
}

// Close waits for the transmit buffer to empty and closes the port
func (p *SerialPort) Close() error {
	if err := p.Drain(); err != nil {
		p.Port.Close()
		return fmt.Errorf("failed to drain serial port %s: %w", p.name, err)
	}
	return p.Port.Close()
}

// ListPorts returns the serial devices present on the system
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
