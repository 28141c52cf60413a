package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/i2s-serial-bridge/internal/protocol"
)

// UDPConfig configures the network capture source
type UDPConfig struct {
	BindAddress string
	Port        int
	BufferSize  int // socket read buffer and datagram size limit
	QueueSize   int
	BatchWords  int // largest batch accepted
	Channels    Channels
}

// UDPSource receives batch datagrams from a remote capture device. A single
// processor goroutine delivers batches so the handler sees one producer.
type UDPSource struct {
	config *UDPConfig
	logger *slog.Logger

	conn net.PacketConn
	wg   sync.WaitGroup

	// Packet processing
	packetChan chan *incomingPacket
	words      []uint32
	ready      chan struct{}

	packetsReceived  uint64
	packetsProcessed uint64
	parseErrors      uint64
	queueDrops       uint64
	channelMismatch  uint64
	heartbeats       uint64
	lostBatches      uint64
	lastSequence     uint32
	haveSequence     bool
	mu               sync.RWMutex
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr net.Addr
	timestamp  time.Time
}

// UDPStatistics represents network source counters
type UDPStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	ParseErrors      uint64 `json:"parse_errors"`
	QueueDrops       uint64 `json:"queue_drops"`
	ChannelMismatch  uint64 `json:"channel_mismatch"`
	Heartbeats       uint64 `json:"heartbeats"`
	LostBatches      uint64 `json:"lost_batches"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}

// NewUDPSource creates a new UDP capture source
func NewUDPSource(cfg *UDPConfig, logger *slog.Logger) *UDPSource {
	return &UDPSource{
		config:     cfg,
		logger:     logger,
		packetChan: make(chan *incomingPacket, cfg.QueueSize),
		words:      make([]uint32, cfg.BatchWords),
		ready:      make(chan struct{}),
	}
}

// Name returns the source name
func (s *UDPSource) Name() string {
	return "udp"
}

// Ready is closed once the socket is listening
func (s *UDPSource) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or nil before Run has started listening
func (s *UDPSource) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Run listens for datagrams and delivers their batches until ctx is done
func (s *UDPSource) Run(ctx context.Context, deliver BatchFunc) error {
	addr := net.JoinHostPort(s.config.BindAddress, fmt.Sprintf("%d", s.config.Port))

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	if udp, ok := conn.(*net.UDPConn); ok {
		if err := udp.SetReadBuffer(s.config.BufferSize); err != nil {
			s.logger.Warn("Failed to set UDP read buffer size",
				slog.Int("buffer_size", s.config.BufferSize),
				slog.String("error", err.Error()),
			)
		}
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("UDP capture source started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
		slog.String("channels", s.config.Channels.String()),
	)

	s.wg.Add(1)
	go s.packetProcessor(deliver)

	s.wg.Add(1)
	go s.receiveLoop(ctx)

	<-ctx.Done()
	s.stop()
	return nil
}

func (s *UDPSource) stop() {
	s.logger.Info("Stopping UDP capture source...")

	// Close UDP connection to unblock the receive loop
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
	}

	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP capture source stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("lost_batches", stats.LostBatches),
	)
}

// receiveLoop is the main packet receiving loop
func (s *UDPSource) receiveLoop(ctx context.Context) {
	defer s.wg.Done()
	// Close packet channel to signal the processor to stop
	defer close(s.packetChan)

	buffer := make([]byte, s.config.BufferSize)

	for {
		n, remoteAddr, err := s.conn.ReadFrom(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()

		// Create packet data copy (buffer will be reused)
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case s.packetChan <- packet:
		default:
			s.mu.Lock()
			s.queueDrops++
			s.mu.Unlock()

			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor is the only goroutine that calls deliver
func (s *UDPSource) packetProcessor(deliver BatchFunc) {
	defer s.wg.Done()

	s.logger.Debug("Packet processor started")

	for packet := range s.packetChan {
		s.handlePacket(packet, deliver)
	}

	s.logger.Debug("Packet processor stopped")
}

// handlePacket parses a datagram and delivers its batch
func (s *UDPSource) handlePacket(packet *incomingPacket, deliver BatchFunc) {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()

		s.logger.Error("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
		)
		return
	}
	header := parsed.Header

	s.mu.Lock()
	s.packetsProcessed++
	lost := s.trackSequence(header.Sequence)
	s.mu.Unlock()

	if lost > 0 {
		s.logger.Warn("Sequence gap in capture stream",
			slog.Uint64("sequence", uint64(header.Sequence)),
			slog.Uint64("lost", uint64(lost)),
		)
	}

	switch header.PacketType {
	case protocol.PacketTypeHeartbeat:
		s.mu.Lock()
		s.heartbeats++
		s.mu.Unlock()
	case protocol.PacketTypeBatch:
		if Channels(header.Channel) != s.config.Channels {
			s.mu.Lock()
			s.channelMismatch++
			s.mu.Unlock()

			s.logger.Warn("Dropping batch for another channel selection",
				slog.String("expected", s.config.Channels.String()),
				slog.String("received", protocol.ChannelString(header.Channel)),
			)
			return
		}

		n, err := protocol.ParseWords(s.words, parsed.Payload)
		if err != nil {
			s.mu.Lock()
			s.parseErrors++
			s.mu.Unlock()

			s.logger.Error("Failed to decode batch", slog.String("error", err.Error()))
			return
		}
		deliver(s.words[:n], nil)
	}
}

// trackSequence returns the number of datagrams missing before seq. Caller holds mu.
func (s *UDPSource) trackSequence(seq uint32) uint32 {
	if !s.haveSequence {
		s.lastSequence = seq
		s.haveSequence = true
		return 0
	}

	// wrap-around safe; late or duplicate datagrams leave the cursor alone
	gap := seq - s.lastSequence
	if gap == 0 || gap >= 1<<31 {
		return 0
	}
	s.lastSequence = seq
	s.lostBatches += uint64(gap - 1)
	return gap - 1
}

// GetStatistics returns current source statistics
func (s *UDPSource) GetStatistics() UDPStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return UDPStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		ParseErrors:      s.parseErrors,
		QueueDrops:       s.queueDrops,
		ChannelMismatch:  s.channelMismatch,
		Heartbeats:       s.heartbeats,
		LostBatches:      s.lostBatches,
		QueueSize:        uint64(len(s.packetChan)),
		QueueCapacity:    uint64(cap(s.packetChan)),
	}
}
