package capture

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/skypro1111/i2s-serial-bridge/internal/protocol"
)

func startUDPSource(t *testing.T, channels Channels) (*UDPSource, net.Conn, <-chan []uint32, func()) {
	t.Helper()

	src := NewUDPSource(&UDPConfig{
		BindAddress: "127.0.0.1",
		Port:        0,
		BufferSize:  4096,
		QueueSize:   64,
		BatchWords:  32,
		Channels:    channels,
	}, discardLogger())

	batches := make(chan []uint32, 64)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, func(rx, tx []uint32) {
			batches <- append([]uint32(nil), rx...)
		})
	}()

	select {
	case <-src.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("UDP source failed to start: %v", err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("Timed out waiting for UDP source")
	}

	conn, err := net.Dial("udp", src.Addr().String())
	if err != nil {
		cancel()
		t.Fatalf("Failed to dial UDP source: %v", err)
	}

	stop := func() {
		conn.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Timed out waiting for UDP source to stop")
		}
	}
	return src, conn, batches, stop
}

func receiveBatch(t *testing.T, batches <-chan []uint32) []uint32 {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for batch")
		return nil
	}
}

func TestUDPSourceDeliversBatches(t *testing.T) {
	src, conn, batches, stop := startUDPSource(t, ChannelsLeft)
	defer stop()

	words := []uint32{0xAABBCC00, 0x11223300}
	packet, _ := protocol.EncodeBatch(1, protocol.ChannelLeft, words)
	if _, err := conn.Write(packet); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got := receiveBatch(t, batches)
	if len(got) != 2 || got[0] != words[0] || got[1] != words[1] {
		t.Errorf("Expected %08X, got %08X", words, got)
	}

	// Sequence 4 after 1: two batches lost
	packet, _ = protocol.EncodeBatch(4, protocol.ChannelLeft, words)
	conn.Write(packet)
	receiveBatch(t, batches)

	stats := src.GetStatistics()
	if stats.PacketsProcessed != 2 {
		t.Errorf("Expected 2 packets processed, got %d", stats.PacketsProcessed)
	}
	if stats.LostBatches != 2 {
		t.Errorf("Expected 2 lost batches, got %d", stats.LostBatches)
	}
}

func TestUDPSourceRejectsBadDatagrams(t *testing.T) {
	src, conn, batches, stop := startUDPSource(t, ChannelsLeft)
	defer stop()

	// malformed, other channel, heartbeat, then a valid batch as a marker
	conn.Write([]byte{0x02, 0x00})
	wrongChannel, _ := protocol.EncodeBatch(1, protocol.ChannelRight, []uint32{1})
	conn.Write(wrongChannel)
	conn.Write(protocol.EncodeHeartbeat(2, protocol.ChannelLeft))
	tooLarge, _ := protocol.EncodeBatch(3, protocol.ChannelLeft, make([]uint32, 33))
	conn.Write(tooLarge)
	marker, _ := protocol.EncodeBatch(4, protocol.ChannelLeft, []uint32{0xCAFE0000})
	conn.Write(marker)

	got := receiveBatch(t, batches)
	if len(got) != 1 || got[0] != 0xCAFE0000 {
		t.Fatalf("Expected only the marker batch, got %08X", got)
	}

	stats := src.GetStatistics()
	if stats.ParseErrors != 2 {
		t.Errorf("Expected 2 parse errors, got %d", stats.ParseErrors)
	}
	if stats.ChannelMismatch != 1 {
		t.Errorf("Expected 1 channel mismatch, got %d", stats.ChannelMismatch)
	}
	if stats.Heartbeats != 1 {
		t.Errorf("Expected 1 heartbeat, got %d", stats.Heartbeats)
	}
}

func TestTrackSequence(t *testing.T) {
	s := &UDPSource{}

	tests := []struct {
		seq  uint32
		lost uint32
	}{
		{seq: 10, lost: 0},
		{seq: 11, lost: 0},
		{seq: 14, lost: 2},
		{seq: 12, lost: 0}, // late
		{seq: 14, lost: 0}, // duplicate
		{seq: 15, lost: 0},
	}

	for _, tt := range tests {
		if got := s.trackSequence(tt.seq); got != tt.lost {
			t.Errorf("trackSequence(%d): expected %d lost, got %d", tt.seq, tt.lost, got)
		}
	}

	s.lastSequence = 0xFFFFFFFF
	if got := s.trackSequence(1); got != 1 {
		t.Errorf("Expected 1 lost across wrap-around, got %d", got)
	}
	if s.lostBatches != 3 {
		t.Errorf("Expected 3 lost batches in total, got %d", s.lostBatches)
	}
}
