package protocol

import (
	"encoding/binary"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid heartbeat header",
			data: []byte{
				0x01,       // PacketType: Heartbeat
				0x00, 0x08, // PacketLen: 8
				0x00, 0x00, 0x30, 0x39, // Sequence: 12345
				0x01, // Channel: Left
			},
			expected: &Header{
				PacketType: PacketTypeHeartbeat,
				PacketLen:  8,
				Sequence:   12345,
				Channel:    ChannelLeft,
			},
			expectError: false,
		},
		{
			name: "valid batch header",
			data: []byte{
				0x02,       // PacketType: Batch
				0x00, 0x88, // PacketLen: 136 (8 + 32*4)
				0x12, 0x34, 0x56, 0x78, // Sequence: 305419896
				0x03, // Channel: Stereo
			},
			expected: &Header{
				PacketType: PacketTypeBatch,
				PacketLen:  136,
				Sequence:   305419896,
				Channel:    ChannelStereo,
			},
			expectError: false,
		},
		{
			name:        "header too short",
			data:        []byte{0x01, 0x00},
			expected:    nil,
			expectError: true,
			errorMsg:    "header too short",
		},
		{
			name:        "empty data",
			data:        []byte{},
			expected:    nil,
			expectError: true,
			errorMsg:    "header too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseHeader(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if !headersEqual(result, tt.expected) {
					t.Errorf("Expected header %+v, got %+v", tt.expected, result)
				}
			}
		})
	}
}

func TestParseWords(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		room        int
		expected    []uint32
		expectError bool
		errorMsg    string
	}{
		{
			name:     "two words",
			data:     []byte{0xAA, 0xBB, 0xCC, 0xDD, 0x00, 0x00, 0x00, 0x01},
			room:     4,
			expected: []uint32{0xAABBCCDD, 1},
		},
		{
			name:     "empty payload",
			data:     []byte{},
			room:     4,
			expected: []uint32{},
		},
		{
			name:        "not word aligned",
			data:        []byte{0x01, 0x02, 0x03},
			room:        4,
			expectError: true,
			errorMsg:    "not word aligned",
		},
		{
			name:        "destination too small",
			data:        make([]byte, 12),
			room:        2,
			expectError: true,
			errorMsg:    "batch too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := make([]uint32, tt.room)
			n, err := ParseWords(dst, tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if n != len(tt.expected) {
				t.Fatalf("Expected %d words, got %d", len(tt.expected), n)
			}
			for i, w := range tt.expected {
				if dst[i] != w {
					t.Errorf("Word %d: expected 0x%08X, got 0x%08X", i, w, dst[i])
				}
			}
		})
	}
}

func TestParsePacket(t *testing.T) {
	batch := createTestBatchPacket(t)
	heartbeat := EncodeHeartbeat(7, ChannelLeft)

	tests := []struct {
		name        string
		data        []byte
		expectError bool
		errorMsg    string
		validate    func(*Packet) bool
	}{
		{
			name:        "valid batch packet",
			data:        batch,
			expectError: false,
			validate: func(p *Packet) bool {
				return p.Header != nil &&
					p.Header.PacketType == PacketTypeBatch &&
					len(p.Payload) == 2*WordSize
			},
		},
		{
			name:        "valid heartbeat packet",
			data:        heartbeat,
			expectError: false,
			validate: func(p *Packet) bool {
				return p.Header != nil &&
					p.Header.PacketType == PacketTypeHeartbeat &&
					p.Header.Sequence == 7 &&
					len(p.Payload) == 0
			},
		},
		{
			name:        "packet too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
			errorMsg:    "packet too short",
		},
		{
			name:        "invalid packet type",
			data:        createInvalidPacketTypePacket(),
			expectError: true,
			errorMsg:    "invalid packet type",
		},
		{
			name:        "packet length mismatch",
			data:        createPacketLengthMismatch(),
			expectError: true,
			errorMsg:    "packet length mismatch",
		},
		{
			name:        "misaligned batch",
			data:        createMisalignedBatch(),
			expectError: true,
			errorMsg:    "not word aligned",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParsePacket(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if tt.validate != nil && !tt.validate(result) {
					t.Errorf("Validation failed for result: %+v", result)
				}
			}
		})
	}
}

func TestValidateHeader(t *testing.T) {
	tests := []struct {
		name        string
		header      *Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid heartbeat header",
			header: &Header{
				PacketType: PacketTypeHeartbeat,
				PacketLen:  HeaderSize,
				Sequence:   12345,
				Channel:    ChannelLeft,
			},
			expectError: false,
		},
		{
			name: "valid batch header",
			header: &Header{
				PacketType: PacketTypeBatch,
				PacketLen:  HeaderSize + 128,
				Sequence:   67890,
				Channel:    ChannelRight,
			},
			expectError: false,
		},
		{
			name: "invalid packet type",
			header: &Header{
				PacketType: 0x99,
				PacketLen:  HeaderSize,
				Channel:    ChannelLeft,
			},
			expectError: true,
			errorMsg:    "invalid packet type",
		},
		{
			name: "invalid channel",
			header: &Header{
				PacketType: PacketTypeBatch,
				PacketLen:  HeaderSize + 4,
				Channel:    0x99,
			},
			expectError: true,
			errorMsg:    "invalid channel",
		},
		{
			name: "packet length too small",
			header: &Header{
				PacketType: PacketTypeHeartbeat,
				PacketLen:  5,
				Channel:    ChannelLeft,
			},
			expectError: true,
			errorMsg:    "packet length too small",
		},
		{
			name: "heartbeat with payload",
			header: &Header{
				PacketType: PacketTypeHeartbeat,
				PacketLen:  HeaderSize + 4,
				Channel:    ChannelLeft,
			},
			expectError: true,
			errorMsg:    "heartbeat packet carries",
		},
		{
			name: "empty batch",
			header: &Header{
				PacketType: PacketTypeBatch,
				PacketLen:  HeaderSize,
				Channel:    ChannelLeft,
			},
			expectError: true,
			errorMsg:    "batch packet has no words",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHeader(tt.header)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			}
		})
	}
}

func TestEncodeBatchRoundTrip(t *testing.T) {
	words := make([]uint32, 32)
	for i := range words {
		words[i] = uint32(i) << 8
	}

	data, err := EncodeBatch(42, ChannelRight, words)
	if err != nil {
		t.Fatalf("EncodeBatch failed: %v", err)
	}
	if len(data) != HeaderSize+32*WordSize {
		t.Errorf("Expected %d bytes, got %d", HeaderSize+32*WordSize, len(data))
	}

	packet, err := ParsePacket(data)
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}
	if packet.Header.Sequence != 42 || packet.Header.Channel != ChannelRight {
		t.Errorf("Unexpected header %s", packet.Header)
	}

	decoded := make([]uint32, len(words))
	n, err := ParseWords(decoded, packet.Payload)
	if err != nil || n != len(words) {
		t.Fatalf("ParseWords returned %d, %v", n, err)
	}
	for i := range words {
		if decoded[i] != words[i] {
			t.Errorf("Word %d: expected 0x%08X, got 0x%08X", i, words[i], decoded[i])
		}
	}
}

func TestEncodeBatchInvalid(t *testing.T) {
	if _, err := EncodeBatch(0, ChannelLeft, nil); err == nil {
		t.Error("Expected error for empty batch")
	}
	if _, err := EncodeBatch(0, 0x07, []uint32{1}); err == nil {
		t.Error("Expected error for invalid channel")
	}
	if _, err := EncodeBatch(0, ChannelLeft, make([]uint32, MaxBatchWords+1)); err == nil {
		t.Error("Expected error for oversized batch")
	}
}

func TestIsValidPacketType(t *testing.T) {
	tests := []struct {
		packetType uint8
		expected   bool
	}{
		{PacketTypeHeartbeat, true},
		{PacketTypeBatch, true},
		{0x00, false},
		{0x03, false},
		{0xFF, false},
	}

	for _, tt := range tests {
		result := IsValidPacketType(tt.packetType)
		if result != tt.expected {
			t.Errorf("IsValidPacketType(0x%02x) = %v, expected %v", tt.packetType, result, tt.expected)
		}
	}
}

func TestIsValidChannel(t *testing.T) {
	tests := []struct {
		channel  uint8
		expected bool
	}{
		{ChannelLeft, true},
		{ChannelRight, true},
		{ChannelStereo, true},
		{0x00, false},
		{0x04, false},
	}

	for _, tt := range tests {
		result := IsValidChannel(tt.channel)
		if result != tt.expected {
			t.Errorf("IsValidChannel(0x%02x) = %v, expected %v", tt.channel, result, tt.expected)
		}
	}
}

func TestHeaderString(t *testing.T) {
	header := &Header{
		PacketType: PacketTypeBatch,
		PacketLen:  136,
		Sequence:   12345,
		Channel:    ChannelStereo,
	}
	headerStr := header.String()
	if !contains(headerStr, "Batch") || !contains(headerStr, "12345") || !contains(headerStr, "stereo") {
		t.Errorf("Header.String() missing expected content: %s", headerStr)
	}
}

// Helper functions for tests

func createTestBatchPacket(t *testing.T) []byte {
	t.Helper()

	packetLen := HeaderSize + 2*WordSize

	data := make([]byte, packetLen)
	data[0] = PacketTypeBatch
	binary.BigEndian.PutUint16(data[1:], uint16(packetLen))
	binary.BigEndian.PutUint32(data[3:], 67890)
	data[7] = ChannelLeft
	binary.BigEndian.PutUint32(data[8:], 0x12345600)
	binary.BigEndian.PutUint32(data[12:], 0xFEDCBA00)
	return data
}

func createInvalidPacketTypePacket() []byte {
	data := make([]byte, HeaderSize+4)
	data[0] = 0x99 // Invalid packet type
	binary.BigEndian.PutUint16(data[1:], uint16(len(data)))
	binary.BigEndian.PutUint32(data[3:], 12345)
	data[7] = ChannelLeft
	return data
}

func createPacketLengthMismatch() []byte {
	data := make([]byte, HeaderSize+4)
	data[0] = PacketTypeBatch
	binary.BigEndian.PutUint16(data[1:], 999) // Wrong length
	binary.BigEndian.PutUint32(data[3:], 12345)
	data[7] = ChannelLeft
	return data
}

func createMisalignedBatch() []byte {
	data := make([]byte, HeaderSize+6)
	data[0] = PacketTypeBatch
	binary.BigEndian.PutUint16(data[1:], uint16(len(data)))
	data[7] = ChannelLeft
	return data
}

func headersEqual(a, b *Header) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.PacketType == b.PacketType &&
		a.PacketLen == b.PacketLen &&
		a.Sequence == b.Sequence &&
		a.Channel == b.Channel
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 ||
		(len(s) > len(substr) && findSubstring(s, substr)))
}

func findSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
