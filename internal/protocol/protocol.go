package protocol

import (
	"encoding/binary"
	"fmt"
)

// Protocol constants
const (
	// Packet types
	PacketTypeHeartbeat = 0x01
	PacketTypeBatch     = 0x02

	// Channel selections
	ChannelLeft   = 0x01
	ChannelRight  = 0x02
	ChannelStereo = 0x03

	// Packet structure sizes
	HeaderSize = 8 // 1 + 2 + 4 + 1 bytes
	WordSize   = 4

	// MaxPacketSize is the largest datagram PacketLen can describe
	MaxPacketSize = 0xFFFF
	// MaxBatchWords is the largest batch one datagram can carry
	MaxBatchWords = (MaxPacketSize - HeaderSize) / WordSize
)

// Header represents the 8-byte datagram header
// Layout: [PacketType:1][PacketLen:2][Sequence:4][Channel:1]
type Header struct {
	PacketType uint8  // 0x01=Heartbeat, 0x02=Batch
	PacketLen  uint16 // Total packet size (header + payload)
	Sequence   uint32 // Incremented per datagram by the sender
	Channel    uint8  // 0x01=Left, 0x02=Right, 0x03=Stereo
}

// Packet represents a validated datagram
type Packet struct {
	Header  *Header
	Payload []byte // batch words, still big-endian; empty for heartbeats
}

// ParseHeader parses the 8-byte datagram header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		Sequence:   binary.BigEndian.Uint32(data[3:7]),
		Channel:    data[7],
	}

	return header, nil
}

// ParseWords decodes a batch payload of big-endian words into dst, which must
// hold at least len(data)/4 words. Returns the number of words decoded.
func ParseWords(dst []uint32, data []byte) (int, error) {
	if len(data)%WordSize != 0 {
		return 0, fmt.Errorf("batch payload not word aligned: %d bytes", len(data))
	}
	n := len(data) / WordSize
	if len(dst) < n {
		return 0, fmt.Errorf("batch too large: %d words, room for %d", n, len(dst))
	}

	for i := 0; i < n; i++ {
		dst[i] = binary.BigEndian.Uint32(data[i*WordSize:])
	}
	return n, nil
}

// ParsePacket parses and validates a complete datagram (header + payload).
// The payload aliases data; decode it with ParseWords.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	return &Packet{Header: header, Payload: data[HeaderSize:]}, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if !IsValidChannel(header.Channel) {
		return fmt.Errorf("invalid channel: 0x%02x", header.Channel)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeHeartbeat:
		if payloadSize != 0 {
			return fmt.Errorf("heartbeat packet carries %d payload bytes", payloadSize)
		}
	case PacketTypeBatch:
		if payloadSize == 0 {
			return fmt.Errorf("batch packet has no words")
		}
		if payloadSize%WordSize != 0 {
			return fmt.Errorf("batch payload not word aligned: %d bytes", payloadSize)
		}
	}

	return nil
}

// EncodeBatch builds a batch datagram for the given words
func EncodeBatch(sequence uint32, channel uint8, words []uint32) ([]byte, error) {
	if len(words) == 0 {
		return nil, fmt.Errorf("cannot encode empty batch")
	}
	if len(words) > MaxBatchWords {
		return nil, fmt.Errorf("batch too large: %d words (maximum %d)", len(words), MaxBatchWords)
	}
	if !IsValidChannel(channel) {
		return nil, fmt.Errorf("invalid channel: 0x%02x", channel)
	}

	data := make([]byte, HeaderSize+len(words)*WordSize)
	putHeader(data, PacketTypeBatch, sequence, channel)
	for i, w := range words {
		binary.BigEndian.PutUint32(data[HeaderSize+i*WordSize:], w)
	}
	return data, nil
}

// EncodeHeartbeat builds a heartbeat datagram
func EncodeHeartbeat(sequence uint32, channel uint8) []byte {
	data := make([]byte, HeaderSize)
	putHeader(data, PacketTypeHeartbeat, sequence, channel)
	return data
}

func putHeader(data []byte, ptype uint8, sequence uint32, channel uint8) {
	data[0] = ptype
	binary.BigEndian.PutUint16(data[1:3], uint16(len(data)))
	binary.BigEndian.PutUint32(data[3:7], sequence)
	data[7] = channel
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeHeartbeat || ptype == PacketTypeBatch
}

// IsValidChannel checks if the channel selection is valid
func IsValidChannel(ch uint8) bool {
	return ch == ChannelLeft || ch == ChannelRight || ch == ChannelStereo
}

// ChannelString converts a channel code to its configuration name
func ChannelString(ch uint8) string {
	switch ch {
	case ChannelLeft:
		return "left"
	case ChannelRight:
		return "right"
	case ChannelStereo:
		return "stereo"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", ch)
	}
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeHeartbeat:
		packetType = "Heartbeat"
	case PacketTypeBatch:
		packetType = "Batch"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, Sequence:%d, Channel:%s}",
		packetType, h.PacketLen, h.Sequence, ChannelString(h.Channel))
}
