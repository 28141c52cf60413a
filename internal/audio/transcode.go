package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// BytesPerWord is the size of one captured sample word
const BytesPerWord = 4

// ErrBatchTooLarge is returned when a batch does not fit the transcoder scratch
var ErrBatchTooLarge = errors.New("capture batch exceeds transcoder capacity")

// Transcoder turns batches of captured words into wire-order bytes.
// The output aliases an internal scratch buffer that is reused on every call.
type Transcoder struct {
	native   binary.ByteOrder
	wire     binary.ByteOrder
	maxWords int
	scratch  []byte
}

// NewTranscoder creates a transcoder for batches of up to maxWords words laid out
// in the peripheral's native byte order. Wire order is the opposite.
func NewTranscoder(maxWords int, native binary.ByteOrder) (*Transcoder, error) {
	if maxWords <= 0 {
		return nil, fmt.Errorf("transcoder capacity must be positive, got %d words", maxWords)
	}
	if native == nil {
		return nil, fmt.Errorf("native byte order is required")
	}

	return &Transcoder{
		native:   native,
		wire:     WireOrder(native),
		maxWords: maxWords,
		scratch:  make([]byte, maxWords*BytesPerWord),
	}, nil
}

// Transcode expands each word into 4 bytes in wire order. The returned slice is
// valid until the next call. It never reads past len(words) words nor writes
// past 4*len(words) bytes.
func (t *Transcoder) Transcode(words []uint32) ([]byte, error) {
	if len(words) > t.maxWords {
		return nil, fmt.Errorf("%w: %d words, capacity %d", ErrBatchTooLarge, len(words), t.maxWords)
	}

	for i, w := range words {
		t.wire.PutUint32(t.scratch[i*BytesPerWord:], w)
	}
	return t.scratch[:len(words)*BytesPerWord], nil
}

// MaxWords returns the largest batch the transcoder accepts
func (t *Transcoder) MaxWords() int {
	return t.maxWords
}

// Wire returns the byte order written to the sink
func (t *Transcoder) Wire() binary.ByteOrder {
	return t.wire
}

// WireOrder returns the byte order that reverses the layout of native
func WireOrder(native binary.ByteOrder) binary.ByteOrder {
	if isLittle(native) {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func isLittle(order binary.ByteOrder) bool {
	var probe [2]byte
	order.PutUint16(probe[:], 0x0102)
	return probe[0] == 0x02
}

// ParseByteOrder converts a configuration name into a byte order
func ParseByteOrder(name string) (binary.ByteOrder, error) {
	switch name {
	case "big", "":
		return binary.BigEndian, nil
	case "little":
		return binary.LittleEndian, nil
	case "native":
		return binary.NativeEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order %q (want big, little or native)", name)
	}
}
