package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo describes the PCM stream inside a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumFrames     uint32  `json:"num_frames"`
}

// EncodeWAV encodes interleaved signed PCM samples into a WAV file.
// Supported depths are 16, 24 and 32 bits.
func EncodeWAV(samples []int32, sampleRate, channels, bitsPerSample int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}
	if !supportedDepth(bitsPerSample) {
		return nil, fmt.Errorf("unsupported bit depth: %d (want 16, 24 or 32)", bitsPerSample)
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("sample count %d is not a multiple of %d channels", len(samples), channels)
	}

	bytesPerSample := bitsPerSample / 8
	dataSize := uint32(len(samples) * bytesPerSample)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * bytesPerSample),
		BlockAlign:    uint16(channels * bytesPerSample),
		BitsPerSample: uint16(bitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+int(dataSize)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	var sample [4]byte
	for _, s := range samples {
		binary.LittleEndian.PutUint32(sample[:], uint32(s))
		buf.Write(sample[:bytesPerSample])
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes a PCM WAV file into interleaved, sign-extended samples.
// Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(data []byte) ([]int32, *WAVInfo, error) {
	if len(data) < 12 {
		return nil, nil, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		info    WAVInfo
		haveFmt bool
		pcm     []byte
	)

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if size < 0 || body+size > len(data) {
			return nil, nil, fmt.Errorf("invalid WAV file: chunk %q overruns file", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, nil, fmt.Errorf("invalid WAV file: fmt chunk too short (%d bytes)", size)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return nil, nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", audioFormat)
			}
			info.Channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			info.SampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			info.BitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		// chunks are word aligned
		offset = body + size + size%2
	}

	if !haveFmt {
		return nil, nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if pcm == nil {
		return nil, nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	if !supportedDepth(int(info.BitsPerSample)) {
		return nil, nil, fmt.Errorf("unsupported bit depth: %d (want 16, 24 or 32)", info.BitsPerSample)
	}
	if info.Channels == 0 || info.SampleRate == 0 {
		return nil, nil, fmt.Errorf("invalid WAV file: %d channels at %d Hz", info.Channels, info.SampleRate)
	}

	bytesPerSample := int(info.BitsPerSample) / 8
	numSamples := len(pcm) / bytesPerSample
	if numSamples == 0 {
		return nil, nil, fmt.Errorf("no audio data found")
	}

	samples := make([]int32, numSamples)
	for i := range samples {
		samples[i] = decodeSample(pcm[i*bytesPerSample:], bytesPerSample)
	}

	info.DataSize = uint32(len(pcm))
	info.NumFrames = uint32(numSamples / int(info.Channels))
	info.Duration = float64(info.NumFrames) / float64(info.SampleRate)

	return samples, &info, nil
}

// LeftJustify places a signed sample of the given width in the top bits of a
// capture word, the way the peripheral delivers it.
func LeftJustify(sample int32, bits int) uint32 {
	if bits <= 0 || bits >= 32 {
		return uint32(sample)
	}
	return uint32(sample) << (32 - bits)
}

func decodeSample(b []byte, width int) int32 {
	switch width {
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case 3:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		return v << 8 >> 8 // sign-extend 24 bits
	default:
		return int32(binary.LittleEndian.Uint32(b))
	}
}

func supportedDepth(bits int) bool {
	return bits == 16 || bits == 24 || bits == 32
}
