package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WAVInfo describes the PCM stream following a WAV header.
type WAVInfo struct {
	AudioFormat   uint16 `json:"audio_format"`
	SampleRate    uint32 `json:"sample_rate"`
	Channels      uint16 `json:"channels"`
	BitsPerSample uint16 `json:"bits_per_sample"`
	DataSize      uint32 `json:"data_size_bytes"`
}

// Duration returns the playback length of the data chunk in seconds.
func (w WAVInfo) Duration() float64 {
	if w.SampleRate == 0 || w.Channels == 0 || w.BitsPerSample == 0 {
		return 0
	}
	frame := uint32(w.Channels) * uint32(w.BitsPerSample) / 8
	return float64(w.DataSize/frame) / float64(w.SampleRate)
}

// ErrNotWAV is returned when the stream does not start with a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// ReadWAVHeader consumes chunks from r up to the start of the data chunk.
// Unknown chunks (LIST, fact, ...) are skipped. On return r is positioned
// at the first sample.
func ReadWAVHeader(r io.Reader) (*WAVInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	info := &WAVInfo{}
	sawFmt := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, fmt.Errorf("failed to read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("invalid fmt chunk size %d", size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			info.AudioFormat = binary.LittleEndian.Uint16(body[0:2])
			info.Channels = binary.LittleEndian.Uint16(body[2:4])
			info.SampleRate = binary.LittleEndian.Uint32(body[4:8])
			info.BitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			sawFmt = true
		case "data":
			if !sawFmt {
				return nil, errors.New("data chunk before fmt chunk")
			}
			info.DataSize = size
			return info, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return nil, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
}

// EncodeWAV wraps mono PCM16 samples in a canonical 44-byte WAV header.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if len(pcm)%BytesPerSample != 0 {
		return nil, fmt.Errorf("pcm16 data has odd length %d", len(pcm))
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	dataSize := uint32(len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(buf, binary.LittleEndian, struct {
		Size          uint32
		AudioFormat   uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
	}{16, 1, 1, uint32(sampleRate), uint32(sampleRate) * BytesPerSample, BytesPerSample, 16})
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataSize)
	buf.Write(pcm)
	return buf.Bytes(), nil
}
