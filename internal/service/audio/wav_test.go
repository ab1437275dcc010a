package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestEncodeWAV_ReadHeaderRoundTrip(t *testing.T) {
	pcm := EncodePCM16(make([]float32, 16000))
	wav, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Errorf("expected %d bytes, got %d", 44+len(pcm), len(wav))
	}

	r := bytes.NewReader(wav)
	info, err := ReadWAVHeader(r)
	if err != nil {
		t.Fatalf("ReadWAVHeader failed: %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 || info.BitsPerSample != 16 || info.AudioFormat != 1 {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.Duration() != 1 {
		t.Errorf("expected 1s duration, got %v", info.Duration())
	}

	rest, _ := io.ReadAll(r)
	if len(rest) != len(pcm) {
		t.Errorf("expected reader positioned at data, %d bytes left", len(rest))
	}
}

func TestReadWAVHeader_SkipsUnknownChunks(t *testing.T) {
	wav, _ := EncodeWAV([]byte{1, 0, 2, 0}, 8000)

	// Splice a LIST chunk (odd size, padded) between fmt and data.
	var spliced bytes.Buffer
	spliced.Write(wav[:36])
	spliced.WriteString("LIST")
	_ = binary.Write(&spliced, binary.LittleEndian, uint32(3))
	spliced.Write([]byte{'a', 'b', 'c', 0})
	spliced.Write(wav[36:])

	info, err := ReadWAVHeader(&spliced)
	if err != nil {
		t.Fatalf("ReadWAVHeader failed: %v", err)
	}
	if info.DataSize != 4 {
		t.Errorf("expected data size 4, got %d", info.DataSize)
	}
}

func TestReadWAVHeader_NotWAV(t *testing.T) {
	_, err := ReadWAVHeader(bytes.NewReader([]byte("this is not a wav file")))
	if !errors.Is(err, ErrNotWAV) {
		t.Errorf("expected ErrNotWAV, got %v", err)
	}
}

func TestEncodeWAV_InvalidInput(t *testing.T) {
	if _, err := EncodeWAV([]byte{0, 0}, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := EncodeWAV([]byte{0}, 16000); err == nil {
		t.Error("expected error for odd pcm length")
	}
}
