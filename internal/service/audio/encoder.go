package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BytesPerSample is the size of one encoded PCM16 sample.
const BytesPerSample = 2

// EncodePCM16 converts float samples to signed 16-bit little-endian PCM.
// Samples are clamped to [-1, 1]; negatives scale by 32768, the rest by 32767,
// rounded to the nearest step.
// NaN encodes as silence. The result is always 2*len(samples) bytes.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(floatToInt16(s)))
	}
	return out
}

// DecodePCM16 is the inverse of EncodePCM16 within 16-bit precision.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("pcm16 data has odd length %d", len(data))
	}
	out := make([]float32, len(data)/BytesPerSample)
	for i := range out {
		out[i] = Int16ToFloat(int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:])))
	}
	return out, nil
}

// Int16ToFloat maps a PCM16 sample back to [-1, 1].
func Int16ToFloat(v int16) float32 {
	if v < 0 {
		return float32(v) / 32768
	}
	return float32(v) / 32767
}

func floatToInt16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

// RMS returns the root-mean-square level of a block, in [0, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
