package model

import (
	"encoding/binary"
	"math"
)

// EncodeVector packs a float32 slice into a contiguous little-endian byte
// blob, the wire form used by the embedded persistence backend's mean_vec /
// compressed_vec columns.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks a little-endian float32 byte blob.
func DecodeVector(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
