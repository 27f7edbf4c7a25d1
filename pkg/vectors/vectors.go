// Package vectors provides embedding vector math and encoding utilities.
package vectors

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Dot returns the dot product of a and b. Callers must ensure equal length.
func Dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// Magnitude returns the Euclidean norm of v.
func Magnitude(v []float32) float64 {
	return math.Sqrt(Dot(v, v))
}

// Cosine returns the cosine similarity between a and b in [-1, 1].
// A zero vector on either side yields 0 rather than dividing by zero.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors: dimension mismatch %d != %d", len(a), len(b))
	}
	ma, mb := Magnitude(a), Magnitude(b)
	if ma == 0 || mb == 0 {
		return 0, nil
	}
	s := Dot(a, b) / (ma * mb)
	if math.IsNaN(s) {
		return 0, nil
	}
	return s, nil
}

// Encode serializes v as little-endian float32 bytes for BLOB storage.
func Encode(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// Decode deserializes a little-endian float32 BLOB produced by Encode.
func Decode(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vectors: blob length %d not a multiple of 4", len(data))
	}
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return v, nil
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}
