package redis

import (
	"encoding/binary"
	"fmt"
	"math"
)

// vectorToBytes encodes a float32 vector as little-endian bytes, the layout
// the FT vector index expects.
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// bytesToVector decodes a little-endian float32 vector.
func bytesToVector(data string) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(data))
	}
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32([]byte(data[i*4 : i*4+4])))
	}
	return v, nil
}
