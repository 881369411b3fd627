// Package integrity detects external modification of a document between
// sessions by comparing a sparse content fingerprint and the page count.
package integrity

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

const (
	// sampleSize is the byte length of each sampled window.
	sampleSize = 4 << 10
	// sampleCount is the number of evenly spaced interior windows.
	sampleCount = 16
)

// SparseHash fingerprints data from its length, head, tail and up to
// sampleCount evenly spaced windows. Inputs up to the total sample budget
// are hashed whole. It is fast on large files and not cryptographic.
func SparseHash(data []byte) string {
	d := xxhash.New()
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(data)))
	_, _ = d.Write(lenBuf[:])

	if len(data) <= (sampleCount+2)*sampleSize {
		_, _ = d.Write(data)
		return hex.EncodeToString(d.Sum(nil))
	}

	_, _ = d.Write(data[:sampleSize])
	stride := (len(data) - sampleSize) / (sampleCount + 1)
	for i := 1; i <= sampleCount; i++ {
		off := i * stride
		_, _ = d.Write(data[off : off+sampleSize])
	}
	_, _ = d.Write(data[len(data)-sampleSize:])
	return hex.EncodeToString(d.Sum(nil))
}
