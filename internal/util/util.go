// Package util provides content hashing and small shared helpers.
package util

import (
	"encoding/hex"
	"time"

	"lukechampine.com/blake3"
)

// NowMs returns the current time in milliseconds since epoch.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// Blake3Hash computes the BLAKE3 digest of data.
func Blake3Hash(data []byte) []byte {
	sum := blake3.Sum256(data)
	return sum[:]
}

// Blake3HashHex computes the BLAKE3 digest of data as a hex string.
func Blake3HashHex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
