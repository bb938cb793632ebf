package lib

import (
	"crypto/md5"
	"encoding/hex"
)

// Digest is the frame checksum: lowercase hex MD5, always checksumLength chars.
// It only has to catch accidental corruption.
func Digest(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// Validate recomputes the digest over flag, sequence and payload and compares
// it with the checksum carried by the frame.
func Validate(f *Frame) bool {
	return f != nil && f.Checksum == Digest(f.body())
}
