package utils

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"strconv"
)

// Name hashing algorithms a payload can declare in hash_used.
const (
	HashAlgoSHA256 = "sha256"
	HashAlgoDJB2   = "djb2"
	HashAlgoNone   = "none"
)

// Digest is the deterministic hash used for unit bucketing and name obfuscation.
type Digest interface {
	// Bucket returns a stable 64 bit value for input.
	Bucket(input string) uint64
	// HashName obfuscates a spec name the way the server does for the given algorithm.
	HashName(name, algo string) string
}

type sha256Digest struct{}

// DefaultDigest buckets with the first 8 bytes of SHA-256, big endian.
var DefaultDigest Digest = sha256Digest{}

func (sha256Digest) Bucket(input string) uint64 {
	return bucketFunc(input)
}

func (sha256Digest) HashName(name, algo string) string {
	switch algo {
	case HashAlgoNone:
		return name
	case HashAlgoSHA256:
		sum := sha256.Sum256([]byte(name))
		return base64.StdEncoding.EncodeToString(sum[:])
	default:
		return DJB2(name)
	}
}

func computeBucket(input string) uint64 {
	sum := sha256.Sum256([]byte(input))
	return binary.BigEndian.Uint64(sum[:8])
}

// DJB2 returns the unsigned 32 bit djb2 hash of s as a decimal string.
func DJB2(s string) string {
	var hash int32
	for _, r := range s {
		hash = (hash << 5) - hash + int32(r)
	}
	return strconv.FormatUint(uint64(uint32(hash)), 10)
}

// PassesPercentage buckets unitID into 10000 slots under salt and compares against percentage (0..100).
func PassesPercentage(d Digest, salt, unitID string, percentage float64) bool {
	if percentage >= 100 {
		return true
	}
	if percentage <= 0 {
		return false
	}
	bucket := d.Bucket(salt + ":" + unitID)
	return float64(bucket%10000) < percentage*100
}

var bucketFunc = computeBucket

// MockSetBucket replaces the bucketing hash. Pass nil to restore the default.
func MockSetBucket(fn func(string) uint64) {
	if fn == nil {
		bucketFunc = computeBucket
		return
	}
	bucketFunc = fn
}
