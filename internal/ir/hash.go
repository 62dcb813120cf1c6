package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainPayload = "ghostbridge/payload/v1"
	DomainTree    = "ghostbridge/tree/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest computes a content digest of v under the given domain.
// Equal values (see Equal) with equal number representations produce
// equal digests.
func Digest(domain string, v IRValue) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("digest: failed to marshal: %w", err)
	}
	return hashWithDomain(domain, canonical), nil
}

// PayloadDigest is Digest under DomainPayload. The journal stores it next to
// each broadcast so replays can be compared without decoding payloads.
func PayloadDigest(v IRValue) (string, error) {
	return Digest(DomainPayload, v)
}

// MustDigest is like Digest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDigest(domain string, v IRValue) string {
	d, err := Digest(domain, v)
	if err != nil {
		panic(err)
	}
	return d
}
