package model

import (
	"fmt"
	"math/bits"
	"regexp"
	"strings"
)

var tokenSplitRe = regexp.MustCompile(`[^a-z0-9']+`)

// CanonicalTokens lowercases and splits text into a deduplicated token set,
// used by both SimHash and the hybrid query-overlap scorer.
func CanonicalTokens(text string) []string {
	lower := strings.ToLower(text)
	parts := tokenSplitRe.Split(lower, -1)
	seen := make(map[string]bool, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// rollingHash32 is the classic (h<<5)-h+c string hash with 32-bit
// wraparound, i.e. h*31+c over two's-complement int32.
func rollingHash32(token string) uint32 {
	var h int32
	for i := 0; i < len(token); i++ {
		h = h*31 + int32(token[i])
	}
	return uint32(h)
}

// SimHash64 derives a 64-bit locality-sensitive fingerprint from the
// canonical token set of text: each token's 32-bit rolling hash contributes
// ±1 per bit across 64 virtual bits — virtual bit i reads the hash's bit
// i%32, so the upper half mirrors the lower — and the final fingerprint
// sign-extracts each accumulator into a bit, most significant first.
func SimHash64(text string) uint64 {
	tokens := CanonicalTokens(text)
	var acc [64]int64
	for _, tok := range tokens {
		h := rollingHash32(tok)
		for b := 0; b < 64; b++ {
			if h&(1<<uint(b%32)) != 0 {
				acc[b]++
			} else {
				acc[b]--
			}
		}
	}
	var fp uint64
	for b := 0; b < 64; b++ {
		if acc[b] > 0 {
			fp |= 1 << uint(63-b)
		}
	}
	return fp
}

// SimHashHex returns the 16-hex-character representation of a 64-bit fingerprint.
func SimHashHex(fp uint64) string {
	return fmt.Sprintf("%016x", fp)
}

// ComputeSimHash is the convenience entry point used by ingest.
func ComputeSimHash(text string) string {
	return SimHashHex(SimHash64(text))
}

// HammingDistanceHex parses two 16-hex fingerprints and returns their Hamming distance.
func HammingDistanceHex(a, b string) (int, error) {
	var av, bv uint64
	if _, err := fmt.Sscanf(a, "%016x", &av); err != nil {
		return 0, err
	}
	if _, err := fmt.Sscanf(b, "%016x", &bv); err != nil {
		return 0, err
	}
	return bits.OnesCount64(av ^ bv), nil
}

// SharesPrefix reports whether two 16-hex fingerprints share their leading nibble,
// a cheap pre-filter for the more expensive Hamming check. Ingest's duplicate
// lookup matches fingerprints exactly and does not call it.
func SharesPrefix(a, b string) bool {
	return len(a) > 0 && len(b) > 0 && a[0] == b[0]
}
