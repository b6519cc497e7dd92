// Package marketid handles parsing and validation of the 32-byte identifiers
// shared between the market directory, the AMM and the oracle engine, and of
// the 32-byte data hashes oracles attach to their attestations.
//
// Both are carried as lowercase hex strings (64 characters). A leading "0x"
// is accepted on input and stripped.
package marketid

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"lukechampine.com/blake3"
)

// Size is the byte length of ids and data hashes.
const Size = 32

var hexRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)

var (
	ErrInvalidMarketID = errors.New("marketid: invalid market id")
	ErrInvalidDataHash = errors.New("marketid: invalid data hash")
)

func normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strings.ToLower(s)
}

// ParseMarketID validates a market id and returns its canonical form.
func ParseMarketID(s string) (string, error) {
	n := normalize(s)
	if !hexRegex.MatchString(n) {
		return "", fmt.Errorf("%w: %q (expected %d hex-encoded bytes)", ErrInvalidMarketID, s, Size)
	}
	return n, nil
}

// ParseDataHash validates an attestation data hash and returns its
// canonical form.
func ParseDataHash(s string) (string, error) {
	n := normalize(s)
	if !hexRegex.MatchString(n) {
		return "", fmt.Errorf("%w: %q (expected %d hex-encoded bytes)", ErrInvalidDataHash, s, Size)
	}
	return n, nil
}

// Derive returns a deterministic market id for a title and nonce. The market
// directory uses it when the caller does not supply an id.
func Derive(title, nonce string) string {
	h := blake3.New(Size, nil)
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(nonce))
	return hex.EncodeToString(h.Sum(nil))
}

// Short returns the first 8 hex characters, for log lines.
func Short(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
