package marketid

import (
	"errors"
	"strings"
	"testing"
)

const validID = "2a3b4c5d6e7f80910a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f6071"

func TestParseMarketID_Valid(t *testing.T) {
	id, err := ParseMarketID(validID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != validID {
		t.Errorf("expected %s, got %s", validID, id)
	}
}

func TestParseMarketID_Normalizes(t *testing.T) {
	id, err := ParseMarketID("0x" + strings.ToUpper(validID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != validID {
		t.Errorf("expected lowercase id without prefix, got %s", id)
	}
}

func TestParseMarketID_Invalid(t *testing.T) {
	tests := []string{
		"",
		"abc",
		validID[:62],
		validID + "00",
		strings.Replace(validID, "2", "z", 1),
	}
	for _, s := range tests {
		if _, err := ParseMarketID(s); !errors.Is(err, ErrInvalidMarketID) {
			t.Errorf("expected ErrInvalidMarketID for %q, got %v", s, err)
		}
	}
}

func TestParseDataHash_Invalid(t *testing.T) {
	if _, err := ParseDataHash("deadbeef"); !errors.Is(err, ErrInvalidDataHash) {
		t.Errorf("expected ErrInvalidDataHash, got %v", err)
	}
}

func TestDerive_DeterministicAndValid(t *testing.T) {
	a := Derive("Will it rain in Lisbon?", "1")
	b := Derive("Will it rain in Lisbon?", "1")
	c := Derive("Will it rain in Lisbon?", "2")

	if a != b {
		t.Error("same inputs must derive the same id")
	}
	if a == c {
		t.Error("different nonces must derive different ids")
	}
	if _, err := ParseMarketID(a); err != nil {
		t.Errorf("derived id must parse: %v", err)
	}
}
