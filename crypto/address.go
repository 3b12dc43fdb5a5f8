package crypto

import (
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressPrefix is the human-readable part of a bech32 party address.
const AddressPrefix = "xse"

// AddressLength is the raw byte length of a party address.
const AddressLength = 20

// EncodeAddress renders a raw 20-byte party identifier as a bech32 string.
func EncodeAddress(raw [AddressLength]byte) string {
	conv, err := bech32.ConvertBits(raw[:], 8, 5, true)
	if err != nil {
		// Unreachable for fixed-width input.
		panic(err)
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// DecodeAddress parses a bech32 party address, requiring the engine's prefix
// and exact payload width.
func DecodeAddress(addr string) ([AddressLength]byte, error) {
	var out [AddressLength]byte
	prefix, decoded, err := bech32.Decode(addr)
	if err != nil {
		return out, fmt.Errorf("invalid bech32 address: %w", err)
	}
	if prefix != AddressPrefix {
		return out, fmt.Errorf("unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return out, fmt.Errorf("invalid address payload: %w", err)
	}
	if len(conv) != AddressLength {
		return out, fmt.Errorf("address payload must be %d bytes, got %d", AddressLength, len(conv))
	}
	copy(out[:], conv)
	return out, nil
}

// MustDecodeAddress is DecodeAddress for fixtures and tests; it panics on
// malformed input.
func MustDecodeAddress(addr string) [AddressLength]byte {
	out, err := DecodeAddress(addr)
	if err != nil {
		panic(err)
	}
	return out
}
