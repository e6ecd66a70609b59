package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// HexBytes is a []byte carried as lowercase hexadecimal on the wire. The
// external prover and the JSON documents it exchanges use this form for
// addresses, roots, nullifiers and receipts.
type HexBytes []byte

func (b HexBytes) String() string {
	return hex.EncodeToString(b)
}

func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(b)), nil
}

// UnmarshalText tolerates an optional 0x prefix.
func (b *HexBytes) UnmarshalText(data []byte) error {
	dec, err := ParseHexBytes(string(data))
	if err != nil {
		return err
	}
	*b = dec
	return nil
}

// Hash returns b as a 32 byte hash. Any other length is an error, so a
// truncated root or nullifier never gets silently left-padded.
func (b HexBytes) Hash() (common.Hash, error) {
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("expected %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

// ParseHexBytes decodes s, with or without a 0x prefix.
func ParseHexBytes(s string) (HexBytes, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string: %w", err)
	}
	return b, nil
}
