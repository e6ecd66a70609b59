package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.vocdoni.io/spendnote/types"
)

var validHexRegex = regexp.MustCompile("^([0-9a-fA-F])+$")

// IsHex checks if the given string contains only valid hex symbols
func IsHex(str string) bool { return validHexRegex.MatchString(str) }

// IsHexEncodedStringWithLength checks if the given string contains only valid hex symbols and have the desired length
func IsHexEncodedStringWithLength(str string, length int) bool {
	str = TrimHex(str)
	return len(str) == 2*length && IsHex(str)
}

func TrimHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// ParseAddress decodes a 20 byte hex address, with or without 0x prefix.
// Unlike common.HexToAddress it never pads or truncates the input.
func ParseAddress(s string) (common.Address, error) {
	if !IsHexEncodedStringWithLength(s, types.AddressSize) {
		return common.Address{}, fmt.Errorf("malformed address %q", s)
	}
	return common.HexToAddress(s), nil
}

// ParseHash decodes a 32 byte hex digest, with or without 0x prefix.
func ParseHash(s string) (common.Hash, error) {
	if !IsHexEncodedStringWithLength(s, types.HashSize) {
		return common.Hash{}, fmt.Errorf("malformed hash %q", s)
	}
	return common.HexToHash(s), nil
}

// RandomBytes returns n bytes read from the system CSPRNG.
func RandomBytes(n int) []byte {
	bytes := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		panic(err)
	}
	return bytes
}

func RandomHex(n int) string {
	return hex.EncodeToString(RandomBytes(n))
}

func Hex2byte(tb testing.TB, s string) []byte {
	b, err := hex.DecodeString(TrimHex(s))
	if err != nil {
		if tb == nil {
			panic(err)
		}
		tb.Fatal(err)
	}
	return b
}
