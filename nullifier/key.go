package nullifier

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"go.vocdoni.io/spendnote/util"
)

// KeySize is the size of the AES-256 key protecting nullifiers.
const KeySize = 32

// KeyMaterial holds the symmetric key used to encrypt nullifiers. It is
// read-only once created and safe for concurrent use.
type KeyMaterial struct {
	id   [4]byte
	aead cipher.AEAD
}

// NewKeyMaterial wraps a raw 32 byte key.
func NewKeyMaterial(key []byte) (*KeyMaterial, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrInvalidInput, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	km := &KeyMaterial{aead: aead}
	sum := sha256.Sum256(key)
	copy(km.id[:], sum[:4])
	return km, nil
}

// NewRandomKeyMaterial creates a key from the system CSPRNG. Nullifiers
// encrypted with it can only be verified by the same process.
func NewRandomKeyMaterial() *KeyMaterial {
	km, err := NewKeyMaterial(util.RandomBytes(KeySize))
	if err != nil {
		// only fails on a wrong key size
		panic(err)
	}
	return km
}

// DeriveKeyMaterial derives a key from a configured secret using
// HKDF-SHA256, so that restarts keep verifying previously issued nullifiers.
func DeriveKeyMaterial(secret []byte, info string) (*KeyMaterial, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidInput)
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return NewKeyMaterial(key)
}

// ID returns a short identifier of the key, for diagnostics only.
func (km *KeyMaterial) ID() string {
	return hex.EncodeToString(km.id[:])
}
