// Package nullifier creates the one-time values that make each spend note
// redeemable exactly once, and an encrypted copy of them that only the
// issuing key can open.
package nullifier

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"go.vocdoni.io/spendnote/log"
	"go.vocdoni.io/spendnote/types"
	"go.vocdoni.io/spendnote/util"
)

// SaltSize is the size of the random salt mixed into every nullifier.
const SaltSize = 32

// ErrInvalidInput is returned for malformed wallet addresses or keys.
var ErrInvalidInput = errors.New("invalid input")

// Data is the result of generating a nullifier. EncryptedNullifier is
// nonce || ciphertext || tag.
type Data struct {
	Nullifier          common.Hash   `json:"nullifier"`
	EncryptedNullifier hexutil.Bytes `json:"encryptedNullifier"`
	Timestamp          int64         `json:"timestamp"`
}

// Engine generates and verifies nullifiers under a single key.
type Engine struct {
	key *KeyMaterial
}

// NewEngine returns an Engine using km. A nil km means a fresh random key.
func NewEngine(km *KeyMaterial) *Engine {
	if km == nil {
		km = NewRandomKeyMaterial()
	}
	return &Engine{key: km}
}

// KeyID returns the diagnostic identifier of the engine key.
func (e *Engine) KeyID() string {
	return e.key.ID()
}

// Generate creates a new nullifier for walletAddress, timestamped now.
func (e *Engine) Generate(walletAddress string) (*Data, error) {
	return e.GenerateAt(walletAddress, time.Now())
}

// GenerateAt is like Generate with an explicit time. Two calls with the same
// inputs still yield different nullifiers, since a fresh salt is drawn each
// time.
func (e *Engine) GenerateAt(walletAddress string, now time.Time) (*Data, error) {
	addr, err := util.ParseAddress(walletAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	ts := now.UnixMilli()
	digest := Digest(addr, ts, util.RandomBytes(SaltSize))

	nonce := util.RandomBytes(e.key.aead.NonceSize())
	enc := e.key.aead.Seal(nonce, nonce, digest[:], nil)
	return &Data{
		Nullifier:          digest,
		EncryptedNullifier: enc,
		Timestamp:          ts,
	}, nil
}

// Verify reports whether encrypted opens under the engine key to nullifier.
// It never fails loudly: any decoding or authentication problem is false.
func (e *Engine) Verify(nullifier common.Hash, encrypted []byte) bool {
	ns := e.key.aead.NonceSize()
	if len(encrypted) < ns+e.key.aead.Overhead() {
		log.Debugw("encrypted nullifier too short", "length", len(encrypted))
		return false
	}
	plain, err := e.key.aead.Open(nil, encrypted[:ns], encrypted[ns:], nil)
	if err != nil {
		log.Debugw("cannot decrypt nullifier", "key", e.key.ID(), "error", err)
		return false
	}
	return subtle.ConstantTimeCompare(plain, nullifier[:]) == 1
}

// Digest computes sha256(address || int64-LE(timestamp) || salt).
func Digest(addr common.Address, timestampMs int64, salt []byte) common.Hash {
	buf := make([]byte, 0, types.AddressSize+8+len(salt))
	buf = append(buf, addr.Bytes()...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(timestampMs))
	buf = append(buf, salt...)
	return sha256.Sum256(buf)
}
