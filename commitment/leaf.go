package commitment

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"go.vocdoni.io/spendnote/types"
)

// SpendNote is the public content committed to by a tree leaf.
type SpendNote struct {
	WalletAddress common.Address
	Nullifier     common.Hash
	// Amount in base units, must fit in 256 bits.
	Amount *big.Int
	// Timestamp in milliseconds since the unix epoch.
	Timestamp int64
}

// Leaf is a SpendNote together with its position and hash in the tree.
type Leaf struct {
	Index uint64
	Hash  common.Hash
	Note  SpendNote
}

// EncodeLeaf returns the canonical leaf preimage:
//
//	address(20) || nullifier(32) || amount(32, big endian) || timestamp(8, big endian)
func EncodeLeaf(note *SpendNote) ([]byte, error) {
	if note.Amount == nil {
		return nil, fmt.Errorf("%w: missing amount", ErrInvalidInput)
	}
	if note.Amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount %s", ErrInvalidInput, note.Amount)
	}
	if note.Timestamp < 0 {
		return nil, fmt.Errorf("%w: negative timestamp %d", ErrInvalidInput, note.Timestamp)
	}
	amount, overflow := uint256.FromBig(note.Amount)
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrAmountOverflow, note.Amount)
	}
	amountBytes := amount.Bytes32()

	buf := make([]byte, 0, types.LeafEncodingSize)
	buf = append(buf, note.WalletAddress.Bytes()...)
	buf = append(buf, note.Nullifier.Bytes()...)
	buf = append(buf, amountBytes[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(note.Timestamp))
	return buf, nil
}

// LeafHash is sha256 of the canonical leaf encoding.
func LeafHash(note *SpendNote) (common.Hash, error) {
	data, err := EncodeLeaf(note)
	if err != nil {
		return common.Hash{}, err
	}
	return sha256.Sum256(data), nil
}
