package prover

import (
	"context"
	"crypto/sha256"
	"math/big"

	"github.com/holiman/uint256"

	"go.vocdoni.io/spendnote/types"
	"go.vocdoni.io/spendnote/util"
)

// Mock is an insecure backend for development and tests. Its receipts are
// random bytes and its verifier accepts every mock proof.
type Mock struct{}

var _ Backend = Mock{}

func (Mock) Kind() Kind { return KindMock }

// ProveSpend returns a random receipt. The nullifier is
// sha256(address || amount as 32 byte big endian).
func (Mock) ProveSpend(_ context.Context, req *SpendRequest) (*SpendProof, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	amount := uint256.MustFromBig(req.Amount).Bytes32()
	data := append(req.WalletAddress.Bytes(), amount[:]...)
	return &SpendProof{
		Backend:    KindMock,
		Receipt:    util.RandomBytes(types.MockReceiptSize),
		MerkleRoot: req.MerkleRoot,
		Nullifier:  sha256.Sum256(data),
		Amount:     new(big.Int).Set(req.Amount),
	}, nil
}

// VerifySpend accepts any proof produced by a mock backend.
func (Mock) VerifySpend(_ context.Context, proof *SpendProof) bool {
	return proof != nil && proof.Backend == KindMock
}
