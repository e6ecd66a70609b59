// Package prover produces and checks the proofs that authorize spending a
// note. The proving system itself lives outside this process: either an
// external program speaking JSON over stdin/stdout, or a mock that only
// exercises the pipeline.
package prover

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"go.vocdoni.io/spendnote/commitment"
)

var (
	ErrProofGeneration        = fmt.Errorf("proof generation failed")
	ErrProofGenerationTimeout = fmt.Errorf("proof generation timed out")
	ErrAmountOverflow         = fmt.Errorf("amount does not fit in 256 bits")
	ErrInvalidRequest         = fmt.Errorf("invalid spend request")
	ErrProverNotFound         = fmt.Errorf("prover binary not found")
)

// Kind identifies the backend that produced a proof.
type Kind string

const (
	KindMock     Kind = "mock"
	KindExternal Kind = "external"
)

// SpendRequest carries the inputs of a spend proof.
type SpendRequest struct {
	WalletAddress common.Address
	Amount        *big.Int
	// Leaf is the note's leaf hash, used to derive the proof indices.
	Leaf        common.Hash
	MerkleProof commitment.Proof
	MerkleRoot  common.Hash
}

// SpendProof is the result of proving a spend. Receipt is opaque to this
// package.
type SpendProof struct {
	Backend    Kind          `json:"backend"`
	Receipt    hexutil.Bytes `json:"receipt"`
	MerkleRoot common.Hash   `json:"merkleRoot"`
	Nullifier  common.Hash   `json:"nullifier"`
	Amount     *big.Int      `json:"amount"`
}

// Backend generates and verifies spend proofs.
type Backend interface {
	Kind() Kind
	ProveSpend(ctx context.Context, req *SpendRequest) (*SpendProof, error)
	// VerifySpend never returns an error: anything that prevents
	// verification makes the proof invalid.
	VerifySpend(ctx context.Context, proof *SpendProof) bool
}

func checkRequest(req *SpendRequest) error {
	if req == nil || req.Amount == nil {
		return fmt.Errorf("%w: missing amount", ErrInvalidRequest)
	}
	if req.Amount.Sign() < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidRequest)
	}
	if req.Amount.BitLen() > 256 {
		return fmt.Errorf("%w: %s", ErrAmountOverflow, req.Amount)
	}
	return nil
}
