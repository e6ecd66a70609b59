// Package ledger defines the boundary with the ledger that holds the
// canonical commitment root and the set of spent nullifiers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/log"
)

var (
	// ErrUnavailable is returned when the ledger cannot be reached or
	// fails for reasons unrelated to the request. Callers may retry.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrAlreadySpent is returned when submitting a spend for a nullifier
	// the ledger already marked as spent.
	ErrAlreadySpent = errors.New("nullifier already spent")
	// ErrAlreadyRegistered is returned when a spend note hash was already
	// submitted.
	ErrAlreadyRegistered = errors.New("spend note already registered")
	// ErrNoteNotFound is returned for spend notes the ledger does not know.
	ErrNoteNotFound = errors.New("spend note not found")
	// ErrInvalidProof is returned when the ledger rejects a merkle proof.
	ErrInvalidProof = errors.New("invalid merkle proof")
)

// Receipt identifies an accepted ledger transaction.
type Receipt struct {
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
}

// Note is a spend note as recorded by the ledger.
type Note struct {
	NoteHash common.Hash `json:"noteHash"`
	Amount   *big.Int    `json:"amount"`
	Spent    bool        `json:"spent"`
	// Timestamp in seconds, as set by the ledger.
	Timestamp int64 `json:"timestamp"`
}

// Ledger is the set of operations the node needs from the ledger. Every
// method may fail with ErrUnavailable.
type Ledger interface {
	// Root returns the commitment root currently stored by the ledger.
	Root(ctx context.Context) (common.Hash, error)
	// UpdateRoot replaces the stored commitment root.
	UpdateRoot(ctx context.Context, root common.Hash) error
	// IsNullifierSpent reports whether nullifier was already used.
	IsNullifierSpent(ctx context.Context, nullifier common.Hash) (bool, error)
	// SubmitSpendNoteCreation registers a note, funding it with value.
	SubmitSpendNoteCreation(ctx context.Context, noteHash common.Hash, value *big.Int) (*Receipt, error)
	// SubmitSpend redeems a note, paying its value to recipient.
	SubmitSpend(ctx context.Context, noteHash, nullifier common.Hash,
		recipient common.Address, proof commitment.Proof) (*Receipt, error)
	// SpendNote returns a registered note.
	SpendNote(ctx context.Context, noteHash common.Hash) (*Note, error)
}

// SyncRoot pushes local to the ledger if the ledger holds a different
// root. It reports whether an update was sent.
func SyncRoot(ctx context.Context, l Ledger, local common.Hash) (bool, error) {
	remote, err := l.Root(ctx)
	if err != nil {
		return false, fmt.Errorf("cannot get ledger root: %w", err)
	}
	if remote == local {
		log.Debugw("ledger root in sync", "root", local.Hex())
		return false, nil
	}
	log.Infow("updating ledger root", "ledger", remote.Hex(), "local", local.Hex())
	if err := l.UpdateRoot(ctx, local); err != nil {
		return false, fmt.Errorf("cannot update ledger root: %w", err)
	}
	return true, nil
}
