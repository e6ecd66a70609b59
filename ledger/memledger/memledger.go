// Package memledger is an in-process ledger for development and tests. It
// enforces the same rules as the spend note contract: notes are registered
// once, spends need a valid proof against the stored root, and each
// nullifier can be spent once.
package memledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/ledger"
	"go.vocdoni.io/spendnote/log"
)

// Payment is a value transfer made by a successful spend.
type Payment struct {
	NoteHash  common.Hash
	Recipient common.Address
	Amount    *big.Int
}

// Ledger implements ledger.Ledger in memory.
type Ledger struct {
	mu       sync.Mutex
	root     common.Hash
	notes    map[common.Hash]*ledger.Note
	spent    map[common.Hash]bool
	payments []Payment
	height   uint64
}

var _ ledger.Ledger = (*Ledger)(nil)

// New returns an empty ledger with a zero root.
func New() *Ledger {
	return &Ledger{
		notes: make(map[common.Hash]*ledger.Note),
		spent: make(map[common.Hash]bool),
	}
}

// receipt must be called with the lock held.
func (l *Ledger) receipt(op string, key common.Hash) *ledger.Receipt {
	l.height++
	h := binary.BigEndian.AppendUint64(nil, l.height)
	return &ledger.Receipt{
		TxHash:      crypto.Keccak256Hash([]byte(op), key[:], h),
		BlockNumber: l.height,
	}
}

func (l *Ledger) Root(ctx context.Context) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.root, nil
}

func (l *Ledger) UpdateRoot(ctx context.Context, root common.Hash) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	log.Debugw("memledger root updated", "old", l.root.Hex(), "new", root.Hex())
	l.root = root
	l.receipt("updateMerkleRoot", root)
	return nil
}

func (l *Ledger) IsNullifierSpent(ctx context.Context, nullifier common.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent[nullifier], nil
}

func (l *Ledger) SubmitSpendNoteCreation(ctx context.Context, noteHash common.Hash,
	value *big.Int,
) (*ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	if value == nil || value.Sign() <= 0 {
		return nil, fmt.Errorf("spend note value must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.notes[noteHash]; ok {
		return nil, fmt.Errorf("%w: %x", ledger.ErrAlreadyRegistered, noteHash)
	}
	l.notes[noteHash] = &ledger.Note{
		NoteHash:  noteHash,
		Amount:    new(big.Int).Set(value),
		Timestamp: time.Now().Unix(),
	}
	return l.receipt("createSpendNote", noteHash), nil
}

func (l *Ledger) SubmitSpend(ctx context.Context, noteHash, nullifier common.Hash,
	recipient common.Address, proof commitment.Proof,
) (*ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.spent[nullifier] {
		return nil, fmt.Errorf("%w: %x", ledger.ErrAlreadySpent, nullifier)
	}
	note, ok := l.notes[noteHash]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ledger.ErrNoteNotFound, noteHash)
	}
	if note.Spent {
		return nil, fmt.Errorf("%w: note %x", ledger.ErrAlreadySpent, noteHash)
	}
	if !commitment.VerifyProof(noteHash, proof, l.root) {
		return nil, fmt.Errorf("%w: note %x root %x", ledger.ErrInvalidProof, noteHash, l.root)
	}
	l.spent[nullifier] = true
	note.Spent = true
	l.payments = append(l.payments, Payment{
		NoteHash:  noteHash,
		Recipient: recipient,
		Amount:    new(big.Int).Set(note.Amount),
	})
	log.Infow("memledger note spent", "note", noteHash.Hex(), "recipient", recipient.Hex(), "amount", note.Amount)
	return l.receipt("spendNote", nullifier), nil
}

func (l *Ledger) SpendNote(ctx context.Context, noteHash common.Hash) (*ledger.Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	note, ok := l.notes[noteHash]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ledger.ErrNoteNotFound, noteHash)
	}
	cp := *note
	cp.Amount = new(big.Int).Set(note.Amount)
	return &cp, nil
}

// Payments returns the transfers made so far.
func (l *Ledger) Payments() []Payment {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Payment(nil), l.payments...)
}
