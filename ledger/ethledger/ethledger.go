// Package ethledger implements ledger.Ledger on top of the spend note
// registry contract of an EVM chain.
package ethledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/ledger"
	"go.vocdoni.io/spendnote/log"
	"go.vocdoni.io/spendnote/util"
)

const (
	// DefaultMaxRetries is the number of retries of a failing RPC call.
	DefaultMaxRetries = 5
	// DefaultMaxElapsed bounds the time spent retrying a single call.
	DefaultMaxElapsed = time.Minute
)

var parsedABI abi.ABI

func init() {
	var err error
	if parsedABI, err = abi.JSON(strings.NewReader(spendNoteABI)); err != nil {
		panic(err)
	}
}

// Backend is the subset of an ethereum client used by the ledger.
// *ethclient.Client implements it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Config configures the connection to the contract.
type Config struct {
	// Endpoint is the JSON-RPC url of the chain.
	Endpoint string
	// Contract is the registry contract address.
	Contract common.Address
	// PrivateKey signs the transactions, hex encoded.
	PrivateKey string
	// ChainID of the chain. If nil it is queried from the endpoint.
	ChainID *big.Int
	// MaxRetries of a failing RPC call. Zero means DefaultMaxRetries.
	MaxRetries uint64
}

// Ledger talks to the spend note registry contract.
type Ledger struct {
	backend    Backend
	contract   *bind.BoundContract
	key        *ecdsa.PrivateKey
	chainID    *big.Int
	maxRetries uint64
}

var _ ledger.Ledger = (*Ledger)(nil)

// New dials cfg.Endpoint and returns a Ledger bound to cfg.Contract.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	key, err := crypto.HexToECDSA(util.TrimHex(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("invalid ledger private key: %w", err)
	}
	var client *ethclient.Client
	op := func() error {
		client, err = ethclient.DialContext(ctx, cfg.Endpoint)
		return err
	}
	if err := backoff.Retry(op, newBackoff(ctx, cfg.MaxRetries)); err != nil {
		return nil, fmt.Errorf("%w: cannot dial %s: %w", ledger.ErrUnavailable, cfg.Endpoint, err)
	}
	chainID := cfg.ChainID
	if chainID == nil {
		if chainID, err = client.ChainID(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: cannot get chain id: %w", ledger.ErrUnavailable, err)
		}
	}
	l := NewWithBackend(client, cfg.Contract, key, chainID)
	l.maxRetries = cfg.MaxRetries
	log.Infow("ethereum ledger ready", "endpoint", cfg.Endpoint, "contract", cfg.Contract.Hex(),
		"chainID", chainID, "sender", crypto.PubkeyToAddress(key.PublicKey).Hex())
	return l, nil
}

// NewWithBackend returns a Ledger using an existing backend.
func NewWithBackend(backend Backend, contract common.Address, key *ecdsa.PrivateKey, chainID *big.Int) *Ledger {
	return &Ledger{
		backend:  backend,
		contract: bind.NewBoundContract(contract, parsedABI, backend, backend, backend),
		key:      key,
		chainID:  chainID,
	}
}

func newBackoff(ctx context.Context, maxRetries uint64) backoff.BackOff {
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = DefaultMaxElapsed
	return backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
}

// call runs a view method, retrying transient failures.
func (l *Ledger) call(ctx context.Context, method string, params ...any) ([]any, error) {
	var out []any
	op := func() error {
		out = nil
		err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...)
		if err != nil && isRevert(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, newBackoff(ctx, l.maxRetries)); err != nil {
		return nil, classify(method, err)
	}
	return out, nil
}

// transact signs a transaction, sends it and waits until it is mined.
// Building the transaction is retried freely since nothing leaves the
// process. Sending is retried with the same signed transaction, so a
// send whose answer was lost can never turn into a second transaction
// under a new nonce.
func (l *Ledger) transact(ctx context.Context, value *big.Int, method string, params ...any) (*ledger.Receipt, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(l.key, l.chainID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	opts.Context = ctx
	opts.Value = value
	opts.NoSend = true

	var tx *ethtypes.Transaction
	build := func() error {
		tx, err = l.contract.Transact(opts, method, params...)
		if err != nil && isRevert(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(build, newBackoff(ctx, l.maxRetries)); err != nil {
		return nil, classify(method, err)
	}
	send := func() error {
		err := l.backend.SendTransaction(ctx, tx)
		if err != nil && isKnownTx(err) {
			log.Debugw("ledger transaction already known", "method", method, "tx", tx.Hash().Hex(), "error", err)
			return nil
		}
		return err
	}
	if err := backoff.Retry(send, newBackoff(ctx, l.maxRetries)); err != nil {
		return nil, fmt.Errorf("%w: sending %s tx %x: %w", ledger.ErrUnavailable, method, tx.Hash(), err)
	}
	log.Debugw("ledger transaction sent", "method", method, "tx", tx.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, l.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: waiting for %s tx %x: %w", ledger.ErrUnavailable, method, tx.Hash(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s tx %x reverted", ledger.ErrUnavailable, method, tx.Hash())
	}
	return &ledger.Receipt{TxHash: receipt.TxHash, BlockNumber: receipt.BlockNumber.Uint64()}, nil
}

// isKnownTx reports whether a send failed because the node already has the
// transaction, or has already mined its nonce. Either way the transaction
// went out earlier and WaitMined settles the outcome.
func isKnownTx(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") ||
		strings.Contains(msg, "known transaction") ||
		strings.Contains(msg, "nonce too low")
}

func isRevert(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}

// classify maps a contract error to the ledger sentinel errors. The
// contract reverts with "already ..." reasons on duplicates.
func classify(method string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %w", ledger.ErrUnavailable, method, err)
	case strings.Contains(msg, "already"):
		if method == "createSpendNote" {
			return fmt.Errorf("%w: %w", ledger.ErrAlreadyRegistered, err)
		}
		return fmt.Errorf("%w: %w", ledger.ErrAlreadySpent, err)
	case strings.Contains(msg, "invalid merkle proof"), strings.Contains(msg, "invalid proof"):
		return fmt.Errorf("%w: %w", ledger.ErrInvalidProof, err)
	case strings.Contains(msg, "does not exist"), strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %w", ledger.ErrNoteNotFound, err)
	default:
		return fmt.Errorf("%w: %s: %w", ledger.ErrUnavailable, method, err)
	}
}

func (l *Ledger) Root(ctx context.Context) (common.Hash, error) {
	out, err := l.call(ctx, "merkleRoot")
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(*abi.ConvertType(out[0], new([32]byte)).(*[32]byte)), nil
}

func (l *Ledger) UpdateRoot(ctx context.Context, root common.Hash) error {
	_, err := l.transact(ctx, nil, "updateMerkleRoot", [32]byte(root))
	return err
}

func (l *Ledger) IsNullifierSpent(ctx context.Context, nullifier common.Hash) (bool, error) {
	out, err := l.call(ctx, "spentNullifiers", [32]byte(nullifier))
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (l *Ledger) SubmitSpendNoteCreation(ctx context.Context, noteHash common.Hash,
	value *big.Int,
) (*ledger.Receipt, error) {
	return l.transact(ctx, new(big.Int).Set(value), "createSpendNote", [32]byte(noteHash))
}

func (l *Ledger) SubmitSpend(ctx context.Context, noteHash, nullifier common.Hash,
	recipient common.Address, proof commitment.Proof,
) (*ledger.Receipt, error) {
	path := make([][32]byte, len(proof))
	for i, p := range proof {
		path[i] = p
	}
	return l.transact(ctx, nil, "spendNote", [32]byte(noteHash), [32]byte(nullifier), recipient, path)
}

type spendNoteTuple struct {
	NoteHash  [32]byte
	Amount    *big.Int
	Spent     bool
	Timestamp *big.Int
}

func (l *Ledger) SpendNote(ctx context.Context, noteHash common.Hash) (*ledger.Note, error) {
	out, err := l.call(ctx, "getSpendNote", [32]byte(noteHash))
	if err != nil {
		return nil, err
	}
	t := abi.ConvertType(out[0], new(spendNoteTuple)).(*spendNoteTuple)
	// unknown notes come back zeroed
	if t.NoteHash == [32]byte{} {
		return nil, fmt.Errorf("%w: %x", ledger.ErrNoteNotFound, noteHash)
	}
	return &ledger.Note{
		NoteHash:  t.NoteHash,
		Amount:    t.Amount,
		Spent:     t.Spent,
		Timestamp: t.Timestamp.Int64(),
	}, nil
}

// TotalSpendNotes returns the number of notes registered in the contract.
func (l *Ledger) TotalSpendNotes(ctx context.Context) (uint64, error) {
	out, err := l.call(ctx, "totalSpendNotes")
	if err != nil {
		return 0, err
	}
	return (*abi.ConvertType(out[0], new(*big.Int)).(**big.Int)).Uint64(), nil
}
