package ethledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	qt "github.com/frankban/quicktest"

	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/ledger"
)

// fakeChain answers contract calls from a map of packed outputs, and
// records the transactions sent to it.
type fakeChain struct {
	Backend // unimplemented methods panic

	mu          sync.Mutex
	outputs     map[string][]any
	callErrs    []error
	calls       int
	estimateErr error
	estimates   int
	sendErrs    []error
	sends       int
	sent        []*ethtypes.Transaction
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.callErrs) > 0 {
		err := f.callErrs[0]
		f.callErrs = f.callErrs[1:]
		return nil, err
	}
	method, err := parsedABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	out, ok := f.outputs[method.Name]
	if !ok {
		return nil, fmt.Errorf("no output for %s", method.Name)
	}
	return method.Outputs.Pack(out...)
}

func (f *fakeChain) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{1}, nil
}

func (f *fakeChain) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{1}, nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*ethtypes.Header, error) {
	return &ethtypes.Header{Number: big.NewInt(1), BaseFee: big.NewInt(1)}, nil
}

func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimates++
	return 100000, f.estimateErr
}

// SendTransaction records tx even when it returns one of sendErrs, like a
// node whose answer is lost on the way back.
func (f *fakeChain) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	for _, s := range f.sent {
		if s.Hash() == tx.Hash() {
			return errors.New("already known")
		}
	}
	f.sent = append(f.sent, tx)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return err
	}
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	return &ethtypes.Receipt{
		Status:      ethtypes.ReceiptStatusSuccessful,
		TxHash:      hash,
		BlockNumber: big.NewInt(7),
	}, nil
}

func newTestLedger(t *testing.T, f *fakeChain) *Ledger {
	key, err := crypto.GenerateKey()
	qt.Assert(t, err, qt.IsNil)
	l := NewWithBackend(f, common.HexToAddress("0x1234"), key, big.NewInt(1337))
	l.maxRetries = 3
	return l
}

func TestCalls(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	root := common.HexToHash("0xabcdef")
	nullifier := common.HexToHash("0x01")
	f := &fakeChain{outputs: map[string][]any{
		"merkleRoot":      {[32]byte(root)},
		"spentNullifiers": {true},
		"totalSpendNotes": {big.NewInt(3)},
		"getSpendNote": {struct {
			NoteHash  [32]byte
			Amount    *big.Int
			Spent     bool
			Timestamp *big.Int
		}{[32]byte(root), big.NewInt(1e18), false, big.NewInt(1700000000)}},
	}}
	l := newTestLedger(t, f)

	got, err := l.Root(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, root)

	spent, err := l.IsNullifierSpent(ctx, nullifier)
	c.Assert(err, qt.IsNil)
	c.Assert(spent, qt.IsTrue)

	total, err := l.TotalSpendNotes(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(total, qt.Equals, uint64(3))

	note, err := l.SpendNote(ctx, root)
	c.Assert(err, qt.IsNil)
	c.Assert(note.NoteHash, qt.Equals, root)
	c.Assert(note.Amount.String(), qt.Equals, "1000000000000000000")
	c.Assert(note.Timestamp, qt.Equals, int64(1700000000))
}

func TestUnknownNote(t *testing.T) {
	f := &fakeChain{outputs: map[string][]any{
		"getSpendNote": {struct {
			NoteHash  [32]byte
			Amount    *big.Int
			Spent     bool
			Timestamp *big.Int
		}{[32]byte{}, big.NewInt(0), false, big.NewInt(0)}},
	}}
	_, err := newTestLedger(t, f).SpendNote(context.Background(), common.HexToHash("0x05"))
	qt.Assert(t, err, qt.ErrorIs, ledger.ErrNoteNotFound)
}

func TestCallRetries(t *testing.T) {
	c := qt.New(t)
	root := common.HexToHash("0x42")
	f := &fakeChain{
		outputs:  map[string][]any{"merkleRoot": {[32]byte(root)}},
		callErrs: []error{errors.New("connection refused"), errors.New("connection reset")},
	}
	got, err := newTestLedger(t, f).Root(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, root)
	c.Assert(f.calls, qt.Equals, 3)

	// retries are bounded
	f = &fakeChain{callErrs: []error{
		errors.New("down"), errors.New("down"), errors.New("down"), errors.New("down"),
	}}
	_, err = newTestLedger(t, f).Root(context.Background())
	c.Assert(err, qt.ErrorIs, ledger.ErrUnavailable)
	c.Assert(f.calls, qt.Equals, 4)

	// reverts are not retried
	f = &fakeChain{callErrs: []error{errors.New("execution reverted")}}
	_, err = newTestLedger(t, f).Root(context.Background())
	c.Assert(err, qt.ErrorIs, ledger.ErrUnavailable)
	c.Assert(f.calls, qt.Equals, 1)
}

func TestTransactions(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	f := &fakeChain{}
	l := newTestLedger(t, f)

	root := common.HexToHash("0x77")
	c.Assert(l.UpdateRoot(ctx, root), qt.IsNil)
	c.Assert(f.sent, qt.HasLen, 1)
	args, err := parsedABI.Methods["updateMerkleRoot"].Inputs.Unpack(f.sent[0].Data()[4:])
	c.Assert(err, qt.IsNil)
	c.Assert(common.Hash(args[0].([32]byte)), qt.Equals, root)

	r, err := l.SubmitSpendNoteCreation(ctx, root, big.NewInt(5))
	c.Assert(err, qt.IsNil)
	c.Assert(r.TxHash, qt.Equals, f.sent[1].Hash())
	c.Assert(r.BlockNumber, qt.Equals, uint64(7))
	c.Assert(f.sent[1].Value().Int64(), qt.Equals, int64(5))

	proof := commitment.Proof{common.HexToHash("0xa1"), common.HexToHash("0xa2")}
	recipient := common.HexToAddress("0xbeef")
	_, err = l.SubmitSpend(ctx, root, common.HexToHash("0x99"), recipient, proof)
	c.Assert(err, qt.IsNil)
	args, err = parsedABI.Methods["spendNote"].Inputs.Unpack(f.sent[2].Data()[4:])
	c.Assert(err, qt.IsNil)
	c.Assert(args[2].(common.Address), qt.Equals, recipient)
	c.Assert(args[3].([][32]byte), qt.DeepEquals, [][32]byte{proof[0], proof[1]})
}

func TestTransactionResendKeepsNonce(t *testing.T) {
	c := qt.New(t)
	f := &fakeChain{sendErrs: []error{errors.New("read tcp: i/o timeout")}}
	l := newTestLedger(t, f)

	r, err := l.SubmitSpendNoteCreation(context.Background(), common.HexToHash("0x05"), big.NewInt(9))
	c.Assert(err, qt.IsNil)
	// the lost answer is retried with the same signed transaction
	c.Assert(f.sends, qt.Equals, 2)
	c.Assert(f.sent, qt.HasLen, 1)
	c.Assert(f.sent[0].Nonce(), qt.Equals, uint64(0))
	c.Assert(r.TxHash, qt.Equals, f.sent[0].Hash())
}

func TestRevertMapping(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	f := &fakeChain{estimateErr: errors.New("execution reverted: Spend note already exists")}
	_, err := newTestLedger(t, f).SubmitSpendNoteCreation(ctx, common.HexToHash("0x01"), big.NewInt(1))
	c.Assert(err, qt.ErrorIs, ledger.ErrAlreadyRegistered)
	c.Assert(f.estimates, qt.Equals, 1)
	c.Assert(f.sent, qt.HasLen, 0)

	f = &fakeChain{estimateErr: errors.New("execution reverted: Nullifier already spent")}
	_, err = newTestLedger(t, f).SubmitSpend(ctx, common.Hash{}, common.Hash{}, common.Address{}, nil)
	c.Assert(err, qt.ErrorIs, ledger.ErrAlreadySpent)

	f = &fakeChain{estimateErr: errors.New("execution reverted: Invalid Merkle proof")}
	_, err = newTestLedger(t, f).SubmitSpend(ctx, common.Hash{}, common.Hash{}, common.Address{}, nil)
	c.Assert(err, qt.ErrorIs, ledger.ErrInvalidProof)

	f = &fakeChain{estimateErr: errors.New("execution reverted: Only owner")}
	err = newTestLedger(t, f).UpdateRoot(ctx, common.Hash{})
	c.Assert(err, qt.ErrorIs, ledger.ErrUnavailable)
}

func TestNewInvalidKey(t *testing.T) {
	_, err := New(context.Background(), Config{PrivateKey: "zz"})
	qt.Assert(t, err, qt.ErrorMatches, "invalid ledger private key.*")
}
