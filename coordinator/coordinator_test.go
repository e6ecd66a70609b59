package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	qt "github.com/frankban/quicktest"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"go.vocdoni.io/spendnote/claimlink"
	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/crypto/ethereum"
	"go.vocdoni.io/spendnote/db"
	"go.vocdoni.io/spendnote/ledger"
	"go.vocdoni.io/spendnote/ledger/memledger"
	"go.vocdoni.io/spendnote/notestore"
	"go.vocdoni.io/spendnote/nullifier"
	"go.vocdoni.io/spendnote/prover"
)

var testWallet = "0x" + strings.Repeat("aa", 20)

type testNode struct {
	*Coordinator
	engine *nullifier.Engine
	ledger *memledger.Ledger
	broker *prover.Broker
}

func newTestNode(t *testing.T, storage commitment.Storage) *testNode {
	engine := nullifier.NewEngine(nil)
	l := memledger.New()
	broker := prover.NewBrokerWithBackend(prover.Mock{})
	c := New(engine, commitment.New(storage), broker, l, Config{LinkBaseURL: "http://localhost:5173"})
	qt.Assert(t, c.Start(context.Background()), qt.IsNil)
	return &testNode{Coordinator: c, engine: engine, ledger: l, broker: broker}
}

func newRecipient(t *testing.T) *ethereum.SignKeys {
	k := ethereum.NewSignKeys()
	qt.Assert(t, k.Generate(), qt.IsNil)
	return k
}

func signClaim(t *testing.T, k *ethereum.SignKeys, token string) ClaimRequest {
	link, err := claimlink.Parse(token)
	qt.Assert(t, err, qt.IsNil)
	recipient := k.Address().Hex()
	sig, err := k.SignEthereum([]byte(claimlink.ClaimMessage(recipient, link)))
	qt.Assert(t, err, qt.IsNil)
	return ClaimRequest{Token: token, Signature: hexutil.Encode(sig), Recipient: recipient}
}

func TestEndToEnd(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	n := newTestNode(t, nil)

	res, err := n.Issue(ctx, IssueRequest{
		WalletAddress: testWallet,
		Amount:        big.NewInt(100),
		LinkTTL:       60 * time.Minute,
	})
	c.Assert(err, qt.IsNil)

	leaf, err := n.Tree().Leaf(res.LeafHash)
	c.Assert(err, qt.IsNil)
	c.Assert(leaf.Index, qt.Equals, uint64(0))
	c.Assert(leaf.Note.WalletAddress, qt.Equals, common.HexToAddress(testWallet))
	// a single leaf is the root
	c.Assert(res.MerkleRoot, qt.Equals, res.LeafHash)
	c.Assert(res.MerkleProof, qt.HasLen, 0)
	c.Assert(n.engine.Verify(res.Nullifier.Nullifier, res.Nullifier.EncryptedNullifier), qt.IsTrue)

	c.Assert(res.Proof.Backend, qt.Equals, prover.KindMock)
	c.Assert(res.Proof.Amount.Int64(), qt.Equals, int64(100))
	c.Assert(n.broker.VerifySpend(ctx, res.Proof), qt.IsTrue)
	c.Assert(res.RootSynced, qt.IsTrue)
	ledgerRoot, err := n.ledger.Root(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(ledgerRoot, qt.Equals, res.MerkleRoot)
	c.Assert(res.LinkURL, qt.Equals, "http://localhost:5173/claim?data="+res.Link)

	link, err := claimlink.Parse(res.Link)
	c.Assert(err, qt.IsNil)
	c.Assert(link.ExpiresAt-link.Timestamp, qt.Equals, int64(time.Hour/time.Millisecond))

	recipient := newRecipient(t)
	req := signClaim(t, recipient, res.Link)
	c.Assert(claimlink.VerifySignature(claimlink.ClaimMessage(req.Recipient, link), req.Signature, req.Recipient), qt.IsTrue)

	spent, err := n.ledger.IsNullifierSpent(ctx, link.Nullifier)
	c.Assert(err, qt.IsNil)
	c.Assert(spent, qt.IsFalse)

	cr, err := n.Claim(ctx, req)
	c.Assert(err, qt.IsNil)
	c.Assert(cr.Outcome, qt.Equals, OutcomeClaimed)
	c.Assert(cr.Recipient, qt.Equals, recipient.Address())
	c.Assert(cr.Receipt, qt.IsNotNil)

	spent, err = n.ledger.IsNullifierSpent(ctx, link.Nullifier)
	c.Assert(err, qt.IsNil)
	c.Assert(spent, qt.IsTrue)
	payments := n.ledger.Payments()
	c.Assert(payments, qt.HasLen, 1)
	c.Assert(payments[0].Amount.Int64(), qt.Equals, int64(100))
	c.Assert(payments[0].Recipient, qt.Equals, recipient.Address())

	cr, err = n.Claim(ctx, req)
	c.Assert(err, qt.IsNil)
	c.Assert(cr.Outcome, qt.Equals, OutcomeRejected)
	c.Assert(cr.Reason, qt.ErrorIs, ledger.ErrAlreadySpent)
}

func TestClaimStaleProof(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	n := newTestNode(t, nil)

	first, err := n.Issue(ctx, IssueRequest{WalletAddress: testWallet, LinkTTL: time.Hour})
	c.Assert(err, qt.IsNil)
	for i := 0; i < 4; i++ {
		_, err := n.Issue(ctx, IssueRequest{WalletAddress: testWallet})
		c.Assert(err, qt.IsNil)
	}
	c.Assert(n.Tree().Root(), qt.Not(qt.Equals), first.MerkleRoot)
	c.Assert(n.Tree().VerifyLeaf(first.LeafHash, first.LinkData.MerkleProof), qt.IsFalse)

	cr, err := n.Claim(ctx, signClaim(t, newRecipient(t), first.LinkURL))
	c.Assert(err, qt.IsNil)
	c.Assert(cr.Outcome, qt.Equals, OutcomeClaimed, qt.Commentf("%v", cr.Reason))
	c.Assert(n.ledger.Payments()[0].Amount.String(), qt.Equals, "1000000000000000000")
}

func TestClaimRejections(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	n := newTestNode(t, nil)
	res, err := n.Issue(ctx, IssueRequest{WalletAddress: testWallet, LinkTTL: time.Hour})
	c.Assert(err, qt.IsNil)
	alice, bob := newRecipient(t), newRecipient(t)

	check := func(req ClaimRequest, reason error) {
		t.Helper()
		cr, err := n.Claim(ctx, req)
		c.Assert(err, qt.IsNil)
		c.Assert(cr.Outcome, qt.Equals, OutcomeRejected)
		c.Assert(cr.Reason, qt.ErrorIs, reason)
	}

	check(ClaimRequest{Token: "garbage!", Recipient: alice.Address().Hex()}, claimlink.ErrMalformed)

	expired, _, err := claimlink.GenerateAt(res.LeafHash, res.Nullifier, res.MerkleProof,
		time.Minute, time.Now().Add(-time.Hour))
	c.Assert(err, qt.IsNil)
	check(ClaimRequest{Token: expired, Recipient: alice.Address().Hex()}, claimlink.ErrExpired)

	// signed by bob, claimed for alice
	req := signClaim(t, bob, res.Link)
	req.Recipient = alice.Address().Hex()
	check(req, ErrInvalidSignature)

	// nullifier from another node key
	other, err := nullifier.NewEngine(nil).Generate(testWallet)
	c.Assert(err, qt.IsNil)
	foreign, _, err := claimlink.Generate(res.LeafHash, other, res.MerkleProof, time.Hour)
	c.Assert(err, qt.IsNil)
	check(signClaim(t, alice, foreign), ErrNullifierMismatch)

	// valid nullifier, note not in the tree
	nd, err := n.engine.Generate(testWallet)
	c.Assert(err, qt.IsNil)
	unknown, _, err := claimlink.Generate(common.Hash{1}, nd, nil, time.Hour)
	c.Assert(err, qt.IsNil)
	check(signClaim(t, alice, unknown), ErrUnknownNote)

	// our own nullifier pointed at a note issued to somebody else
	victim, err := n.Issue(ctx, IssueRequest{
		WalletAddress: "0x" + strings.Repeat("bb", 20),
		Amount:        big.NewInt(1000000),
	})
	c.Assert(err, qt.IsNil)
	swapped, _, err := claimlink.Generate(victim.LeafHash, res.Nullifier, nil, time.Hour)
	c.Assert(err, qt.IsNil)
	check(signClaim(t, alice, swapped), ErrNullifierMismatch)
	spent, err := n.ledger.IsNullifierSpent(ctx, res.Nullifier.Nullifier)
	c.Assert(err, qt.IsNil)
	c.Assert(spent, qt.IsFalse)

	// another claim holds the nullifier
	now := time.Now()
	c.Assert(n.inflight.PutIfAbsent(res.Nullifier.Nullifier, "x", now.Add(time.Minute), now), qt.IsTrue)
	check(signClaim(t, alice, res.Link), ErrClaimInProgress)
	n.inflight.Delete(res.Nullifier.Nullifier)

	// nothing was spent on the way
	c.Assert(n.ledger.Payments(), qt.HasLen, 0)
	cr, err := n.Claim(ctx, signClaim(t, alice, res.Link))
	c.Assert(err, qt.IsNil)
	c.Assert(cr.Outcome, qt.Equals, OutcomeClaimed)
}

// flakyLedger fails the spent check while down is set.
type flakyLedger struct {
	*memledger.Ledger
	mu   sync.Mutex
	down bool
}

func (f *flakyLedger) IsNullifierSpent(ctx context.Context, n common.Hash) (bool, error) {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		return false, errors.Join(ledger.ErrUnavailable, errors.New("connection refused"))
	}
	return f.Ledger.IsNullifierSpent(ctx, n)
}

func TestClaimLedgerUnavailable(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	l := &flakyLedger{Ledger: memledger.New()}
	engine := nullifier.NewEngine(nil)
	co := New(engine, commitment.New(nil), prover.NewBrokerWithBackend(prover.Mock{}), l, Config{})
	c.Assert(co.Start(ctx), qt.IsNil)

	res, err := co.Issue(ctx, IssueRequest{WalletAddress: testWallet, LinkTTL: time.Hour})
	c.Assert(err, qt.IsNil)
	req := signClaim(t, newRecipient(t), res.Link)

	l.down = true
	_, err = co.Claim(ctx, req)
	c.Assert(err, qt.ErrorIs, ledger.ErrUnavailable)

	// the failed claim released its nullifier
	l.down = false
	cr, err := co.Claim(ctx, req)
	c.Assert(err, qt.IsNil)
	c.Assert(cr.Outcome, qt.Equals, OutcomeClaimed)
}

func TestIssueInvalid(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	n := newTestNode(t, nil)

	_, err := n.Issue(ctx, IssueRequest{WalletAddress: "0x1234"})
	c.Assert(err, qt.ErrorIs, ErrInvalidInput)
	_, err = n.Issue(ctx, IssueRequest{WalletAddress: testWallet, Amount: big.NewInt(0)})
	c.Assert(err, qt.ErrorIs, ErrInvalidInput)
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = n.Issue(ctx, IssueRequest{WalletAddress: testWallet, Amount: tooBig})
	c.Assert(err, qt.ErrorIs, ErrInvalidInput)
	c.Assert(err, qt.ErrorIs, commitment.ErrAmountOverflow)
	c.Assert(n.Tree().Size(), qt.Equals, 0)
}

type failingProver struct{ prover.Mock }

func (failingProver) ProveSpend(context.Context, *prover.SpendRequest) (*prover.SpendProof, error) {
	return nil, prover.ErrProofGeneration
}

func TestIssuePartialFailureAndRestart(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	dir := t.TempDir()
	store, err := notestore.Open(db.TypePebble, dir)
	c.Assert(err, qt.IsNil)

	engine := nullifier.NewEngine(nil)
	l := memledger.New()
	co := New(engine, commitment.New(store), prover.NewBrokerWithBackend(failingProver{}), l, Config{})
	c.Assert(co.Start(ctx), qt.IsNil)

	_, err = co.Issue(ctx, IssueRequest{WalletAddress: testWallet})
	c.Assert(err, qt.ErrorIs, prover.ErrProofGeneration)
	// the leaf stays, the ledger never heard of it
	c.Assert(co.Tree().Size(), qt.Equals, 1)
	localRoot := co.Tree().Root()
	ledgerRoot, err := l.Root(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(ledgerRoot, qt.Not(qt.Equals), localRoot)
	c.Assert(store.Close(), qt.IsNil)

	// the restart brings the ledger root up to date
	store, err = notestore.Open(db.TypePebble, dir)
	c.Assert(err, qt.IsNil)
	defer store.Close()
	co = New(engine, commitment.New(store), prover.NewBrokerWithBackend(prover.Mock{}), l, Config{})
	c.Assert(co.Start(ctx), qt.IsNil)
	c.Assert(co.Tree().Root(), qt.Equals, localRoot)
	ledgerRoot, err = l.Root(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(ledgerRoot, qt.Equals, localRoot)

	res, err := co.Issue(ctx, IssueRequest{WalletAddress: testWallet, LinkTTL: time.Hour})
	c.Assert(err, qt.IsNil)
	leaf, err := co.Tree().Leaf(res.LeafHash)
	c.Assert(err, qt.IsNil)
	c.Assert(leaf.Index, qt.Equals, uint64(1))
}

func TestConcurrentIssue(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	n := newTestNode(t, nil)

	const count = 10
	var wg sync.WaitGroup
	hashes := make([]common.Hash, count)
	errs := make([]error, count)
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := n.Issue(ctx, IssueRequest{WalletAddress: testWallet})
			errs[i] = err
			if err == nil {
				hashes[i] = res.LeafHash
			}
		}(i)
	}
	wg.Wait()
	indices := make(map[uint64]bool)
	for i := 0; i < count; i++ {
		c.Assert(errs[i], qt.IsNil)
		leaf, err := n.Tree().Leaf(hashes[i])
		c.Assert(err, qt.IsNil)
		indices[leaf.Index] = true
	}
	c.Assert(indices, qt.HasLen, count)
	ledgerRoot, err := n.ledger.Root(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(ledgerRoot, qt.Equals, n.Tree().Root())
}

func TestConcurrentIssueAndClaim(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	n := newTestNode(t, nil)

	const count = 6
	links := make([]string, count)
	for i := range links {
		res, err := n.Issue(ctx, IssueRequest{WalletAddress: testWallet, LinkTTL: time.Hour})
		c.Assert(err, qt.IsNil)
		links[i] = res.Link
	}

	var wg sync.WaitGroup
	issueErrs := make([]error, count)
	claims := make([]*ClaimResult, count)
	claimErrs := make([]error, count)
	for i := 0; i < count; i++ {
		req := signClaim(t, newRecipient(t), links[i])
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, issueErrs[i] = n.Issue(ctx, IssueRequest{WalletAddress: testWallet})
		}(i)
		go func(i int) {
			defer wg.Done()
			claims[i], claimErrs[i] = n.Claim(ctx, req)
		}(i)
	}
	wg.Wait()

	for i := 0; i < count; i++ {
		c.Assert(issueErrs[i], qt.IsNil)
		c.Assert(claimErrs[i], qt.IsNil)
		c.Assert(claims[i].Outcome, qt.Equals, OutcomeClaimed, qt.Commentf("reason: %v", claims[i].Reason))
	}
	c.Assert(n.Tree().Size(), qt.Equals, 2*count)
	c.Assert(n.ledger.Payments(), qt.HasLen, count)
	ledgerRoot, err := n.ledger.Root(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(ledgerRoot, qt.Equals, n.Tree().Root())
}

func TestNoteInfo(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	n := newTestNode(t, nil)
	res, err := n.Issue(ctx, IssueRequest{WalletAddress: testWallet, Amount: big.NewInt(42), LinkTTL: time.Hour})
	c.Assert(err, qt.IsNil)

	info, err := n.NoteInfo(ctx, res.LinkURL)
	c.Assert(err, qt.IsNil)
	c.Assert(info.NoteHash, qt.Equals, res.LeafHash)
	c.Assert(info.Amount.Int64(), qt.Equals, int64(42))
	c.Assert(info.Registered, qt.IsTrue)
	c.Assert(info.Spent, qt.IsFalse)

	_, err = n.Claim(ctx, signClaim(t, newRecipient(t), res.Link))
	c.Assert(err, qt.IsNil)
	info, err = n.NoteInfo(ctx, res.Link)
	c.Assert(err, qt.IsNil)
	c.Assert(info.Spent, qt.IsTrue)

	_, err = n.NoteInfo(ctx, "bad token")
	c.Assert(err, qt.ErrorIs, claimlink.ErrMalformed)
}

func TestVerifySpendNote(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	n := newTestNode(t, nil)
	res, err := n.Issue(ctx, IssueRequest{WalletAddress: testWallet})
	c.Assert(err, qt.IsNil)
	nd := res.Nullifier

	proof, err := n.Tree().GetProof(res.LeafHash)
	c.Assert(err, qt.IsNil)
	c.Assert(n.VerifySpendNote(res.LeafHash, proof, nd.Nullifier, nd.EncryptedNullifier), qt.IsTrue)

	tampered := append([]byte(nil), nd.EncryptedNullifier...)
	tampered[len(tampered)-1] ^= 1
	c.Assert(n.VerifySpendNote(res.LeafHash, proof, nd.Nullifier, tampered), qt.IsFalse)
	c.Assert(n.VerifySpendNote(common.Hash{1}, proof, nd.Nullifier, nd.EncryptedNullifier), qt.IsFalse)
}

func TestClaimMetrics(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	n := newTestNode(t, nil)
	rejectedMalformed := claimsCounter.WithLabelValues(string(OutcomeRejected), "malformed")
	claimed := claimsCounter.WithLabelValues(string(OutcomeClaimed), "")
	issued := notesIssued.WithLabelValues(string(prover.KindMock))
	before := [3]float64{testutil.ToFloat64(rejectedMalformed), testutil.ToFloat64(claimed), testutil.ToFloat64(issued)}

	res, err := n.Issue(ctx, IssueRequest{WalletAddress: testWallet, LinkTTL: time.Hour})
	c.Assert(err, qt.IsNil)
	_, err = n.Claim(ctx, ClaimRequest{Token: "garbage!"})
	c.Assert(err, qt.IsNil)
	cr, err := n.Claim(ctx, signClaim(t, newRecipient(t), res.Link))
	c.Assert(err, qt.IsNil)
	c.Assert(cr.Outcome, qt.Equals, OutcomeClaimed)

	c.Assert(testutil.ToFloat64(rejectedMalformed), qt.Equals, before[0]+1)
	c.Assert(testutil.ToFloat64(claimed), qt.Equals, before[1]+1)
	c.Assert(testutil.ToFloat64(issued), qt.Equals, before[2]+1)
}

func TestReasonLabel(t *testing.T) {
	c := qt.New(t)
	c.Assert(reasonLabel(nil), qt.Equals, "")
	c.Assert(reasonLabel(fmt.Errorf("spend: %w", ledger.ErrAlreadySpent)), qt.Equals, "already_spent")
	c.Assert(reasonLabel(ErrClaimInProgress), qt.Equals, "in_progress")
	c.Assert(reasonLabel(errors.New("boom")), qt.Equals, "other")
}
