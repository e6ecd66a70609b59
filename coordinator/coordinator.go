// Package coordinator runs the two spend note flows: issuing a note to a
// wallet, and claiming it through a signed claim link.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"go.vocdoni.io/spendnote/claimlink"
	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/db/lru"
	"go.vocdoni.io/spendnote/ledger"
	"go.vocdoni.io/spendnote/log"
	"go.vocdoni.io/spendnote/nullifier"
	"go.vocdoni.io/spendnote/prover"
	"go.vocdoni.io/spendnote/types"
	"go.vocdoni.io/spendnote/util"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidSignature rejects a claim not signed by the recipient.
	ErrInvalidSignature = errors.New("invalid claim signature")
	// ErrNullifierMismatch rejects a link whose nullifier was not issued by
	// this node.
	ErrNullifierMismatch = errors.New("nullifier does not match its encrypted copy")
	// ErrClaimInProgress rejects a claim while another one for the same
	// nullifier is running.
	ErrClaimInProgress = errors.New("claim already in progress")
	// ErrUnknownNote rejects a link for a note that is not in the tree.
	ErrUnknownNote = errors.New("spend note not in commitment tree")
)

// DefaultClaimLockTTL bounds how long a claim holds its nullifier.
const DefaultClaimLockTTL = 5 * time.Minute

// Config holds the coordinator settings.
type Config struct {
	// DefaultAmount is the value of notes issued without an amount.
	DefaultAmount *big.Int
	// LinkBaseURL, if set, is used to build claim urls.
	LinkBaseURL string
	// ClaimLockTTL bounds the time a claim keeps others for the same
	// nullifier out.
	ClaimLockTTL time.Duration
}

// Coordinator wires the nullifier engine, the commitment tree, the prover
// and the ledger together.
type Coordinator struct {
	engine *nullifier.Engine
	tree   *commitment.Tree
	prover prover.Backend
	ledger ledger.Ledger
	cfg    Config

	inflight *lru.TTLCache[common.Hash, string]
	// syncMu serializes every ledger root update with the reads of the
	// tree root it pushes, and keeps a claim's root in place until its
	// spend is submitted.
	syncMu sync.Mutex
}

// New returns a Coordinator. Start must be called before serving requests.
func New(engine *nullifier.Engine, tree *commitment.Tree, p prover.Backend,
	l ledger.Ledger, cfg Config,
) *Coordinator {
	if cfg.DefaultAmount == nil {
		cfg.DefaultAmount, _ = new(big.Int).SetString(types.DefaultAmount, 10)
	}
	if cfg.ClaimLockTTL <= 0 {
		cfg.ClaimLockTTL = DefaultClaimLockTTL
	}
	return &Coordinator{
		engine:   engine,
		tree:     tree,
		prover:   p,
		ledger:   l,
		cfg:      cfg,
		inflight: lru.NewTTLCache[common.Hash, string](),
	}
}

// Start loads the commitment tree and brings the ledger root up to date,
// which also covers notes added before a crash and never synced.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.tree.Initialize(ctx); err != nil {
		return err
	}
	if _, err := c.syncRoot(ctx); err != nil {
		return err
	}
	log.Infow("coordinator started", "leaves", c.tree.Size(), "root", c.tree.Root().Hex(),
		"nullifierKey", c.engine.KeyID())
	return nil
}

// syncRoot pushes the current tree root to the ledger. The tree only
// grows, so reading its root under syncMu never sends the ledger back to
// an older root.
func (c *Coordinator) syncRoot(ctx context.Context) (bool, error) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	return ledger.SyncRoot(ctx, c.ledger, c.tree.Root())
}

// Tree returns the commitment tree.
func (c *Coordinator) Tree() *commitment.Tree { return c.tree }

// Ledger returns the ledger.
func (c *Coordinator) Ledger() ledger.Ledger { return c.ledger }

// IssueRequest asks for a new spend note.
type IssueRequest struct {
	WalletAddress string
	// Amount in base units. Nil means the configured default.
	Amount *big.Int
	// LinkTTL, if positive, makes Issue also return a claim link.
	LinkTTL time.Duration
}

// IssueResult is everything produced while issuing a note.
type IssueResult struct {
	LeafHash    common.Hash
	Nullifier   *nullifier.Data
	Note        commitment.SpendNote
	MerkleProof commitment.Proof
	MerkleRoot  common.Hash
	Proof       *prover.SpendProof
	Receipt     *ledger.Receipt
	// RootSynced is true if the ledger root had to be updated.
	RootSynced bool
	Link       string
	LinkURL    string
	LinkData   *claimlink.LinkData
}

// Issue creates a spend note for req.WalletAddress, commits it to the
// tree, proves it, registers it in the ledger and syncs the ledger root.
// Any failure stops the flow. Steps already done stay done: a note in
// the tree but missing in the ledger is fixed by the next root sync.
func (c *Coordinator) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	amount := req.Amount
	if amount == nil {
		amount = c.cfg.DefaultAmount
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	addr, err := util.ParseAddress(req.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	nd, err := c.engine.Generate(req.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	note := commitment.SpendNote{
		WalletAddress: addr,
		Nullifier:     nd.Nullifier,
		Amount:        new(big.Int).Set(amount),
		Timestamp:     nd.Timestamp,
	}
	leafHash, err := c.tree.AddSpendNote(ctx, note)
	if err != nil {
		if errors.Is(err, commitment.ErrAmountOverflow) || errors.Is(err, commitment.ErrInvalidInput) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("cannot add spend note: %w", err)
	}
	res := &IssueResult{LeafHash: leafHash, Nullifier: nd, Note: note}

	res.MerkleProof, res.MerkleRoot, err = c.tree.GetProofWithRoot(leafHash)
	if err != nil {
		return nil, err
	}
	res.Proof, err = c.prover.ProveSpend(ctx, &prover.SpendRequest{
		WalletAddress: addr,
		Amount:        amount,
		Leaf:          leafHash,
		MerkleProof:   res.MerkleProof,
		MerkleRoot:    res.MerkleRoot,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot prove spend note %x: %w", leafHash, err)
	}
	if !c.prover.VerifySpend(ctx, res.Proof) {
		return nil, fmt.Errorf("%w: spend proof of %x does not verify", prover.ErrProofGeneration, leafHash)
	}

	res.Receipt, err = c.ledger.SubmitSpendNoteCreation(ctx, leafHash, amount)
	switch {
	case errors.Is(err, ledger.ErrAlreadyRegistered):
		log.Warnw("spend note already registered in ledger", "leaf", leafHash.Hex())
	case err != nil:
		return nil, fmt.Errorf("cannot register spend note %x: %w", leafHash, err)
	}
	if res.RootSynced, err = c.syncRoot(ctx); err != nil {
		return nil, err
	}

	if req.LinkTTL > 0 {
		res.Link, res.LinkData, err = claimlink.Generate(leafHash, nd, res.MerkleProof, req.LinkTTL)
		if err != nil {
			return nil, err
		}
		if c.cfg.LinkBaseURL != "" {
			if res.LinkURL, err = claimlink.ClaimURL(c.cfg.LinkBaseURL, res.Link); err != nil {
				return nil, err
			}
		}
	}
	notesIssued.WithLabelValues(string(res.Proof.Backend)).Inc()
	log.Infow("spend note issued", "leaf", leafHash.Hex(), "amount", amount.String(),
		"root", res.MerkleRoot.Hex(), "prover", res.Proof.Backend)
	return res, nil
}

// Outcome of a claim.
type Outcome string

const (
	OutcomeClaimed  Outcome = "claimed"
	OutcomeRejected Outcome = "rejected"
)

// ClaimRequest redeems a claim link. Token may also be a full claim url.
type ClaimRequest struct {
	Token     string
	Signature string
	Recipient string
}

// ClaimResult is the answer to a claim. A rejected claim carries the
// reason, one of claimlink.ErrMalformed, claimlink.ErrExpired,
// ErrInvalidSignature, ErrNullifierMismatch, ErrUnknownNote,
// ErrClaimInProgress or ledger.ErrAlreadySpent, possibly wrapped.
type ClaimResult struct {
	Outcome   Outcome
	Reason    error
	NoteHash  common.Hash
	Nullifier common.Hash
	Recipient common.Address
	Receipt   *ledger.Receipt
}

func rejected(reason error) *ClaimResult {
	log.Debugw("claim rejected", "reason", reason)
	claimsCounter.WithLabelValues(string(OutcomeRejected), reasonLabel(reason)).Inc()
	return &ClaimResult{Outcome: OutcomeRejected, Reason: reason}
}

// Claim redeems a claim link for req.Recipient. The signature is checked
// before any ledger call, and the nullifier is checked unspent before
// the spend is submitted. Only infrastructure failures are returned as
// errors; every other problem is a rejected ClaimResult.
func (c *Coordinator) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	token, err := claimlink.TokenFromURL(req.Token)
	if err != nil {
		return rejected(err), nil
	}
	link, err := claimlink.Parse(token)
	if err != nil {
		return rejected(err), nil
	}
	msg := claimlink.ClaimMessage(req.Recipient, link)
	if !claimlink.VerifySignature(msg, req.Signature, req.Recipient) {
		return rejected(ErrInvalidSignature), nil
	}
	// VerifySignature already checked the address
	recipient, _ := util.ParseAddress(req.Recipient)
	if !c.engine.Verify(link.Nullifier, link.EncryptedNullifier) {
		return rejected(ErrNullifierMismatch), nil
	}
	// the nullifier must be the one committed in the named leaf, or a
	// link could be pointed at somebody else's note
	leaf, err := c.tree.Leaf(link.NoteHash)
	if errors.Is(err, commitment.ErrLeafNotFound) {
		return rejected(fmt.Errorf("%w: %x", ErrUnknownNote, link.NoteHash)), nil
	}
	if err != nil {
		return nil, err
	}
	if leaf.Note.Nullifier != link.Nullifier {
		return rejected(fmt.Errorf("%w: note %x was not issued with nullifier %x",
			ErrNullifierMismatch, link.NoteHash, link.Nullifier)), nil
	}

	now := time.Now()
	if !c.inflight.PutIfAbsent(link.Nullifier, recipient.Hex(), now.Add(c.cfg.ClaimLockTTL), now) {
		holder, _ := c.inflight.Get(link.Nullifier)
		log.Debugw("claim already running", "nullifier", link.Nullifier.Hex(), "holder", holder)
		return rejected(ErrClaimInProgress), nil
	}
	defer c.inflight.Delete(link.Nullifier)

	spent, err := c.ledger.IsNullifierSpent(ctx, link.Nullifier)
	if err != nil {
		return nil, fmt.Errorf("cannot check nullifier: %w", err)
	}
	if spent {
		return rejected(ledger.ErrAlreadySpent), nil
	}

	receipt, err := c.submitSpend(ctx, link, recipient)
	if errors.Is(err, ledger.ErrAlreadySpent) {
		return rejected(err), nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot submit spend: %w", err)
	}
	log.Infow("spend note claimed", "note", link.NoteHash.Hex(), "recipient", recipient.Hex(),
		"tx", receipt.TxHash.Hex())
	claimsCounter.WithLabelValues(string(OutcomeClaimed), "").Inc()
	return &ClaimResult{
		Outcome:   OutcomeClaimed,
		NoteHash:  link.NoteHash,
		Nullifier: link.Nullifier,
		Recipient: recipient,
		Receipt:   receipt,
	}, nil
}

// submitSpend refreshes the proof, brings the ledger to the root it was
// made against and submits the spend, all under syncMu so that no other
// root update lands in between.
func (c *Coordinator) submitSpend(ctx context.Context, link *claimlink.LinkData,
	recipient common.Address,
) (*ledger.Receipt, error) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	proof, root, err := c.currentProof(link)
	if err != nil {
		return nil, err
	}
	if _, err := ledger.SyncRoot(ctx, c.ledger, root); err != nil {
		return nil, err
	}
	return c.ledger.SubmitSpend(ctx, link.NoteHash, link.Nullifier, recipient, proof)
}

// currentProof returns the link proof if it still matches the tree root,
// or a fresh one otherwise. Later notes move the root, so the proof in a
// link goes stale.
func (c *Coordinator) currentProof(link *claimlink.LinkData) (commitment.Proof, common.Hash, error) {
	proof, root, err := c.tree.GetProofWithRoot(link.NoteHash)
	if errors.Is(err, commitment.ErrLeafNotFound) {
		return nil, common.Hash{}, fmt.Errorf("%w: %x", ErrUnknownNote, link.NoteHash)
	}
	if err != nil {
		return nil, common.Hash{}, err
	}
	if commitment.VerifyProof(link.NoteHash, link.MerkleProof, root) {
		return link.MerkleProof, root, nil
	}
	log.Debugw("refreshing stale link proof", "note", link.NoteHash.Hex(), "root", root.Hex())
	return proof, root, nil
}

// NoteInfo describes the note behind a claim link.
type NoteInfo struct {
	NoteHash   common.Hash `json:"noteHash"`
	Amount     *big.Int    `json:"amount"`
	Spent      bool        `json:"spent"`
	Registered bool        `json:"registered"`
	ExpiresAt  int64       `json:"expiresAt"`
}

// NoteInfo parses token and looks up its note. An invalid token fails with
// claimlink.ErrMalformed or claimlink.ErrExpired.
func (c *Coordinator) NoteInfo(ctx context.Context, token string) (*NoteInfo, error) {
	token, err := claimlink.TokenFromURL(token)
	if err != nil {
		return nil, err
	}
	link, err := claimlink.Parse(token)
	if err != nil {
		return nil, err
	}
	info := &NoteInfo{NoteHash: link.NoteHash, ExpiresAt: link.ExpiresAt}
	note, err := c.ledger.SpendNote(ctx, link.NoteHash)
	switch {
	case err == nil:
		info.Amount, info.Registered = note.Amount, true
	case errors.Is(err, ledger.ErrNoteNotFound):
		leaf, lerr := c.tree.Leaf(link.NoteHash)
		if lerr != nil {
			return nil, fmt.Errorf("%w: %x", ErrUnknownNote, link.NoteHash)
		}
		info.Amount = leaf.Note.Amount
	default:
		return nil, err
	}
	if info.Spent, err = c.ledger.IsNullifierSpent(ctx, link.Nullifier); err != nil {
		return nil, err
	}
	return info, nil
}

// VerifySpendNote reports whether encrypted is the encrypted copy of
// nullifier made by this node, and proof places leafHash under the
// current root.
func (c *Coordinator) VerifySpendNote(leafHash common.Hash, proof commitment.Proof,
	nullifier common.Hash, encrypted []byte,
) bool {
	return c.engine.Verify(nullifier, encrypted) && c.tree.VerifyLeaf(leafHash, proof)
}
