package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"go.vocdoni.io/spendnote/claimlink"
	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/types"
)

// ### Params accepted ###

// IssueParams asks for a new spend note. Amount is in wei; AmountEther, if
// set, takes precedence. Without either the node default is used.
type IssueParams struct {
	WalletAddress  string        `json:"walletAddress"`
	Amount         *types.BigInt `json:"amount,omitempty"`
	AmountEther    string        `json:"amountEther,omitempty"`
	LinkTTLMinutes int           `json:"linkTTLMinutes,omitempty"`
}

// ClaimParams redeems a claim link. Token may be the bare token or the full
// claim url.
type ClaimParams struct {
	Token     string `json:"token"`
	Signature string `json:"signature"`
	Recipient string `json:"recipient"`
}

// VerifyParams checks a spend note held by a client.
type VerifyParams struct {
	LeafHash           common.Hash      `json:"leafHash"`
	MerkleProof        commitment.Proof `json:"merkleProof"`
	Nullifier          common.Hash      `json:"nullifier"`
	EncryptedNullifier hexutil.Bytes    `json:"encryptedNullifier"`
}

// ### Objects returned ###

// Receipt of a ledger operation.
type Receipt struct {
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
}

// SpendProof is the proof produced for an issued note.
type SpendProof struct {
	Backend    string        `json:"backend"`
	Receipt    hexutil.Bytes `json:"receipt"`
	MerkleRoot common.Hash   `json:"merkleRoot"`
	Nullifier  common.Hash   `json:"nullifier"`
	Amount     *types.BigInt `json:"amount"`
}

// IssuedNote is the answer to an issue request.
type IssuedNote struct {
	LeafHash           common.Hash         `json:"leafHash"`
	WalletAddress      common.Address      `json:"walletAddress"`
	Amount             *types.BigInt       `json:"amount"`
	Timestamp          int64               `json:"timestamp"`
	Nullifier          common.Hash         `json:"nullifier"`
	EncryptedNullifier hexutil.Bytes       `json:"encryptedNullifier"`
	MerkleProof        commitment.Proof    `json:"merkleProof"`
	MerkleRoot         common.Hash         `json:"merkleRoot"`
	Proof              *SpendProof         `json:"proof"`
	Receipt            *Receipt            `json:"receipt,omitempty"`
	RootSynced         bool                `json:"rootSynced"`
	Link               string              `json:"link,omitempty"`
	LinkURL            string              `json:"linkUrl,omitempty"`
	LinkData           *claimlink.LinkData `json:"linkData,omitempty"`
}

// TreeRoot compares the local commitment root with the ledger one.
type TreeRoot struct {
	Root       common.Hash `json:"root"`
	LedgerRoot common.Hash `json:"ledgerRoot"`
	InSync     bool        `json:"inSync"`
	Size       int         `json:"size"`
}

// LeafProof is the inclusion proof of a leaf under Root. Indices tells,
// for each sibling, whether the running node is hashed first.
type LeafProof struct {
	LeafHash    common.Hash      `json:"leafHash"`
	Index       uint64           `json:"index"`
	MerkleProof commitment.Proof `json:"merkleProof"`
	Indices     []bool           `json:"indices"`
	Root        common.Hash      `json:"root"`
}

// NoteInfo describes the note behind a claim link.
type NoteInfo struct {
	NoteHash    common.Hash   `json:"noteHash"`
	Amount      *types.BigInt `json:"amount"`
	AmountEther string        `json:"amountEther"`
	Spent       bool          `json:"spent"`
	Registered  bool          `json:"registered"`
	ExpiresAt   int64         `json:"expiresAt"`
}

// ClaimResult is the answer to a claim. Rejected claims are returned as
// errors, so Outcome is always "claimed".
type ClaimResult struct {
	Outcome   string         `json:"outcome"`
	NoteHash  common.Hash    `json:"noteHash"`
	Nullifier common.Hash    `json:"nullifier"`
	Recipient common.Address `json:"recipient"`
	Receipt   *Receipt       `json:"receipt"`
}

// Verification is the answer to a verify request.
type Verification struct {
	Valid bool `json:"valid"`
}
