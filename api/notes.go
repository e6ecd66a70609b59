package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/coordinator"
	"go.vocdoni.io/spendnote/httprouter"
	"go.vocdoni.io/spendnote/httprouter/apirest"
	"go.vocdoni.io/spendnote/log"
	"go.vocdoni.io/spendnote/types"
	"go.vocdoni.io/spendnote/util"
)

func (a *API) enableNotesHandlers() error {
	if err := a.Endpoint.RegisterMethod(
		"/notes",
		"POST",
		apirest.MethodAccessTypeAdmin,
		a.issueHandler,
	); err != nil {
		return err
	}
	if err := a.Endpoint.RegisterMethod(
		"/notes/root",
		"GET",
		apirest.MethodAccessTypePublic,
		a.rootHandler,
	); err != nil {
		return err
	}
	if err := a.Endpoint.RegisterMethod(
		"/notes/verify",
		"POST",
		apirest.MethodAccessTypePublic,
		a.verifyHandler,
	); err != nil {
		return err
	}
	if err := a.Endpoint.RegisterMethod(
		"/notes/{leafHash}/proof",
		"GET",
		apirest.MethodAccessTypePublic,
		a.proofHandler,
	); err != nil {
		return err
	}
	return nil
}

// issueHandler
//
//	@Summary		Issue a spend note
//	@Description	Creates a spend note for a wallet, commits it, proves it and registers it in the ledger.
//	@Tags			Notes
//	@Accept			json
//	@Produce		json
//	@Security		BasicAuth
//	@Param			transaction	body		IssueParams	true	"wallet and optional amount"
//	@Success		200			{object}	IssuedNote
//	@Router			/notes [post]
func (a *API) issueHandler(msg *apirest.APIdata, ctx *httprouter.HTTPContext) error {
	params := &IssueParams{}
	if err := json.Unmarshal(msg.Data, params); err != nil {
		return ErrCantParseDataAsJSON.WithErr(err)
	}
	if params.WalletAddress == "" {
		return ErrParamMissing.With("walletAddress")
	}
	if _, err := util.ParseAddress(params.WalletAddress); err != nil {
		return ErrAddressMalformed.WithErr(err)
	}
	var amount *big.Int
	switch {
	case params.AmountEther != "":
		wei, err := util.EtherToWei(params.AmountEther)
		if err != nil {
			return ErrAmountInvalid.WithErr(err)
		}
		amount = wei
	case params.Amount != nil:
		amount = params.Amount.MathBigInt()
	}
	if amount != nil && amount.Sign() <= 0 {
		return ErrAmountInvalid.With("amount must be positive")
	}
	if params.LinkTTLMinutes < 0 || params.LinkTTLMinutes > a.maxLinkTTLMinutes {
		return ErrLinkTTLInvalid.Withf("%d minutes", params.LinkTTLMinutes)
	}

	res, err := a.coordinator.Issue(ctx.Request.Context(), coordinator.IssueRequest{
		WalletAddress: params.WalletAddress,
		Amount:        amount,
		LinkTTL:       time.Duration(params.LinkTTLMinutes) * time.Minute,
	})
	if err != nil {
		log.Warnw("cannot issue spend note", "wallet", params.WalletAddress, "error", err)
		return toAPIerror(err)
	}
	issued := &IssuedNote{
		LeafHash:           res.LeafHash,
		WalletAddress:      res.Note.WalletAddress,
		Amount:             types.NewBigInt(res.Note.Amount),
		Timestamp:          res.Note.Timestamp,
		Nullifier:          res.Nullifier.Nullifier,
		EncryptedNullifier: res.Nullifier.EncryptedNullifier,
		MerkleProof:        res.MerkleProof,
		MerkleRoot:         res.MerkleRoot,
		Proof: &SpendProof{
			Backend:    string(res.Proof.Backend),
			Receipt:    res.Proof.Receipt,
			MerkleRoot: res.Proof.MerkleRoot,
			Nullifier:  res.Proof.Nullifier,
			Amount:     types.NewBigInt(res.Proof.Amount),
		},
		RootSynced: res.RootSynced,
		Link:       res.Link,
		LinkURL:    res.LinkURL,
		LinkData:   res.LinkData,
	}
	if res.Receipt != nil {
		issued.Receipt = &Receipt{TxHash: res.Receipt.TxHash, BlockNumber: res.Receipt.BlockNumber}
	}
	data, err := json.Marshal(issued)
	if err != nil {
		return ErrMarshalingServerJSON.WithErr(err)
	}
	return ctx.Send(data, apirest.HTTPstatusOK)
}

// rootHandler
//
//	@Summary		Commitment root
//	@Description	Returns the local commitment root and the root stored in the ledger.
//	@Tags			Notes
//	@Produce		json
//	@Success		200	{object}	TreeRoot
//	@Router			/notes/root [get]
func (a *API) rootHandler(_ *apirest.APIdata, ctx *httprouter.HTTPContext) error {
	tree := a.coordinator.Tree()
	ledgerRoot, err := a.coordinator.Ledger().Root(ctx.Request.Context())
	if err != nil {
		return toAPIerror(err)
	}
	root := &TreeRoot{
		Root:       tree.Root(),
		LedgerRoot: ledgerRoot,
		Size:       tree.Size(),
	}
	root.InSync = root.Root == root.LedgerRoot
	data, err := json.Marshal(root)
	if err != nil {
		return ErrMarshalingServerJSON.WithErr(err)
	}
	return ctx.Send(data, apirest.HTTPstatusOK)
}

// proofHandler
//
//	@Summary		Leaf proof
//	@Description	Returns the inclusion proof of a leaf under the current root.
//	@Tags			Notes
//	@Produce		json
//	@Param			leafHash	path		string	true	"Leaf hash"
//	@Success		200			{object}	LeafProof
//	@Router			/notes/{leafHash}/proof [get]
func (a *API) proofHandler(_ *apirest.APIdata, ctx *httprouter.HTTPContext) error {
	leafHash, err := util.ParseHash(ctx.URLParam("leafHash"))
	if err != nil {
		return ErrLeafHashMalformed.WithErr(err)
	}
	tree := a.coordinator.Tree()
	proof, root, err := tree.GetProofWithRoot(leafHash)
	if err != nil {
		if errors.Is(err, commitment.ErrLeafNotFound) {
			return ErrLeafNotFound.Withf("%x", leafHash)
		}
		return toAPIerror(err)
	}
	leaf, err := tree.Leaf(leafHash)
	if err != nil {
		return toAPIerror(err)
	}
	data, err := json.Marshal(&LeafProof{
		LeafHash:    leafHash,
		Index:       leaf.Index,
		MerkleProof: proof,
		Indices:     proof.Indices(leafHash),
		Root:        root,
	})
	if err != nil {
		return ErrMarshalingServerJSON.WithErr(err)
	}
	return ctx.Send(data, apirest.HTTPstatusOK)
}

// verifyHandler
//
//	@Summary		Verify a spend note
//	@Description	Checks the encrypted nullifier and the inclusion proof of a spend note.
//	@Tags			Notes
//	@Accept			json
//	@Produce		json
//	@Param			transaction	body		VerifyParams	true	"note to verify"
//	@Success		200			{object}	Verification
//	@Router			/notes/verify [post]
func (a *API) verifyHandler(msg *apirest.APIdata, ctx *httprouter.HTTPContext) error {
	params := &VerifyParams{}
	if err := json.Unmarshal(msg.Data, params); err != nil {
		return ErrCantParseDataAsJSON.WithErr(err)
	}
	valid := a.coordinator.VerifySpendNote(params.LeafHash, params.MerkleProof,
		params.Nullifier, params.EncryptedNullifier)
	data, err := json.Marshal(&Verification{Valid: valid})
	if err != nil {
		return ErrMarshalingServerJSON.WithErr(err)
	}
	return ctx.Send(data, apirest.HTTPstatusOK)
}
