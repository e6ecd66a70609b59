package api

import (
	"encoding/json"

	"go.vocdoni.io/spendnote/coordinator"
	"go.vocdoni.io/spendnote/httprouter"
	"go.vocdoni.io/spendnote/httprouter/apirest"
	"go.vocdoni.io/spendnote/types"
	"go.vocdoni.io/spendnote/util"
)

func (a *API) enableClaimsHandlers() error {
	if err := a.Endpoint.RegisterMethod(
		"/links/{token}",
		"GET",
		apirest.MethodAccessTypePublic,
		a.linkInfoHandler,
	); err != nil {
		return err
	}
	if err := a.Endpoint.RegisterMethod(
		"/claims",
		"POST",
		apirest.MethodAccessTypePublic,
		a.claimHandler,
	); err != nil {
		return err
	}
	return nil
}

// linkInfoHandler
//
//	@Summary		Claim link information
//	@Description	Decodes a claim link and returns the amount and status of its spend note.
//	@Tags			Claims
//	@Produce		json
//	@Param			token	path		string	true	"Claim link token"
//	@Success		200		{object}	NoteInfo
//	@Router			/links/{token} [get]
func (a *API) linkInfoHandler(_ *apirest.APIdata, ctx *httprouter.HTTPContext) error {
	token := ctx.URLParam("token")
	if token == "" {
		return ErrParamMissing.With("token")
	}
	info, err := a.coordinator.NoteInfo(ctx.Request.Context(), token)
	if err != nil {
		return toAPIerror(err)
	}
	data, err := json.Marshal(&NoteInfo{
		NoteHash:    info.NoteHash,
		Amount:      types.NewBigInt(info.Amount),
		AmountEther: util.WeiToEther(info.Amount),
		Spent:       info.Spent,
		Registered:  info.Registered,
		ExpiresAt:   info.ExpiresAt,
	})
	if err != nil {
		return ErrMarshalingServerJSON.WithErr(err)
	}
	return ctx.Send(data, apirest.HTTPstatusOK)
}

// claimHandler
//
//	@Summary		Claim a spend note
//	@Description	Redeems a claim link. The signature must be made by the recipient over the canonical claim message.
//	@Tags			Claims
//	@Accept			json
//	@Produce		json
//	@Param			transaction	body		ClaimParams	true	"token, recipient and signature"
//	@Success		200			{object}	ClaimResult
//	@Router			/claims [post]
func (a *API) claimHandler(msg *apirest.APIdata, ctx *httprouter.HTTPContext) error {
	params := &ClaimParams{}
	if err := json.Unmarshal(msg.Data, params); err != nil {
		return ErrCantParseDataAsJSON.WithErr(err)
	}
	switch {
	case params.Token == "":
		return ErrParamMissing.With("token")
	case params.Signature == "":
		return ErrParamMissing.With("signature")
	case params.Recipient == "":
		return ErrParamMissing.With("recipient")
	}
	if _, err := util.ParseAddress(params.Recipient); err != nil {
		return ErrAddressMalformed.WithErr(err)
	}

	res, err := a.coordinator.Claim(ctx.Request.Context(), coordinator.ClaimRequest{
		Token:     params.Token,
		Signature: params.Signature,
		Recipient: params.Recipient,
	})
	if err != nil {
		return toAPIerror(err)
	}
	if res.Outcome != coordinator.OutcomeClaimed {
		if res.Reason == nil {
			return ErrInternal.With("claim rejected without reason")
		}
		return toAPIerror(res.Reason)
	}
	out := &ClaimResult{
		Outcome:   string(res.Outcome),
		NoteHash:  res.NoteHash,
		Nullifier: res.Nullifier,
		Recipient: res.Recipient,
	}
	if res.Receipt != nil {
		out.Receipt = &Receipt{TxHash: res.Receipt.TxHash, BlockNumber: res.Receipt.BlockNumber}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return ErrMarshalingServerJSON.WithErr(err)
	}
	return ctx.Send(data, apirest.HTTPstatusOK)
}
