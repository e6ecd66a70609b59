package apiclient

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"go.vocdoni.io/spendnote/api"
	"go.vocdoni.io/spendnote/claimlink"
)

// LinkInfo returns the spend note behind a claim link token.
func (c *HTTPclient) LinkInfo(token string) (*api.NoteInfo, error) {
	info := &api.NoteInfo{}
	if err := c.call(HTTPGET, nil, info, "links", token); err != nil {
		return nil, err
	}
	return info, nil
}

// Claim submits an already signed claim.
func (c *HTTPclient) Claim(params *api.ClaimParams) (*api.ClaimResult, error) {
	res := &api.ClaimResult{}
	if err := c.call(HTTPPOST, params, res, "claims"); err != nil {
		return nil, err
	}
	return res, nil
}

// SignAndClaim claims the note behind token for the account set with
// SetAccount, signing the canonical claim message.
func (c *HTTPclient) SignAndClaim(token string) (*api.ClaimResult, error) {
	if c.account == nil {
		return nil, fmt.Errorf("no account set")
	}
	bare, err := claimlink.TokenFromURL(token)
	if err != nil {
		return nil, err
	}
	link, err := claimlink.Parse(bare)
	if err != nil {
		return nil, err
	}
	recipient := c.account.Address().Hex()
	sig, err := c.account.SignEthereum([]byte(claimlink.ClaimMessage(recipient, link)))
	if err != nil {
		return nil, err
	}
	return c.Claim(&api.ClaimParams{
		Token:     bare,
		Signature: hexutil.Encode(sig),
		Recipient: recipient,
	})
}
