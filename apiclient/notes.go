package apiclient

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"go.vocdoni.io/spendnote/api"
)

// Issue asks the node to issue a spend note. It needs the admin token.
func (c *HTTPclient) Issue(params *api.IssueParams) (*api.IssuedNote, error) {
	if c.token == nil {
		return nil, fmt.Errorf("issuing requires an auth token")
	}
	note := &api.IssuedNote{}
	if err := c.call(HTTPPOST, params, note, "notes"); err != nil {
		return nil, err
	}
	return note, nil
}

// Root returns the local and ledger commitment roots.
func (c *HTTPclient) Root() (*api.TreeRoot, error) {
	root := &api.TreeRoot{}
	if err := c.call(HTTPGET, nil, root, "notes", "root"); err != nil {
		return nil, err
	}
	return root, nil
}

// Proof returns the inclusion proof of a leaf.
func (c *HTTPclient) Proof(leafHash common.Hash) (*api.LeafProof, error) {
	proof := &api.LeafProof{}
	if err := c.call(HTTPGET, nil, proof, "notes", leafHash.Hex(), "proof"); err != nil {
		return nil, err
	}
	return proof, nil
}

// Verify checks a spend note against the node.
func (c *HTTPclient) Verify(params *api.VerifyParams) (bool, error) {
	v := &api.Verification{}
	if err := c.call(HTTPPOST, params, v, "notes", "verify"); err != nil {
		return false, err
	}
	return v.Valid, nil
}
