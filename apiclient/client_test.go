package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"

	"go.vocdoni.io/spendnote/api"
	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/coordinator"
	"go.vocdoni.io/spendnote/crypto/ethereum"
	"go.vocdoni.io/spendnote/httprouter"
	"go.vocdoni.io/spendnote/ledger/memledger"
	"go.vocdoni.io/spendnote/nullifier"
	"go.vocdoni.io/spendnote/prover"
)

func newTestServer(t *testing.T) (*url.URL, uuid.UUID) {
	router := &httprouter.HTTProuter{}
	qt.Assert(t, router.Init("127.0.0.1", 0), qt.IsNil)
	t.Cleanup(func() { _ = router.Shutdown(context.Background()) })

	coord := coordinator.New(nullifier.NewEngine(nil), commitment.New(nil),
		prover.NewBrokerWithBackend(prover.Mock{}), memledger.New(),
		coordinator.Config{LinkBaseURL: "https://claims.example.org"})
	qt.Assert(t, coord.Start(context.Background()), qt.IsNil)

	a, err := api.NewAPI(router, "/v1")
	qt.Assert(t, err, qt.IsNil)
	a.Attach(coord)
	qt.Assert(t, a.EnableHandlers(api.NotesHandler, api.ClaimsHandler), qt.IsNil)
	token := uuid.New()
	a.Endpoint.SetAdminToken(token.String())

	u, err := url.Parse(fmt.Sprintf("http://%s/v1", router.Address()))
	qt.Assert(t, err, qt.IsNil)
	return u, token
}

func TestClientFlow(t *testing.T) {
	c := qt.New(t)
	addr, token := newTestServer(t)

	cli, err := NewHTTPclient(addr, nil)
	c.Assert(err, qt.IsNil)

	wallet := "0x" + strings.Repeat("12", 20)
	_, err = cli.Issue(&api.IssueParams{WalletAddress: wallet})
	c.Assert(err, qt.ErrorMatches, "issuing requires an auth token")

	wrong := uuid.New()
	cli.SetAuthToken(&wrong)
	_, err = cli.Issue(&api.IssueParams{WalletAddress: wallet})
	var apiErr *Error
	c.Assert(errors.As(err, &apiErr), qt.IsTrue)
	c.Assert(apiErr.HTTPstatus, qt.Equals, 401)

	cli.SetAuthToken(&token)
	note, err := cli.Issue(&api.IssueParams{WalletAddress: wallet, AmountEther: "0.5", LinkTTLMinutes: 30})
	c.Assert(err, qt.IsNil)
	c.Assert(note.LinkURL, qt.Equals, "https://claims.example.org/claim?data="+note.Link)

	root, err := cli.Root()
	c.Assert(err, qt.IsNil)
	c.Assert(root.Root, qt.Equals, note.LeafHash)
	c.Assert(root.InSync, qt.IsTrue)

	proof, err := cli.Proof(note.LeafHash)
	c.Assert(err, qt.IsNil)
	c.Assert(proof.Root, qt.Equals, root.Root)

	valid, err := cli.Verify(&api.VerifyParams{
		LeafHash:           note.LeafHash,
		MerkleProof:        proof.MerkleProof,
		Nullifier:          note.Nullifier,
		EncryptedNullifier: note.EncryptedNullifier,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(valid, qt.IsTrue)

	info, err := cli.LinkInfo(note.Link)
	c.Assert(err, qt.IsNil)
	c.Assert(info.AmountEther, qt.Equals, "0.5")

	_, err = cli.SignAndClaim(note.LinkURL)
	c.Assert(err, qt.ErrorMatches, "no account set")

	recipient := ethereum.NewSignKeys()
	c.Assert(recipient.Generate(), qt.IsNil)
	_, priv := recipient.HexString()
	c.Assert(cli.SetAccount(priv), qt.IsNil)
	c.Assert(cli.MyAddress(), qt.Equals, recipient.Address().Hex())

	res, err := cli.SignAndClaim(note.LinkURL)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Outcome, qt.Equals, "claimed")
	c.Assert(res.Recipient, qt.Equals, recipient.Address())

	_, err = cli.SignAndClaim(note.Link)
	c.Assert(errors.As(err, &apiErr), qt.IsTrue)
	c.Assert(apiErr.Code, qt.Equals, api.ErrAlreadySpent.Code)
	c.Assert(apiErr.HTTPstatus, qt.Equals, 409)
}

func TestNewClientUnreachable(t *testing.T) {
	u, err := url.Parse("http://127.0.0.1:1/v1")
	qt.Assert(t, err, qt.IsNil)
	_, err = NewHTTPclient(u, nil)
	qt.Assert(t, err, qt.Not(qt.IsNil))
}
