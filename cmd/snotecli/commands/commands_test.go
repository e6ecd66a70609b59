package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"

	"go.vocdoni.io/spendnote/claimlink"
	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/nullifier"
)

func init() {
	scryptN, scryptP = ethkeystore.LightScryptN, ethkeystore.LightScryptP
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	Stdout = &out
	SetupLogPackage = false
	RootCmd.SetArgs(args)
	err := RootCmd.Execute()
	return out.String(), err
}

func testLink(t *testing.T) string {
	nd, err := nullifier.NewEngine(nil).Generate("0x" + strings.Repeat("ab", 20))
	qt.Assert(t, err, qt.IsNil)
	token, _, err := claimlink.Generate(common.Hash{1}, nd, commitment.Proof{{2}}, time.Hour)
	qt.Assert(t, err, qt.IsNil)
	return token
}

func TestAmount(t *testing.T) {
	out, err := run(t, "amount", "1.5")
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, out, qt.Equals, "1500000000000000000\n")

	out, err = run(t, "amount", "--reverse", "1000000000000000")
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, out, qt.Equals, "0.001\n")

	_, err = run(t, "amount", "--reverse=false", "lots")
	qt.Assert(t, err, qt.Not(qt.IsNil))
}

func TestLinkDecode(t *testing.T) {
	token := testLink(t)
	out, err := run(t, "link", "decode", "https://claims.example.org/claim?data="+token)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, out, qt.Contains, `"noteHash": "`+common.Hash{1}.Hex()+`"`)
	qt.Assert(t, out, qt.Contains, "expires: ")

	_, err = run(t, "link", "decode", "garbage")
	qt.Assert(t, err, qt.ErrorIs, claimlink.ErrMalformed)
}

func TestClaimSign(t *testing.T) {
	c := qt.New(t)
	token := testLink(t)
	link, err := claimlink.Parse(token)
	c.Assert(err, qt.IsNil)

	dir := t.TempDir()
	keyfile := filepath.Join(dir, "keys", "recipient.json")
	password = "secret"
	defer func() { password = "" }()
	out, err := run(t, "keys", "generate", "--keystore", keyfile)
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Contains, "key file: "+keyfile)
	address := strings.TrimPrefix(strings.Split(out, "\n")[0], "address: ")

	out, err = run(t, "keys", "show", keyfile)
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Contains, "address: "+address)

	out, err = run(t, "claim", "sign", keyfile, token)
	c.Assert(err, qt.IsNil)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	c.Assert(lines, qt.HasLen, 2)
	msg := strings.TrimPrefix(lines[0], "message: ")
	sig := strings.TrimPrefix(lines[1], "signature: ")
	c.Assert(msg, qt.Equals, claimlink.ClaimMessage(address, link))
	c.Assert(claimlink.VerifySignature(msg, sig, address), qt.IsTrue)

	password = "wrong"
	_, err = run(t, "keys", "show", keyfile)
	c.Assert(err, qt.ErrorMatches, "couldn't decrypt.*")
}
