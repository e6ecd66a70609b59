package prover

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
)

const helperEnv = "SPENDNOTE_TEST_PROVER"

// TestMain lets the test binary act as the external prover: when helperEnv
// is set, it behaves as the program described by its value instead of
// running the tests.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(helperProver(mode, os.Args[len(os.Args)-1]))
	}
	os.Exit(m.Run())
}

const helperReceipt = "deadbeef"

func helperProver(mode, subcommand string) int {
	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		return 2
	}
	switch mode {
	case "sleep":
		time.Sleep(time.Minute)
		return 0
	case "fail":
		fmt.Fprintln(os.Stderr, "guest panicked: merkle root mismatch")
		return 1
	case "garbage":
		fmt.Print("this is not json")
		return 0
	}
	if subcommand == "verify" {
		var out proofOutput
		if err := json.Unmarshal(input, &out); err != nil || hex.EncodeToString(out.Receipt) != helperReceipt {
			return 1
		}
		return 0
	}

	var in proofInput
	if err := json.Unmarshal(input, &in); err != nil {
		return 2
	}
	if len(in.MerkleProof.Path) != len(in.MerkleProof.Indices) {
		return 3
	}
	amount := in.Amount
	if mode == "mismatch" {
		amount = "1"
	}
	nullifier := sha256.Sum256(in.WalletAddress)
	fmt.Printf(`{"receipt":%q,"merkle_root":%q,"nullifier":%q,"amount":%q}`,
		helperReceipt, hex.EncodeToString(in.MerkleRoot), hex.EncodeToString(nullifier[:]), amount)
	return 0
}

func testRequest() *SpendRequest {
	return &SpendRequest{
		WalletAddress: common.HexToAddress("0x" + strings.Repeat("aa", 20)),
		Amount:        big.NewInt(100),
		Leaf:          common.HexToHash("0x01"),
		MerkleProof:   []common.Hash{common.HexToHash("0x02"), common.HexToHash("0x03")},
		MerkleRoot:    common.HexToHash("0x" + strings.Repeat("cc", 32)),
	}
}

func newHelperExternal(t *testing.T, mode string, timeout time.Duration) *External {
	t.Setenv(helperEnv, mode)
	ext, err := NewExternal(os.Args[0], timeout)
	qt.Assert(t, err, qt.IsNil)
	return ext
}

func TestExternalProveAndVerify(t *testing.T) {
	c := qt.New(t)
	ext := newHelperExternal(t, "ok", time.Minute)
	req := testRequest()

	proof, err := ext.ProveSpend(context.Background(), req)
	c.Assert(err, qt.IsNil)
	c.Assert(proof.Backend, qt.Equals, KindExternal)
	c.Assert(hex.EncodeToString(proof.Receipt), qt.Equals, helperReceipt)
	c.Assert(proof.MerkleRoot, qt.Equals, req.MerkleRoot)
	c.Assert(proof.Nullifier, qt.Equals, common.Hash(sha256.Sum256(req.WalletAddress.Bytes())))
	c.Assert(proof.Amount.Cmp(req.Amount), qt.Equals, 0)

	c.Assert(ext.VerifySpend(context.Background(), proof), qt.IsTrue)

	proof.Receipt = []byte{0x01}
	c.Assert(ext.VerifySpend(context.Background(), proof), qt.IsFalse)

	mock, err := Mock{}.ProveSpend(context.Background(), req)
	c.Assert(err, qt.IsNil)
	c.Assert(ext.VerifySpend(context.Background(), mock), qt.IsFalse)
}

func TestExternalErrors(t *testing.T) {
	for _, mode := range []string{"fail", "garbage", "mismatch"} {
		t.Run(mode, func(t *testing.T) {
			ext := newHelperExternal(t, mode, time.Minute)
			_, err := ext.ProveSpend(context.Background(), testRequest())
			qt.Assert(t, err, qt.ErrorIs, ErrProofGeneration)
		})
	}

	// stderr is carried in the error
	ext := newHelperExternal(t, "fail", time.Minute)
	_, err := ext.ProveSpend(context.Background(), testRequest())
	qt.Assert(t, err, qt.ErrorMatches, ".*merkle root mismatch.*")
}

func TestExternalTimeout(t *testing.T) {
	c := qt.New(t)
	ext := newHelperExternal(t, "sleep", 200*time.Millisecond)

	start := time.Now()
	_, err := ext.ProveSpend(context.Background(), testRequest())
	c.Assert(err, qt.ErrorIs, ErrProofGenerationTimeout)
	c.Assert(time.Since(start) < 30*time.Second, qt.IsTrue)

	// cancellation by the caller is not a timeout
	ext.Timeout = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err = ext.ProveSpend(ctx, testRequest())
	c.Assert(err, qt.ErrorIs, ErrProofGeneration)
	c.Assert(err, qt.ErrorIs, context.Canceled)
}

func TestExternalAmountOverflow(t *testing.T) {
	ext := newHelperExternal(t, "ok", time.Minute)
	req := testRequest()
	req.Amount = new(big.Int).Lsh(big.NewInt(1), 256)
	_, err := ext.ProveSpend(context.Background(), req)
	qt.Assert(t, err, qt.ErrorIs, ErrAmountOverflow)
}

func TestNewExternalNotFound(t *testing.T) {
	_, err := NewExternal("/nonexistent/prover-host", 0)
	qt.Assert(t, err, qt.ErrorIs, ErrProverNotFound)
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{max: 4}
	n, err := b.Write([]byte("abc"))
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, n, qt.Equals, 3)
	n, _ = b.Write([]byte("defg"))
	qt.Assert(t, n, qt.Equals, 4)
	qt.Assert(t, string(b.Bytes()), qt.Equals, "abcd")
}
