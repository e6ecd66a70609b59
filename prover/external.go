package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os/exec"
	"time"

	"go.vocdoni.io/spendnote/log"
	"go.vocdoni.io/spendnote/types"
)

// DefaultTimeout bounds a single prover run.
const DefaultTimeout = 5 * time.Minute

// maxStderr is how much of the prover's stderr is kept for error messages.
const maxStderr = 4 << 10

type proofInput struct {
	WalletAddress types.HexBytes  `json:"wallet_address"`
	Amount        string          `json:"amount"`
	MerkleProof   merkleProofJSON `json:"merkle_proof"`
	MerkleRoot    types.HexBytes  `json:"merkle_root"`
}

type merkleProofJSON struct {
	Path    []types.HexBytes `json:"path"`
	Indices []bool           `json:"indices"`
}

type proofOutput struct {
	Receipt    types.HexBytes `json:"receipt"`
	MerkleRoot types.HexBytes `json:"merkle_root"`
	Nullifier  types.HexBytes `json:"nullifier"`
	Amount     string         `json:"amount"`
}

// External runs a prover program. Proving runs `<Path> prove` and verifying
// runs `<Path> verify`, both reading one JSON document on stdin. A zero exit
// status is required; prove answers with a JSON document on stdout.
type External struct {
	Path    string
	Timeout time.Duration
}

var _ Backend = (*External)(nil)

// NewExternal checks that path can be executed and returns a backend for it.
func NewExternal(path string, timeout time.Duration) (*External, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProverNotFound, err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &External{Path: resolved, Timeout: timeout}, nil
}

func (*External) Kind() Kind { return KindExternal }

// ProveSpend implements Backend.
func (e *External) ProveSpend(ctx context.Context, req *SpendRequest) (*SpendProof, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	path := make([]types.HexBytes, len(req.MerkleProof))
	for i, h := range req.MerkleProof {
		path[i] = h.Bytes()
	}
	input, err := json.Marshal(proofInput{
		WalletAddress: req.WalletAddress.Bytes(),
		Amount:        req.Amount.String(),
		MerkleProof: merkleProofJSON{
			Path:    path,
			Indices: req.MerkleProof.Indices(req.Leaf),
		},
		MerkleRoot: req.MerkleRoot.Bytes(),
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	stdout, err := e.run(ctx, "prove", input)
	if err != nil {
		return nil, err
	}
	log.Debugw("external prover finished", "took", time.Since(start), "output", len(stdout))

	var out proofOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed prover output: %w", ErrProofGeneration, err)
	}
	if len(out.Receipt) == 0 {
		return nil, fmt.Errorf("%w: empty receipt", ErrProofGeneration)
	}
	root, err := out.MerkleRoot.Hash()
	if err != nil {
		return nil, fmt.Errorf("%w: merkle root: %w", ErrProofGeneration, err)
	}
	nullifier, err := out.Nullifier.Hash()
	if err != nil {
		return nil, fmt.Errorf("%w: nullifier: %w", ErrProofGeneration, err)
	}
	amount, ok := new(big.Int).SetString(out.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("%w: malformed amount %q", ErrProofGeneration, out.Amount)
	}
	if amount.Cmp(req.Amount) != 0 {
		return nil, fmt.Errorf("%w: prover committed to amount %s, requested %s", ErrProofGeneration, amount, req.Amount)
	}
	return &SpendProof{
		Backend:    KindExternal,
		Receipt:    []byte(out.Receipt),
		MerkleRoot: root,
		Nullifier:  nullifier,
		Amount:     amount,
	}, nil
}

// VerifySpend implements Backend. Proofs from other backends are rejected
// without running the program.
func (e *External) VerifySpend(ctx context.Context, proof *SpendProof) bool {
	if proof == nil || proof.Backend != KindExternal || proof.Amount == nil {
		return false
	}
	input, err := json.Marshal(proofOutput{
		Receipt:    types.HexBytes(proof.Receipt),
		MerkleRoot: proof.MerkleRoot.Bytes(),
		Nullifier:  proof.Nullifier.Bytes(),
		Amount:     proof.Amount.String(),
	})
	if err != nil {
		return false
	}
	if _, err := e.run(ctx, "verify", input); err != nil {
		log.Debugw("spend proof rejected", "error", err)
		return false
	}
	return true
}

// run executes the prover with a single subcommand, feeding it input and
// returning its stdout. The process group is killed when ctx is done or the
// timeout expires.
func (e *External) run(ctx context.Context, subcommand string, input []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.Path, subcommand)
	cmd.Stdin = bytes.NewReader(input)
	var stdout bytes.Buffer
	stderr := &limitedBuffer{max: maxStderr}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: after %s", ErrProofGenerationTimeout, e.Timeout)
		}
		return nil, fmt.Errorf("%w: %w", ErrProofGeneration, ctxErr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w: %s", ErrProofGeneration, e.Path, subcommand, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

// limitedBuffer keeps the first max bytes written to it and discards the
// rest, so a chatty prover can't exhaust memory.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) Bytes() []byte { return b.buf.Bytes() }
