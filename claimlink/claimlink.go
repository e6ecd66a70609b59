// Package claimlink encodes spend notes into shareable, time limited claim
// links, and checks the signatures recipients produce to redeem them.
package claimlink

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/crypto/ethereum"
	"go.vocdoni.io/spendnote/log"
	"go.vocdoni.io/spendnote/nullifier"
	"go.vocdoni.io/spendnote/util"
)

// DefaultTTL is the validity of a link when none is given.
const DefaultTTL = 60 * time.Minute

// DataParam is the query parameter holding the token in a claim url.
const DataParam = "data"

var (
	// ErrMalformed means the token can never be valid.
	ErrMalformed = errors.New("malformed claim link")
	// ErrExpired means the token was valid but its time is over.
	ErrExpired = errors.New("claim link expired")
)

// LinkData is the content of a claim link. Times are unix milliseconds.
type LinkData struct {
	NoteHash           common.Hash      `json:"noteHash"`
	Nullifier          common.Hash      `json:"nullifier"`
	EncryptedNullifier hexutil.Bytes    `json:"encryptedNullifier"`
	MerkleProof        commitment.Proof `json:"merkleProof"`
	Timestamp          int64            `json:"timestamp"`
	ExpiresAt          int64            `json:"expiresAt"`
}

// wireData mirrors LinkData with pointers, to tell missing fields apart
// from zero values.
type wireData struct {
	NoteHash           *common.Hash      `json:"noteHash"`
	Nullifier          *common.Hash      `json:"nullifier"`
	EncryptedNullifier *hexutil.Bytes    `json:"encryptedNullifier"`
	MerkleProof        *commitment.Proof `json:"merkleProof"`
	Timestamp          *int64            `json:"timestamp"`
	ExpiresAt          *int64            `json:"expiresAt"`
}

// Generate builds a claim link token valid for ttl from now.
func Generate(noteHash common.Hash, nd *nullifier.Data, proof commitment.Proof,
	ttl time.Duration,
) (string, *LinkData, error) {
	return GenerateAt(noteHash, nd, proof, ttl, time.Now())
}

// GenerateAt is like Generate with an explicit current time.
func GenerateAt(noteHash common.Hash, nd *nullifier.Data, proof commitment.Proof,
	ttl time.Duration, now time.Time,
) (string, *LinkData, error) {
	if nd == nil || len(nd.EncryptedNullifier) == 0 {
		return "", nil, fmt.Errorf("missing nullifier data")
	}
	if ttl.Milliseconds() <= 0 {
		return "", nil, fmt.Errorf("link ttl must be positive, got %s", ttl)
	}
	if proof == nil {
		proof = commitment.Proof{}
	}
	ts := now.UnixMilli()
	d := &LinkData{
		NoteHash:           noteHash,
		Nullifier:          nd.Nullifier,
		EncryptedNullifier: nd.EncryptedNullifier,
		MerkleProof:        proof,
		Timestamp:          ts,
		ExpiresAt:          ts + ttl.Milliseconds(),
	}
	token, err := Encode(d)
	if err != nil {
		return "", nil, err
	}
	return token, d, nil
}

// Encode returns the token of d: base64url, without padding, of its JSON.
func Encode(d *LinkData) (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Parse decodes token and checks it has not expired.
func Parse(token string) (*LinkData, error) {
	return ParseAt(token, time.Now())
}

// ParseAt is like Parse with an explicit current time. A link expiring
// exactly at now is still valid.
func ParseAt(token string, now time.Time) (*LinkData, error) {
	// padded tokens are accepted too
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(token), "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var w wireData
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case w.NoteHash == nil:
		return nil, fmt.Errorf("%w: missing noteHash", ErrMalformed)
	case w.Nullifier == nil:
		return nil, fmt.Errorf("%w: missing nullifier", ErrMalformed)
	case w.EncryptedNullifier == nil || len(*w.EncryptedNullifier) == 0:
		return nil, fmt.Errorf("%w: missing encryptedNullifier", ErrMalformed)
	case w.MerkleProof == nil:
		return nil, fmt.Errorf("%w: missing merkleProof", ErrMalformed)
	case w.Timestamp == nil || *w.Timestamp <= 0:
		return nil, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	case w.ExpiresAt == nil || *w.ExpiresAt <= 0:
		return nil, fmt.Errorf("%w: missing expiresAt", ErrMalformed)
	case *w.ExpiresAt <= *w.Timestamp:
		return nil, fmt.Errorf("%w: expiresAt %d not after timestamp %d", ErrMalformed, *w.ExpiresAt, *w.Timestamp)
	}
	if *w.ExpiresAt < now.UnixMilli() {
		return nil, fmt.Errorf("%w: at %s", ErrExpired, time.UnixMilli(*w.ExpiresAt).UTC().Format(time.RFC3339))
	}
	return &LinkData{
		NoteHash:           *w.NoteHash,
		Nullifier:          *w.Nullifier,
		EncryptedNullifier: *w.EncryptedNullifier,
		MerkleProof:        *w.MerkleProof,
		Timestamp:          *w.Timestamp,
		ExpiresAt:          *w.ExpiresAt,
	}, nil
}

// ClaimMessage is the text a recipient signs to claim the note of d. It
// binds the recipient, the note, the nullifier and the link timestamp.
func ClaimMessage(recipient string, d *LinkData) string {
	return fmt.Sprintf("I, %s, am claiming a spend note with hash %s and nullifier %s. Timestamp: %d",
		recipient, d.NoteHash.Hex(), d.Nullifier.Hex(), d.Timestamp)
}

// VerifySignature reports whether signature, a hex encoded personal_sign
// signature of message, was made by expectedAddress. Malformed inputs
// are simply not valid.
func VerifySignature(message, signature, expectedAddress string) bool {
	expected, err := util.ParseAddress(expectedAddress)
	if err != nil {
		log.Debugw("invalid expected address", "address", expectedAddress, "error", err)
		return false
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		// accept signatures without 0x too
		if sig, err = hexutil.Decode("0x" + signature); err != nil {
			log.Debugw("invalid signature encoding", "error", err)
			return false
		}
	}
	addr, err := ethereum.AddrFromSignature([]byte(message), sig)
	if err != nil {
		log.Debugw("cannot recover signer", "error", err)
		return false
	}
	return addr == expected
}

// ClaimURL returns the claim page url for token under base.
func ClaimURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/claim"
	q := u.Query()
	q.Set(DataParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// TokenFromURL extracts the token from a claim url. A bare token is
// returned as is.
func TokenFromURL(s string) (string, error) {
	if !strings.Contains(s, "?") {
		return s, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	token := u.Query().Get(DataParam)
	if token == "" {
		return "", fmt.Errorf("%w: no %s parameter", ErrMalformed, DataParam)
	}
	return token, nil
}
