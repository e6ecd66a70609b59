// Package ethereum provides the Ethereum flavoured ECDSA operations used to
// sign and authenticate spend note claims (EIP-191 personal messages).
package ethereum

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"go.vocdoni.io/spendnote/util"
)

// SignatureLength is the size of an ECDSA signature in bytes (r, s, v)
const SignatureLength = ethcrypto.SignatureLength

// SigningPrefix is the prefix added when hashing
const SigningPrefix = "\u0019Ethereum Signed Message:\n"

var (
	ErrSignatureLength = errors.New("signature length not correct")
	ErrRecoveryID      = errors.New("bad recover ID byte")
	ErrNoPrivateKey    = errors.New("no private key available")
)

// SignKeys represents an ECDSA pair of keys for signing.
type SignKeys struct {
	Public  ecdsa.PublicKey
	Private ecdsa.PrivateKey
}

// NewSignKeys creates an ECDSA pair of keys for signing
func NewSignKeys() *SignKeys {
	return &SignKeys{}
}

// Generate generates new keys
func (k *SignKeys) Generate() error {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return err
	}
	k.Private = *key
	k.Public = key.PublicKey
	return nil
}

// AddHexKey imports a private hex key
func (k *SignKeys) AddHexKey(privHex string) error {
	key, err := ethcrypto.HexToECDSA(util.TrimHex(privHex))
	if err != nil {
		return err
	}
	k.Private = *key
	k.Public = key.PublicKey
	return nil
}

// HexString returns the public compressed and private keys as hex strings
func (k *SignKeys) HexString() (string, string) {
	pubHexComp := fmt.Sprintf("%x", ethcrypto.CompressPubkey(&k.Public))
	privHex := fmt.Sprintf("%x", ethcrypto.FromECDSA(&k.Private))
	return pubHexComp, privHex
}

// Address returns the SignKeys ethereum address
func (k *SignKeys) Address() ethcommon.Address {
	return ethcrypto.PubkeyToAddress(k.Public)
}

// Sign signs a message with the Ethereum personal message prefix. Message is
// a normal string (no HexString nor a Hash). The recovery byte of the
// returned signature is 0 or 1.
func (k *SignKeys) Sign(message []byte) ([]byte, error) {
	if k.Private.D == nil {
		return nil, ErrNoPrivateKey
	}
	return ethcrypto.Sign(Hash(message), &k.Private)
}

// SignEthereum works as Sign but returns the signature the way wallets do
// for personal_sign, with the recovery byte shifted to 27 or 28.
func (k *SignKeys) SignEthereum(message []byte) ([]byte, error) {
	sig, err := k.Sign(message)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// PubKeyFromSignature recovers the ECDSA public key that created the
// signature of a message. Both the 0/1 and the 27/28 recovery byte
// conventions are accepted.
func PubKeyFromSignature(msg, signature []byte) (*ecdsa.PublicKey, error) {
	if len(signature) != SignatureLength {
		return nil, fmt.Errorf("%w (%d)", ErrSignatureLength, len(signature))
	}
	// do not modify the caller's slice
	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if sig[64] > 1 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return nil, ErrRecoveryID
	}
	pubKey, err := ethcrypto.SigToPub(Hash(msg), sig)
	if err != nil {
		return nil, fmt.Errorf("sigToPub %w", err)
	}
	return pubKey, nil
}

// AddrFromSignature recovers the Ethereum address that created the signature of a message
func AddrFromSignature(msg, signature []byte) (ethcommon.Address, error) {
	pub, err := PubKeyFromSignature(msg, signature)
	if err != nil {
		return ethcommon.Address{}, err
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Hash string data adding Ethereum prefix
func Hash(data []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s%d%s", SigningPrefix, len(data), data)
	return HashRaw(buf.Bytes())
}

// HashRaw hashes a string with no prefix
func HashRaw(data []byte) []byte {
	return ethcrypto.Keccak256(data)
}
