package types

const (
	// AddressSize is the size of an Ethereum address
	AddressSize = 20
	// HashSize is the size of leaf hashes, nullifiers and merkle roots
	HashSize = 32
	// AmountSize is the fixed width of an encoded amount (uint256)
	AmountSize = 32
	// TimestampSize is the fixed width of an encoded note timestamp
	TimestampSize = 8

	// LeafEncodingSize is the length of the canonical leaf preimage
	LeafEncodingSize = AddressSize + HashSize + AmountSize + TimestampSize

	// MockReceiptSize is the size of the random receipt issued by the mock prover
	MockReceiptSize = 128

	// DefaultAmount is the note value used when the issuer does not set one
	// (1 ether, expressed in wei).
	DefaultAmount = "1000000000000000000"
)
