package config

import (
	"go.vocdoni.io/spendnote/db"
	"go.vocdoni.io/spendnote/ledger"
	"go.vocdoni.io/spendnote/ledger/ethledger"
	"go.vocdoni.io/spendnote/types"
)

// These consts are defaults used in NodeCfg
const (
	DefaultDBType               = db.TypePebble
	DefaultAPIRoute             = "/v1"
	DefaultListenPort           = 9090
	DefaultMaxLinkTTLMinutes    = 60 * 24 * 30
	DefaultProverTimeoutSeconds = 120
	DefaultProverPath           = "spendnote-prover"
	DefaultAmount               = types.DefaultAmount
	DefaultLedgerMaxRetries     = ethledger.DefaultMaxRetries
	DefaultSpentCacheSize       = ledger.DefaultSpentCacheSize
	DefaultConfigName           = "spendnote"
)
