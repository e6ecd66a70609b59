// Package config holds the configuration of the spend note node.
package config

import (
	"fmt"
	"time"

	"go.vocdoni.io/spendnote/db"
	"go.vocdoni.io/spendnote/notestore"
	"go.vocdoni.io/spendnote/prover"
)

// NodeCfg stores the global configuration of spendnoted
type NodeCfg struct {
	// DataDir base directory where data is stored
	DataDir string
	// DBType is the storage backend of the commitment tree (pebble, leveldb or sqlite)
	DBType string
	// LogLevel logging level
	LogLevel string
	// LogOutput logging output
	LogOutput string
	// LogErrorFile for logging warning, error and fatal messages
	LogErrorFile string
	// SaveConfig overwrites the config file with the CLI provided flags
	SaveConfig bool
	// Dev enables the developer mode (mock prover fallback and less security)
	Dev bool
	// DefaultAmount is the note amount in wei used when a request sets none
	DefaultAmount string
	// NullifierSecret is the secret the nullifier encryption key is derived
	// from. A random one is generated and saved if empty.
	NullifierSecret string
	// API api config options
	API *APICfg
	// Ledger ledger config options
	Ledger *LedgerCfg
	// Prover prover config options
	Prover *ProverCfg
	// Metrics config options
	Metrics *MetricsCfg
}

// ValidDBType checks if the configured storage type is supported
func (c *NodeCfg) ValidDBType() bool {
	return c.DBType == db.TypePebble || c.DBType == db.TypeLevelDB || c.DBType == notestore.TypeSQLite
}

// APICfg includes information required by the HTTP API.
type APICfg struct {
	// Route is the base path of the API
	Route string
	// ListenHost is the address the API listens on
	ListenHost string
	// ListenPort is the port the API listens on
	ListenPort int
	// AdminToken is the bearer token needed to issue notes. A random one is
	// generated and saved if empty.
	AdminToken string
	// LinkBaseURL is the claim page base url used to build claim urls
	LinkBaseURL string
	// MaxLinkTTLMinutes is the longest claim link validity a request may ask for
	MaxLinkTTLMinutes int
	// Ssl tls related config options
	Ssl struct {
		Domain  string
		DirCert string
	}
}

// Ledger backends.
const (
	LedgerMemory   = "memory"
	LedgerEthereum = "ethereum"
)

// LedgerCfg configures the ledger the notes are registered and spent on.
type LedgerCfg struct {
	// Type is memory or ethereum
	Type string
	// Endpoint is the JSON-RPC url of the ethereum node
	Endpoint string
	// Contract is the spend note contract address
	Contract string
	// SigningKey is the hex private key used to send ledger transactions
	SigningKey string
	// ChainID of the network, zero means ask the node
	ChainID int64
	// MaxRetries bounds the retries of failed ledger calls
	MaxRetries uint64
	// SpentCacheSize is the number of spent nullifiers kept in memory
	SpentCacheSize int
}

// ValidType checks if the ledger type is supported
func (c *LedgerCfg) ValidType() bool {
	return c.Type == LedgerMemory || c.Type == LedgerEthereum
}

// ProverCfg configures the spend proof backend.
type ProverCfg struct {
	// Mode is mock or external
	Mode string
	// Path of the external prover program
	Path string
	// TimeoutSeconds bounds each external proof
	TimeoutSeconds int
}

// BrokerConfig returns the prover.Config described by c. The mock fallback
// is only allowed in developer mode.
func (c *ProverCfg) BrokerConfig(dev bool) prover.Config {
	return prover.Config{
		Mode:              c.Mode,
		ProverPath:        c.Path,
		Timeout:           time.Duration(c.TimeoutSeconds) * time.Second,
		AllowMockFallback: dev,
	}
}

// MetricsCfg initializes the metrics config
type MetricsCfg struct {
	Enabled bool
}

// Error helps to handle better config errors on startup
type Error struct {
	// Critical indicates if the error encountered is critical and the app must be stopped
	Critical bool
	// Message error message
	Message string
}

// NewConfig returns a NodeCfg with the default values set
func NewConfig() *NodeCfg {
	return &NodeCfg{
		DBType:        DefaultDBType,
		LogLevel:      "info",
		LogOutput:     "stdout",
		DefaultAmount: DefaultAmount,
		API: &APICfg{
			Route:             DefaultAPIRoute,
			ListenHost:        "0.0.0.0",
			ListenPort:        DefaultListenPort,
			MaxLinkTTLMinutes: DefaultMaxLinkTTLMinutes,
		},
		Ledger: &LedgerCfg{
			Type:           LedgerMemory,
			MaxRetries:     DefaultLedgerMaxRetries,
			SpentCacheSize: DefaultSpentCacheSize,
		},
		Prover: &ProverCfg{
			Mode:           prover.ModeExternal,
			Path:           DefaultProverPath,
			TimeoutSeconds: DefaultProverTimeoutSeconds,
		},
		Metrics: &MetricsCfg{},
	}
}

// Validate reports the first invalid option of c.
func (c *NodeCfg) Validate() error {
	if !c.ValidDBType() {
		return fmt.Errorf("dbType %s is invalid, valid ones: %s, %s, %s",
			c.DBType, db.TypePebble, db.TypeLevelDB, notestore.TypeSQLite)
	}
	if !c.Ledger.ValidType() {
		return fmt.Errorf("ledger type %s is invalid, valid ones: %s, %s",
			c.Ledger.Type, LedgerMemory, LedgerEthereum)
	}
	if c.Ledger.Type == LedgerEthereum && (c.Ledger.Endpoint == "" || c.Ledger.Contract == "") {
		return fmt.Errorf("the ethereum ledger needs an endpoint and a contract address")
	}
	if c.Prover.Mode != prover.ModeMock && c.Prover.Mode != prover.ModeExternal {
		return fmt.Errorf("prover mode %s is invalid, valid ones: %s, %s",
			c.Prover.Mode, prover.ModeMock, prover.ModeExternal)
	}
	if c.Prover.Mode == prover.ModeMock && !c.Dev {
		return fmt.Errorf("the mock prover accepts any spend proof, it needs developer mode (--dev)")
	}
	if c.API.MaxLinkTTLMinutes <= 0 {
		return fmt.Errorf("maxLinkTTL must be positive")
	}
	return nil
}
