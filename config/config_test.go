package config

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := NewConfig()
	qt.Assert(t, cfg.Validate(), qt.IsNil)
	qt.Assert(t, cfg.Ledger.Type, qt.Equals, LedgerMemory)
	qt.Assert(t, cfg.API.Route, qt.Equals, DefaultAPIRoute)
	qt.Assert(t, cfg.Prover.Mode, qt.Equals, "external")
}

func TestValidate(t *testing.T) {
	c := qt.New(t)

	cfg := NewConfig()
	cfg.DBType = "badger"
	c.Assert(cfg.Validate(), qt.ErrorMatches, "dbType badger is invalid.*")
	cfg.DBType = "sqlite"
	c.Assert(cfg.Validate(), qt.IsNil)

	cfg.Ledger.Type = LedgerEthereum
	c.Assert(cfg.Validate(), qt.ErrorMatches, ".*needs an endpoint.*")
	cfg.Ledger.Endpoint = "http://127.0.0.1:8545"
	cfg.Ledger.Contract = "0x0000000000000000000000000000000000000001"
	c.Assert(cfg.Validate(), qt.IsNil)
	cfg.Ledger.Type = "bitcoin"
	c.Assert(cfg.Validate(), qt.ErrorMatches, "ledger type bitcoin is invalid.*")
	cfg.Ledger.Type = LedgerMemory

	cfg.Prover.Mode = "snark"
	c.Assert(cfg.Validate(), qt.ErrorMatches, "prover mode snark is invalid.*")
	cfg.Prover.Mode = "external"
	c.Assert(cfg.Validate(), qt.IsNil)
	cfg.Prover.Mode = "mock"
	c.Assert(cfg.Validate(), qt.ErrorMatches, "the mock prover .* needs developer mode.*")
	cfg.Dev = true
	c.Assert(cfg.Validate(), qt.IsNil)
	cfg.Dev = false
	cfg.Prover.Mode = "external"

	cfg.API.MaxLinkTTLMinutes = 0
	c.Assert(cfg.Validate(), qt.ErrorMatches, "maxLinkTTL must be positive")
}

func TestBrokerConfig(t *testing.T) {
	p := &ProverCfg{Mode: "external", Path: "/usr/bin/prover", TimeoutSeconds: 30}
	bc := p.BrokerConfig(true)
	qt.Assert(t, bc.AllowMockFallback, qt.IsTrue)
	qt.Assert(t, bc.Timeout.Seconds(), qt.Equals, float64(30))
	qt.Assert(t, p.BrokerConfig(false).AllowMockFallback, qt.IsFalse)
}
