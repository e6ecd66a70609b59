package coordinator

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"go.vocdoni.io/spendnote/claimlink"
	"go.vocdoni.io/spendnote/ledger"
	"go.vocdoni.io/spendnote/metrics"
)

var (
	notesIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spendnote",
		Name:      "notes_issued_total",
		Help:      "Spend notes issued, by prover backend",
	}, []string{"backend"})
	claimsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spendnote",
		Name:      "claims_total",
		Help:      "Claims processed, by outcome and rejection reason",
	}, []string{"outcome", "reason"})
)

func init() {
	metrics.Register(notesIssued)
	metrics.Register(claimsCounter)
}

// reasonLabel keeps the reason label set small and fixed.
func reasonLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, claimlink.ErrMalformed):
		return "malformed"
	case errors.Is(err, claimlink.ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidSignature):
		return "signature"
	case errors.Is(err, ErrNullifierMismatch):
		return "nullifier"
	case errors.Is(err, ErrUnknownNote):
		return "unknown_note"
	case errors.Is(err, ErrClaimInProgress):
		return "in_progress"
	case errors.Is(err, ledger.ErrAlreadySpent):
		return "already_spent"
	default:
		return "other"
	}
}
