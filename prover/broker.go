package prover

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go.vocdoni.io/spendnote/log"
	"go.vocdoni.io/spendnote/metrics"
)

// Broker modes.
const (
	ModeMock     = "mock"
	ModeExternal = "external"
)

// Config selects and configures the proof backend.
type Config struct {
	// Mode is either "mock" or "external".
	Mode string
	// ProverPath is the external prover program, looked up in $PATH if it
	// has no slashes.
	ProverPath string
	// Timeout bounds each external prover run.
	Timeout time.Duration
	// AllowMockFallback makes the broker use the mock backend when the
	// external prover cannot be found, instead of failing.
	AllowMockFallback bool
}

var (
	proofsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prover",
		Name:      "proofs_total",
		Help:      "Spend proofs generated, by backend and result",
	}, []string{"backend", "result"})
	verificationsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prover",
		Name:      "verifications_total",
		Help:      "Spend proof verifications, by backend and result",
	}, []string{"backend", "valid"})
	proveDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "prover",
		Name:      "prove_duration_seconds",
		Help:      "Time spent generating spend proofs",
		Buckets:   []float64{.01, .1, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"backend"})
	mockFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prover",
		Name:      "mock_fallbacks_total",
		Help:      "Times the external prover was unavailable and the mock backend was used instead",
	})
)

func init() {
	metrics.Register(proofsCounter)
	metrics.Register(verificationsCounter)
	metrics.Register(proveDuration)
	metrics.Register(mockFallbacks)
}

// Broker routes proof operations to the backend chosen at construction.
// The choice never changes afterwards.
type Broker struct {
	backend Backend
}

var _ Backend = (*Broker)(nil)

// NewBroker picks the backend described by cfg.
func NewBroker(cfg Config) (*Broker, error) {
	switch cfg.Mode {
	case ModeMock:
		log.Errorf("using the mock prover, spend proofs are NOT secure")
		return &Broker{backend: Mock{}}, nil
	case ModeExternal:
		ext, err := NewExternal(cfg.ProverPath, cfg.Timeout)
		if err == nil {
			log.Infow("using external prover", "path", ext.Path, "timeout", ext.Timeout)
			return &Broker{backend: ext}, nil
		}
		if !cfg.AllowMockFallback {
			return nil, err
		}
		mockFallbacks.Inc()
		log.Warnw("external prover unavailable, falling back to the mock prover",
			"path", cfg.ProverPath, "error", err)
		return &Broker{backend: Mock{}}, nil
	default:
		return nil, fmt.Errorf("unknown prover mode %q, available: %q %q", cfg.Mode, ModeMock, ModeExternal)
	}
}

// NewBrokerWithBackend wraps an existing backend.
func NewBrokerWithBackend(b Backend) *Broker {
	return &Broker{backend: b}
}

// Kind returns the kind of the active backend.
func (b *Broker) Kind() Kind { return b.backend.Kind() }

// Insecure reports whether proofs come from the mock backend.
func (b *Broker) Insecure() bool { return b.backend.Kind() == KindMock }

// ProveSpend implements Backend.
func (b *Broker) ProveSpend(ctx context.Context, req *SpendRequest) (*SpendProof, error) {
	kind := string(b.backend.Kind())
	start := time.Now()
	proof, err := b.backend.ProveSpend(ctx, req)
	proveDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		proofsCounter.WithLabelValues(kind, "error").Inc()
		return nil, err
	}
	proofsCounter.WithLabelValues(kind, "ok").Inc()
	return proof, nil
}

// VerifySpend implements Backend. Proofs made by a different backend than
// the active one are invalid.
func (b *Broker) VerifySpend(ctx context.Context, proof *SpendProof) bool {
	valid := proof != nil && proof.Backend == b.backend.Kind() && b.backend.VerifySpend(ctx, proof)
	verificationsCounter.WithLabelValues(string(b.backend.Kind()), fmt.Sprint(valid)).Inc()
	return valid
}
