package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.vocdoni.io/spendnote/httprouter"
	"go.vocdoni.io/spendnote/log"
)

// DefaultPath is where the collected metrics are exposed unless configured otherwise.
const DefaultPath = "/metrics"

// Agent exposes the registered collectors on a router.
type Agent struct {
	Path string
}

// NewAgent enables the http middleware metrics on router and exposes every
// registered collector at path.
func NewAgent(path string, router *httprouter.HTTProuter) *Agent {
	if path == "" {
		path = DefaultPath
	}
	router.EnablePrometheusMetrics("spendnote_http")
	router.AddRawHTTPHandler(path, http.MethodGet, promhttp.Handler().ServeHTTP)
	log.Infof("prometheus metrics ready at: %s", path)
	return &Agent{Path: path}
}

// Register the provided prometheus collector, ignoring any error returned (simply logs a Warn)
func Register(c prometheus.Collector) {
	err := prometheus.Register(c)
	if err != nil {
		log.Warnf("cannot register metrics: (%s) (%+v)", err, c)
	}
}
