// Package metrics holds CertDeploy's Prometheus counters and the server
// that exposes them.
package metrics

import (
	"github.com/armon/go-metrics"
	"github.com/armon/go-metrics/prometheus"
)

var (
	PushesAttempted  = []string{"certdeploy", "pushes_attempted"}
	PushesSucceeded  = []string{"certdeploy", "pushes_succeeded"}
	PushesFailed     = []string{"certdeploy", "pushes_failed"}
	RenewalsRun      = []string{"certdeploy", "renewals_run"}
	RenewalsFailed   = []string{"certdeploy", "renewals_failed"}
	UpdatePassesRun  = []string{"certdeploy", "update_passes_run"}
	UpdatesFailed    = []string{"certdeploy", "updates_failed"}
	SFTPSessions     = []string{"certdeploy", "sftp_sessions_accepted"}
)

// Registry is the process-wide metrics sink, set up once at startup and
// read by every component that records a counter.
var Registry metrics.MetricSink

func init() {
	sink, err := prometheus.NewPrometheusSinkFrom(prometheus.PrometheusOpts{
		CounterDefinitions: []prometheus.CounterDefinition{{
			Name: PushesAttempted,
			Help: "The total number of client push attempts started",
		}, {
			Name: PushesSucceeded,
			Help: "The total number of client pushes that completed successfully",
		}, {
			Name: PushesFailed,
			Help: "The total number of client pushes that failed after exhausting retries",
		}, {
			Name: RenewalsRun,
			Help: "The total number of renewal command invocations",
		}, {
			Name: RenewalsFailed,
			Help: "The total number of renewal command invocations that exited non-zero",
		}, {
			Name: UpdatePassesRun,
			Help: "The total number of client update passes executed",
		}, {
			Name: UpdatesFailed,
			Help: "The total number of per-service update failures",
		}, {
			Name: SFTPSessions,
			Help: "The total number of authenticated SFTP sessions accepted by the client endpoint",
		}},
	})
	if err != nil {
		panic(err)
	}
	Registry = sink
}

// IncrCounter records one occurrence of a counter defined above.
func IncrCounter(key []string) {
	Registry.IncrCounter(key, 1)
}
