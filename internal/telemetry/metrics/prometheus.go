package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type RegistryParams struct {
	// Process labels the extra collectors, e.g. "server" or "backup".
	Process string
	// WithRuntime adds the Go runtime and process collectors. One-shot jobs
	// leave it off.
	WithRuntime bool
	Extra       []prometheus.Collector
}

func NewRegistry(params RegistryParams) *prometheus.Registry {
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewBuildInfoCollector())

	if params.WithRuntime {
		promRegistry.MustRegister(
			collectors.NewGoCollector(
				collectors.WithGoCollectorRuntimeMetrics(collectors.MetricsGC, collectors.MetricsScheduler),
			),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	if len(params.Extra) > 0 {
		prometheus.WrapRegistererWith(
			prometheus.Labels{"process": params.Process},
			promRegistry,
		).MustRegister(params.Extra...)
	}

	return promRegistry
}
