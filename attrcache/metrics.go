package attrcache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus counters for a cache.
type Metrics struct {
	Hits      prometheus.Counter
	Misses    prometheus.Counter
	Evictions prometheus.Counter
}

// NewMetrics creates the cache counters and registers them with reg. Counters
// already registered under the same name and labels are reused, so caches
// reopened against one registry keep counting into the same series.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	hits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shapefile_attribute_cache_hits_total",
		Help: "Attribute rows served from a resident page or the edit row",
	})

	misses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shapefile_attribute_cache_misses_total",
		Help: "Attribute pages loaded from the backing store",
	})

	evictions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shapefile_attribute_cache_evictions_total",
		Help: "Attribute pages replaced by a newer page",
	})

	return &Metrics{
		Hits:      register(reg, hits),
		Misses:    register(reg, misses),
		Evictions: register(reg, evictions),
	}
}

func register(reg prometheus.Registerer, c prometheus.Counter) prometheus.Counter {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
