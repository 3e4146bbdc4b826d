// Package metrics provides the Prometheus-backed MetricsSink implementation
// consumed by the façade and worker. The registration pattern — a
// sync.Once guarding a block of prometheus.MustRegister calls against
// namespaced Counter/Gauge vars — is grounded on the partitioning block
// allocator in buildbarn-bb-storage's local blobstore package, the only
// repo in the retrieval pack that wires Prometheus metrics into a
// storage-allocation component.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

// Sink implements farmcache.MetricsSink on top of a dedicated Prometheus
// registry so multiple cache instances in the same process (tests, or a
// farmer running more than one cache) don't collide on metric names.
type Sink struct {
	cacheGetHit   prometheus.Counter
	cacheGetMiss  prometheus.Counter
	cacheGetError prometheus.Counter
	cacheFindHit  prometheus.Counter
	cacheFindMiss prometheus.Counter

	capacityTotal prometheus.Gauge
	capacityUsed  prometheus.Gauge
}

// New creates a Sink and registers its collectors with registerer. Passing
// prometheus.NewRegistry() (rather than the global DefaultRegisterer) is
// recommended for anything other than a single process-wide cache.
func New(registerer prometheus.Registerer) *Sink {
	s := &Sink{
		cacheGetHit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "farmer",
			Subsystem: "piece_cache",
			Name:      "get_hit_total",
			Help:      "Number of get_piece calls that found the piece locally.",
		}),
		cacheGetMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "farmer",
			Subsystem: "piece_cache",
			Name:      "get_miss_total",
			Help:      "Number of get_piece calls that found no piece.",
		}),
		cacheGetError: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "farmer",
			Subsystem: "piece_cache",
			Name:      "get_error_total",
			Help:      "Number of get_piece calls that hit a backend read error.",
		}),
		cacheFindHit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "farmer",
			Subsystem: "piece_cache",
			Name:      "find_hit_total",
			Help:      "Number of find_piece calls that resolved to a slot.",
		}),
		cacheFindMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "farmer",
			Subsystem: "piece_cache",
			Name:      "find_miss_total",
			Help:      "Number of find_piece calls that found nothing.",
		}),
		capacityTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "farmer",
			Subsystem: "piece_cache",
			Name:      "capacity_total",
			Help:      "Sum of total_capacity across all backends.",
		}),
		capacityUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "farmer",
			Subsystem: "piece_cache",
			Name:      "capacity_used",
			Help:      "Sum of used_capacity high-water marks across all backends.",
		}),
	}

	registerer.MustRegister(
		s.cacheGetHit, s.cacheGetMiss, s.cacheGetError,
		s.cacheFindHit, s.cacheFindMiss,
		s.capacityTotal, s.capacityUsed,
	)

	return s
}

// NewDefault registers against prometheus.DefaultRegisterer exactly once
// per process; subsequent calls return a Sink wrapping freshly-created but
// unregistered collectors reusing the first registration's HTTP exposition
// is the caller's responsibility via promhttp.
func NewDefault() *Sink {
	var s *Sink
	registerOnce.Do(func() {
		s = New(prometheus.DefaultRegisterer)
	})
	if s == nil {
		s = New(prometheus.NewRegistry())
	}
	return s
}

func (s *Sink) IncCacheGetHit()   { s.cacheGetHit.Inc() }
func (s *Sink) IncCacheGetMiss()  { s.cacheGetMiss.Inc() }
func (s *Sink) IncCacheGetError() { s.cacheGetError.Inc() }
func (s *Sink) IncCacheFindHit()  { s.cacheFindHit.Inc() }
func (s *Sink) IncCacheFindMiss() { s.cacheFindMiss.Inc() }

func (s *Sink) SetPieceCacheCapacityTotal(n int64) { s.capacityTotal.Set(float64(n)) }
func (s *Sink) SetPieceCacheCapacityUsed(n int64)  { s.capacityUsed.Set(float64(n)) }
