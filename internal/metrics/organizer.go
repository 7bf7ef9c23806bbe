package metrics

import (
	"time"

	"github.com/nodecore/blockorganizer/internal/chain/chainerr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	organizeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockorganizer",
		Subsystem: "organizer",
		Name:      "organize_total",
		Help:      "Count of organize(block) calls by resulting chainerr code.",
	}, []string{"code"})

	organizeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockorganizer",
		Subsystem: "organizer",
		Name:      "organize_duration_seconds",
		Help:      "Duration of organize(block) from admission to handler dispatch.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"code"})

	reorganizeDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "blockorganizer",
		Subsystem: "organizer",
		Name:      "reorganize_depth_blocks",
		Help:      "Number of outgoing blocks popped by a committed reorganize.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	poolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blockorganizer",
		Subsystem: "pool",
		Name:      "size",
		Help:      "Current number of blocks held in the pending block pool.",
	})
)

// Organizer records organize(block) outcomes and reorganization depth.
type Organizer struct{}

// NewOrganizer builds an Organizer metrics recorder.
func NewOrganizer() Organizer { return Organizer{} }

// ObserveOrganize records one organize(block) call's outcome and latency.
func (Organizer) ObserveOrganize(code chainerr.Code, started time.Time) {
	label := code.String()
	organizeTotal.WithLabelValues(label).Inc()
	organizeDuration.WithLabelValues(label).Observe(time.Since(started).Seconds())
}

// ObserveReorganize records the depth (outgoing block count) of a committed
// reorganize; depth 0 means a plain linear extension.
func (Organizer) ObserveReorganize(outgoing int) {
	reorganizeDepth.Observe(float64(outgoing))
}

// SetPoolSize reports the pool's current entry count.
func (Organizer) SetPoolSize(n int) {
	poolSize.Set(float64(n))
}
