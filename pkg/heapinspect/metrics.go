package heapinspect

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

type Metrics struct {
	inspections   *prometheus.CounterVec
	linePointers  *prometheus.GaugeVec
	relationPages *prometheus.GaugeVec
}

// NewMetrics registers inspector metrics with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		inspections: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "heapprobe",
			Name:      "page_inspections_total",
			Help:      "Total number of heap page inspections by outcome.",
		}, []string{"relation", "outcome"}),
		linePointers: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "heapprobe",
			Name:      "line_pointers",
			Help:      "Line pointers on the last inspected page, by flag.",
		}, []string{"relation", "page", "flag"}),
		relationPages: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "heapprobe",
			Name:      "relation_pages",
			Help:      "Pages occupied by the relation according to the last statistics refresh.",
		}, []string{"relation"}),
	}
}

func (m *Metrics) observeSnapshot(relation string, page uint32, counts Counts) {
	p := strconv.FormatUint(uint64(page), 10)
	for f := Unused; f <= Dead; f++ {
		m.linePointers.WithLabelValues(relation, p, f.String()).Set(float64(counts.Get(f)))
	}
}

func (m *Metrics) observeInspection(relation string, err error) {
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
	}
	m.inspections.WithLabelValues(relation, outcome).Inc()
}

func (m *Metrics) observePages(relation string, pages int) {
	m.relationPages.WithLabelValues(relation).Set(float64(pages))
}
