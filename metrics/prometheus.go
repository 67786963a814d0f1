package metrics

import "github.com/prometheus/client_golang/prometheus"

// prom pairs a Prometheus collector with the function that records into it.
type prom struct {
	prometheus.Collector
	record func(val float64, labels []string)
}

func (p prom) Observe(val float64, labels ...string) { p.record(val, labels) }

// NewPromCounter adds observed values to c. Labels are ignored.
func NewPromCounter(c prometheus.Counter) Observer {
	return prom{c, func(val float64, _ []string) { c.Add(val) }}
}

// NewPromCounterVec adds observed values to the child of v named by the
// labels, in order.
func NewPromCounterVec(v *prometheus.CounterVec) Observer {
	return prom{v, func(val float64, labels []string) { v.WithLabelValues(labels...).Add(val) }}
}

// NewPromHistogram observes values into h.
func NewPromHistogram(h prometheus.Histogram) Observer {
	return prom{h, func(val float64, _ []string) { h.Observe(val) }}
}
