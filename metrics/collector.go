package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// A Collector exports the contents of an *M as Prometheus metrics. Counters
// are exported as counters named <namespace>_<name>_total, and max value
// trackers as gauges named <namespace>_<name>_max, where dots in a metric
// name are replaced by underscores.
//
// Because the set of names in an *M is open-ended, a Collector is an
// unchecked collector: its Describe method sends no descriptors.
type Collector struct {
	m         *M
	namespace string
}

// NewCollector returns a Collector for m using the given metric namespace.
func NewCollector(m *M, namespace string) *Collector {
	return &Collector{m: m, namespace: namespace}
}

// Describe implements part of prometheus.Collector.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements part of prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counters := make(map[string]int64)
	maxValues := make(map[string]int64)
	c.m.Snapshot(counters, maxValues)

	for name, v := range counters {
		desc := prometheus.NewDesc(c.fqName(name, "total"), "Counter "+name+".", nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}
	for name, v := range maxValues {
		desc := prometheus.NewDesc(c.fqName(name, "max"), "Maximum value of "+name+".", nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(v))
	}
}

func (c *Collector) fqName(name, suffix string) string {
	clean := strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
	return prometheus.BuildFQName(c.namespace, "", clean+"_"+suffix)
}
