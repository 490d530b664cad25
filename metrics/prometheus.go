// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	producedDesc = prometheus.NewDesc(
		"stompbench_produced_total",
		"Messages successfully sent to the broker.",
		nil, nil,
	)
	consumedDesc = prometheus.NewDesc(
		"stompbench_consumed_total",
		"Messages successfully received and acknowledged.",
		nil, nil,
	)
	errorsDesc = prometheus.NewDesc(
		"stompbench_errors_total",
		"Transport and protocol failures.",
		nil, nil,
	)
)

// Collector exposes a Counters set to Prometheus.
type Collector struct {
	counters *Counters
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector wraps the counters for registration.
func NewCollector(c *Counters) *Collector {
	return &Collector{counters: c}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- producedDesc
	ch <- consumedDesc
	ch <- errorsDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.counters.Snapshot()
	ch <- prometheus.MustNewConstMetric(producedDesc, prometheus.CounterValue, float64(s.Produced))
	ch <- prometheus.MustNewConstMetric(consumedDesc, prometheus.CounterValue, float64(s.Consumed))
	ch <- prometheus.MustNewConstMetric(errorsDesc, prometheus.CounterValue, float64(s.Errors))
}
