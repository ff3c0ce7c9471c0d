// Package stats registers the control core's Prometheus collectors:
// merge activity, RDM queue depth, E1.31 drop counters, and USB
// discovery outcomes. Scraping/exposition is a Web UI concern and out
// of scope here (see spec.md's Non-goals); this package only owns
// collector registration. No other package of the core updates these
// collectors.
/*
 * Copyright (c) 2024, OLA control core contributors.
 */
package stats

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every metric the control core updates. The zero
// value is unusable; construct with NewCollectors.
type Collectors struct {
	MergeTotal         *prometheus.CounterVec
	RDMQueueDepth      *prometheus.GaugeVec
	E131FramesDropped  *prometheus.CounterVec
	USBDiscoveryEvents *prometheus.CounterVec
}

// NewCollectors builds and registers every collector against reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		MergeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "olad",
			Subsystem: "universe",
			Name:      "merges_total",
			Help:      "Number of times a universe's merged buffer or active priority changed.",
		}, []string{"universe"}),
		RDMQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "olad",
			Subsystem: "rdm",
			Name:      "queue_depth",
			Help:      "Number of RDM requests currently queued on a controller.",
		}, []string{"controller"}),
		E131FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "olad",
			Subsystem: "e131",
			Name:      "frames_dropped_total",
			Help:      "Number of incoming E1.31 frames dropped, by reason.",
		}, []string{"reason"}),
		USBDiscoveryEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "olad",
			Subsystem: "usbdisc",
			Name:      "events_total",
			Help:      "USB widget discovery outcomes, by kind (found, rejected, timeout).",
		}, []string{"outcome"}),
	}
	reg.MustRegister(c.MergeTotal, c.RDMQueueDepth, c.E131FramesDropped, c.USBDiscoveryEvents)
	return c
}
