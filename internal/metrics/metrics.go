// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesRxTotal counts wire frames received per opcode.
	FramesRxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztpipe_frames_rx_total",
			Help: "Total number of wire frames received",
		},
		[]string{"opcode"},
	)

	// FramesTxTotal counts wire frames sent per opcode.
	FramesTxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztpipe_frames_tx_total",
			Help: "Total number of wire frames sent",
		},
		[]string{"opcode"},
	)

	// ReassemblyActiveSlots tracks in-use reassembly slots per pipe.
	ReassemblyActiveSlots = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ztpipe_reassembly_active_slots",
			Help: "Number of in-use fragment reassembly slots",
		},
		[]string{"pipe"},
	)

	// ReassemblyDropsTotal counts fragments dropped during reassembly,
	// by reason (protocol_error, size_exceeded, stale_evicted).
	ReassemblyDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztpipe_reassembly_drops_total",
			Help: "Total number of fragments dropped during reassembly",
		},
		[]string{"reason"},
	)

	// PipesOpen tracks the current number of established pipes.
	PipesOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ztpipe_pipes_open",
			Help: "Current number of established pipes",
		},
	)

	// DialAttemptsTotal counts connection attempts by outcome.
	DialAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztpipe_dial_attempts_total",
			Help: "Total number of dial attempts by outcome",
		},
		[]string{"outcome"},
	)

	// PingRTTSeconds measures observed keepalive round-trip time.
	PingRTTSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ztpipe_ping_rtt_seconds",
			Help:    "Observed ping round-trip time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	// NodesOpen tracks the current number of open Node instances.
	NodesOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ztpipe_nodes_open",
			Help: "Current number of open overlay nodes",
		},
	)
)
