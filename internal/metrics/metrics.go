// Package metrics exposes the service's Prometheus instrumentation. Metrics
// register on the default registry; main serves them via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsApplied counts committed live operations.
	OperationsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitsync_operations_applied_total",
		Help: "Number of live operations committed.",
	})

	// BatchesApplied counts committed delta batches.
	BatchesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitsync_batches_applied_total",
		Help: "Number of delta batches committed.",
	})

	// VersionConflicts counts rejected writes by path.
	VersionConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitsync_version_conflicts_total",
		Help: "Number of writes rejected by the version gate.",
	}, []string{"path"})

	// RoomJoins counts successful room joins.
	RoomJoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitsync_room_joins_total",
		Help: "Number of successful room joins.",
	})

	// ConnectedClients tracks currently open realtime connections.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splitsync_connected_clients",
		Help: "Number of open websocket connections.",
	})

	// BroadcastsSent counts change notifications fanned out to room members.
	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitsync_broadcasts_sent_total",
		Help: "Number of change notifications delivered to room members.",
	})
)
