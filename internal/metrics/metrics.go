package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cosketch",
		Name:      "active_rooms",
		Help:      "Number of live drawing rooms",
	})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cosketch",
		Name:      "connected_clients",
		Help:      "Number of open websocket connections",
	})

	LiveDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cosketch",
		Name:      "live_documents",
		Help:      "Number of replicated text documents held in memory",
	})

	DrawingOpsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cosketch",
		Name:      "drawing_ops_relayed_total",
		Help:      "Drawing operations accepted and rebroadcast",
	})

	DeltasRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cosketch",
		Name:      "crdt_deltas_relayed_total",
		Help:      "CRDT update deltas merged and rebroadcast",
	})

	DeltasRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cosketch",
		Name:      "crdt_deltas_rejected_total",
		Help:      "CRDT update deltas dropped because they failed to apply",
	})
)
