package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 동기화 서버 지표
type Metrics struct {
	Connections       prometheus.Gauge
	Boards            prometheus.Gauge
	EnvelopesIn       *prometheus.CounterVec
	EnvelopesOut      *prometheus.CounterVec
	CursorDropped     prometheus.Counter
	SlowDisconnects   prometheus.Counter
	HeartbeatTimeouts prometheus.Counter
	ProtocolErrors    prometheus.Counter
	StoreErrors       *prometheus.CounterVec
	StoreLatency      *prometheus.HistogramVec
	FeedRelayed       prometheus.Counter
}

// New 지표 등록. 테스트에서는 prometheus.NewRegistry() 를 넘긴다.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "whiteboard",
			Subsystem: "sync",
			Name:      "connections",
			Help:      "Number of joined WebSocket connections.",
		}),
		Boards: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "whiteboard",
			Subsystem: "sync",
			Name:      "active_boards",
			Help:      "Number of boards with at least one connection on this instance.",
		}),
		EnvelopesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whiteboard",
			Subsystem: "sync",
			Name:      "envelopes_in_total",
			Help:      "Envelopes received from clients by kind.",
		}, []string{"kind"}),
		EnvelopesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whiteboard",
			Subsystem: "sync",
			Name:      "envelopes_out_total",
			Help:      "Envelopes queued to clients by kind.",
		}, []string{"kind"}),
		CursorDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "whiteboard",
			Subsystem: "sync",
			Name:      "cursor_dropped_total",
			Help:      "Cursor envelopes dropped because the peer queue was full.",
		}),
		SlowDisconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "whiteboard",
			Subsystem: "sync",
			Name:      "slow_client_disconnects_total",
			Help:      "Connections dropped because an element envelope did not fit their queue.",
		}),
		HeartbeatTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "whiteboard",
			Subsystem: "sync",
			Name:      "heartbeat_timeouts_total",
			Help:      "Connections terminated for missing a pong.",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "whiteboard",
			Subsystem: "sync",
			Name:      "protocol_errors_total",
			Help:      "Malformed envelopes reported back to the sender.",
		}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whiteboard",
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Failed element store calls by operation.",
		}, []string{"op"}),
		StoreLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "whiteboard",
			Subsystem: "store",
			Name:      "latency_seconds",
			Help:      "Element store call latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		FeedRelayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "whiteboard",
			Subsystem: "sync",
			Name:      "feed_relayed_total",
			Help:      "Changes from other instances relayed to local connections.",
		}),
	}
}
