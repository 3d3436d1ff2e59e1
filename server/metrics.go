package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 服务运行期指标（用于监控与调试）
type Metrics struct {
	Rooms         prometheus.Gauge
	Players       prometheus.Gauge
	Connections   prometheus.Gauge
	EventsIn      *prometheus.CounterVec // 按事件名统计的入站消息
	Dropped       *prometheus.CounterVec // 被丢弃的消息（原因：malformed/rate/queue_full/...）
	MovesRejected *prometheus.CounterVec // 被拒绝的位置上报（suspended/implausible）
	ChatRejected  prometheus.Counter
	RoomsReaped   prometheus.Counter
}

// NewMetrics 在 reg 上注册全部指标；测试传入独立的 Registry
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "realmarena_rooms",
			Help: "Active rooms.",
		}),
		Players: f.NewGauge(prometheus.GaugeOpts{
			Name: "realmarena_players",
			Help: "Players currently joined to a room.",
		}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "realmarena_connections",
			Help: "Open WebSocket connections.",
		}),
		EventsIn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "realmarena_events_in_total",
			Help: "Inbound events by name.",
		}, []string{"event"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "realmarena_dropped_total",
			Help: "Inbound or outbound messages dropped, by reason.",
		}, []string{"reason"}),
		MovesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "realmarena_moves_rejected_total",
			Help: "Position reports not applied, by status.",
		}, []string{"status"}),
		ChatRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "realmarena_chat_rejected_total",
			Help: "Chat messages rejected by length checks.",
		}),
		RoomsReaped: f.NewCounter(prometheus.CounterOpts{
			Name: "realmarena_rooms_reaped_total",
			Help: "Idle rooms deleted by the reaper.",
		}),
	}
}
