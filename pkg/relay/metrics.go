package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "proxchat_sessions",
		Help: "The number of live sessions by kind.",
	}, []string{"kind"})
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxchat_commands_total",
		Help: "Bridge commands by result.",
	}, []string{"result"})
	demuxTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxchat_demux_connections_total",
		Help: "Connections of the public port by route.",
	}, []string{"route"})
)
