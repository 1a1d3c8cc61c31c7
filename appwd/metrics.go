package appwd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// transitionsTotal counts state changes by machine, from-state and to-state
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appwd_transitions_total",
		Help: "Total watchdog state machine transitions",
	}, []string{"fsm", "from", "to"})

	// protocolErrorsTotal counts events ignored because they arrived in a state
	// that does not accept them, including stale timer expiries
	protocolErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appwd_protocol_errors_total",
		Help: "Total watchdog events discarded as protocol errors",
	}, []string{"fsm", "event"})

	// heartbeatsTotal counts hardware timer keepalives by timer and result
	heartbeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appwd_heartbeats_total",
		Help: "Total hardware watchdog timer keepalives",
	}, []string{"timer", "result"})

	// monitorState exposes the current monitor state as its numeric value
	monitorState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "appwd_monitor_state",
		Help: "Current watchdog monitor state (0=boot 1=active 2=reboot 3=zombie)",
	})

	// deviceState exposes each device's current state as its numeric value
	deviceState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "appwd_device_state",
		Help: "Current watchdog device state (0=init .. 8=dead)",
	}, []string{"device"})
)
