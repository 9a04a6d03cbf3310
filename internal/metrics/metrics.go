package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallbox_messages_received_total",
		Help: "Number of OCPP messages received, by action.",
	}, []string{"action"})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallbox_commands_total",
		Help: "Number of command protocol invocations, by command and outcome.",
	}, []string{"command", "outcome"})

	Connected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wallbox_connected",
		Help: "Whether the wallbox transport link is up (1) or down (0).",
	})
)

// RegisterStateGauges registers gauges that sample the session state on
// scrape. snapshot must be safe for concurrent use.
func RegisterStateGauges(snapshot func() (powerW, energyTotalKWh, currentLimitA float64)) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wallbox_power_watts",
		Help: "Last reported active import power.",
	}, func() float64 {
		p, _, _ := snapshot()
		return p
	})
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wallbox_energy_total_kwh",
		Help: "Guarded cumulative energy meter reading.",
	}, func() float64 {
		_, e, _ := snapshot()
		return e
	})
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wallbox_current_limit_amperes",
		Help: "Configured charging current limit.",
	}, func() float64 {
		_, _, l := snapshot()
		return l
	})
}
