package mac

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are the MAC's Prometheus counters, mirroring the teacher's
// promauto.NewCounter idiom (see prometheus.go's radiodErrors/
// sessionCreationErrors pattern). Registered against the default
// registry so cmd/dragonradiod's /metrics endpoint picks them up
// without the MAC needing to know about the HTTP mount.
type metrics struct {
	txLate      prometheus.Counter
	missedSlots prometheus.Counter
	rxErrors    prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		txLate: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dragonradio_mac_tx_late_total",
			Help: "Bursts that failed or arrived after their slot deadline.",
		}),
		missedSlots: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dragonradio_mac_missed_slots_total",
			Help: "Slots whose synthesizer modulation did not finish before lead time.",
		}),
		rxErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dragonradio_mac_rx_errors_total",
			Help: "Radio BurstRx calls that returned an error.",
		}),
	}
}
