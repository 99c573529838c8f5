package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wabridge_connection_state",
		Help: "1 for the current connection state, 0 for the others",
	}, []string{"state"})

	ReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wabridge_reconnects_total",
		Help: "Scheduled reconnect attempts by close reason",
	}, []string{"reason"})

	PairingCodesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wabridge_pairing_codes_total",
		Help: "Pairing codes issued",
	})

	CredentialSavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wabridge_credential_saves_total",
		Help: "Credential persistence attempts by result",
	}, []string{"result"})

	InboundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wabridge_inbound_messages_total",
		Help: "Inbound messages by relay outcome",
	}, []string{"outcome"})

	MediaDownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wabridge_media_downloads_total",
		Help: "Inbound attachment downloads by kind and result",
	}, []string{"kind", "result"})

	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wabridge_webhook_deliveries_total",
		Help: "Webhook deliveries by result",
	}, []string{"result"})

	WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wabridge_webhook_duration_seconds",
		Help:    "Webhook POST latency",
		Buckets: prometheus.DefBuckets,
	})

	SendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wabridge_sends_total",
		Help: "Outbound sends by kind and result",
	}, []string{"kind", "result"})
)

var states = []string{"disconnected", "connecting", "connected"}

// SetConnectionState flips the state gauge to the given state.
func SetConnectionState(state string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		ConnectionState.WithLabelValues(s).Set(v)
	}
}

func IncInbound(outcome string) {
	InboundTotal.WithLabelValues(outcome).Inc()
}

func IncSend(kind, result string) {
	SendsTotal.WithLabelValues(kind, result).Inc()
}

func IncWebhook(result string) {
	WebhookDeliveriesTotal.WithLabelValues(result).Inc()
}
