// Package metrics defines the Prometheus collectors of the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion
	MessagesIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tempmail_messages_ingested_total",
		Help: "Raw messages handed to the ingest pipeline",
	}, []string{"source"})
	MessagesStored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tempmail_messages_stored_total",
		Help: "Messages stored into an inbox",
	}, []string{"tier"})
	MessagesDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tempmail_messages_duplicate_total",
		Help: "Deliveries skipped because the inbox already holds the message",
	})
	MessagesUnmatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tempmail_messages_unmatched_total",
		Help: "Messages dropped because no active address matched a recipient",
	})
	MessagesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tempmail_messages_rejected_total",
		Help: "Per-address deliveries rejected, grouped by reason",
	}, []string{"reason"})
	MessagesEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tempmail_messages_evicted_total",
		Help: "Messages evicted to make room in a full inbox",
	})
	IngestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tempmail_ingest_duration_seconds",
		Help:    "Time spent ingesting one raw message",
		Buckets: prometheus.DefBuckets,
	})

	// Addresses
	AddressesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tempmail_addresses_created_total",
		Help: "Addresses provisioned",
	}, []string{"tier", "mode"})
	AddressesExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tempmail_addresses_expired_total",
		Help: "Addresses removed by the expiry sweep",
	})
	AddressesDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tempmail_addresses_deleted_total",
		Help: "Addresses deleted by their owner",
	})

	// Sources
	SourcePolls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tempmail_source_polls_total",
		Help: "Poll cycles per source and outcome",
	}, []string{"source", "outcome"})

	// Realtime
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tempmail_events_published_total",
		Help: "Events published per sink",
	}, []string{"sink", "type"})
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tempmail_events_dropped_total",
		Help: "Events not delivered, per sink",
	}, []string{"sink"})
	Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tempmail_realtime_subscribers",
		Help: "Open in-process event subscriptions",
	})

	// Outbound mail used by the self-test
	MailSendSuccess = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tempmail_mail_send_success_total",
		Help: "Self-test emails sent",
	})
	MailSendFailure = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tempmail_mail_send_failure_total",
		Help: "Self-test emails that failed to send",
	})
)

func init() {
	prometheus.MustRegister(MessagesIngested)
	prometheus.MustRegister(MessagesStored)
	prometheus.MustRegister(MessagesDuplicate)
	prometheus.MustRegister(MessagesUnmatched)
	prometheus.MustRegister(MessagesRejected)
	prometheus.MustRegister(MessagesEvicted)
	prometheus.MustRegister(IngestDuration)
	prometheus.MustRegister(AddressesCreated)
	prometheus.MustRegister(AddressesExpired)
	prometheus.MustRegister(AddressesDeleted)
	prometheus.MustRegister(SourcePolls)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(Subscribers)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
