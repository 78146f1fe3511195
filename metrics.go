package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors. Each server has its own
// registry.
type Metrics struct {
	Registry *prometheus.Registry

	// By message type.
	Received *prometheus.CounterVec
	Sent     *prometheus.CounterVec

	Malformed    prometheus.Counter
	Duplicates   prometheus.Counter
	Delivered    prometheus.Counter
	Prunes       prometheus.Counter
	Expired      prometheus.Counter
	SendFailures prometheus.Counter

	Users         prometheus.Gauge
	Channels      prometheus.Gauge
	Subscriptions prometheus.Gauge
	SeenIDs       prometheus.Gauge
}

func newMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		Received: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duckfed_datagrams_received_total",
				Help: "Datagrams received, by message type.",
			},
			[]string{"type"},
		),
		Sent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duckfed_datagrams_sent_total",
				Help: "Datagrams sent, by message type.",
			},
			[]string{"type"},
		),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duckfed_datagrams_malformed_total",
			Help: "Datagrams dropped because they could not be decoded.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duckfed_s2s_say_duplicates_total",
			Help: "S2S SAY messages received more than once.",
		}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duckfed_local_deliveries_total",
			Help: "TXT_SAY messages sent to local members.",
		}),
		Prunes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duckfed_prunes_total",
			Help: "Times we pruned ourselves from a channel's distribution tree.",
		}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duckfed_subscriptions_expired_total",
			Help: "Local subscriptions torn down for lack of renewal.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duckfed_send_failures_total",
			Help: "Datagrams we failed to send.",
		}),
		Users: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duckfed_users",
			Help: "Logged in users.",
		}),
		Channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duckfed_channels",
			Help: "Channels with local members.",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duckfed_subscriptions",
			Help: "Channels in the local subscription set.",
		}),
		SeenIDs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duckfed_seen_ids",
			Help: "S2S SAY ids held for duplicate suppression.",
		}),
	}

	m.Registry.MustRegister(
		m.Received,
		m.Sent,
		m.Malformed,
		m.Duplicates,
		m.Delivered,
		m.Prunes,
		m.Expired,
		m.SendFailures,
		m.Users,
		m.Channels,
		m.Subscriptions,
		m.SeenIDs,
	)

	return m
}

// update sets the gauges from the server's state. Call it from the event
// loop.
func (m *Metrics) update(d *Duckfed) {
	m.Users.Set(float64(len(d.Users)))
	m.Channels.Set(float64(len(d.Channels)))
	m.Subscriptions.Set(float64(len(d.Subscriptions)))
	m.SeenIDs.Set(float64(d.Seen.Len()))
}

func (m *Metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
