// Package metrics defines the measurements the bot reports.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Observer interface {
	Observe(val float64, labels ...string)

	// Collectors are registered with prometheus directly.
	prometheus.Collector
}

// Metrics holds the bot's observers. Any field may be nil.
type Metrics struct {
	// Notifications counts EventSub notifications by kind.
	Notifications Observer
	// Duplicates counts redelivered notifications that were dropped.
	Duplicates Observer
	// Alerts counts alerts sent to chat by kind.
	Alerts Observer
	// ChatSends counts all messages sent to chat.
	ChatSends Observer
	// Reconnects counts EventSub reconnect attempts.
	Reconnects Observer
	// AlertLatency is the time from notification timestamp to sending an alert.
	AlertLatency Observer
}

// New creates Metrics backed by prometheus collectors.
func New() *Metrics {
	return &Metrics{
		Notifications: NewPromCounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "babs",
			Subsystem: "eventsub",
			Name:      "notifications_total",
			Help:      "Number of EventSub notifications received.",
		}, []string{"kind"})),
		Duplicates: NewPromCounter(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "babs",
			Subsystem: "eventsub",
			Name:      "duplicates_total",
			Help:      "Number of redelivered EventSub notifications dropped.",
		})),
		Alerts: NewPromCounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "babs",
			Subsystem: "chat",
			Name:      "alerts_total",
			Help:      "Number of alerts sent to chat.",
		}, []string{"kind"})),
		ChatSends: NewPromCounter(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "babs",
			Subsystem: "chat",
			Name:      "sends_total",
			Help:      "Number of messages sent to chat.",
		})),
		Reconnects: NewPromCounter(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "babs",
			Subsystem: "eventsub",
			Name:      "reconnects_total",
			Help:      "Number of EventSub reconnect attempts.",
		})),
		AlertLatency: NewPromHistogram(prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "babs",
			Subsystem: "chat",
			Name:      "alert_latency_seconds",
			Help:      "Time from notification to alert.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		})),
	}
}

// Collectors returns the non-nil observers for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	all := []Observer{
		m.Notifications,
		m.Duplicates,
		m.Alerts,
		m.ChatSends,
		m.Reconnects,
		m.AlertLatency,
	}
	r := make([]prometheus.Collector, 0, len(all))
	for _, o := range all {
		if o != nil {
			r = append(r, o)
		}
	}
	return r
}

// Observe records val on o if o is not nil.
func Observe(o Observer, val float64, labels ...string) {
	if o != nil {
		o.Observe(val, labels...)
	}
}
