// Package metrics holds the prometheus collectors for the sync engine and
// the reference backend. A nil *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	streamEvents     *prometheus.CounterVec
	streamDropped    prometheus.Counter
	streamReconnects prometheus.Counter
	streamConnected  prometheus.Gauge

	duplicates     prometheus.Counter
	staleSnapshots prometheus.Counter
	rollbacks      prometheus.Counter

	broadcasts *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_stream_events_total",
			Help: "Stream events dispatched to the open chat, by type.",
		}, []string{"type"}),
		streamDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_stream_events_dropped_total",
			Help: "Stream events dropped because their chat is no longer open.",
		}),
		streamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_stream_reconnects_total",
			Help: "Reconnect attempts after an unexpected stream closure.",
		}),
		streamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatsync_stream_connected",
			Help: "1 while a stream subscription is connected.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_reconcile_duplicates_total",
			Help: "Message inserts ignored because the id was already present.",
		}),
		staleSnapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_reconcile_stale_snapshots_total",
			Help: "Snapshot results discarded because the open chat changed.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_reconcile_rollbacks_total",
			Help: "Pending sends removed after a failed send.",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatd_broadcasts_total",
			Help: "Stream events broadcast to chat subscribers, by type.",
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.streamEvents, m.streamDropped, m.streamReconnects, m.streamConnected,
			m.duplicates, m.staleSnapshots, m.rollbacks, m.broadcasts,
		)
	}
	return m
}

func (m *Metrics) StreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) StreamDropped() {
	if m == nil {
		return
	}
	m.streamDropped.Inc()
}

func (m *Metrics) StreamReconnect() {
	if m == nil {
		return
	}
	m.streamReconnects.Inc()
}

func (m *Metrics) StreamConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.streamConnected.Set(1)
		return
	}
	m.streamConnected.Set(0)
}

func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) StaleSnapshot() {
	if m == nil {
		return
	}
	m.staleSnapshots.Inc()
}

func (m *Metrics) Rollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

func (m *Metrics) Broadcast(eventType string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(eventType).Inc()
}
