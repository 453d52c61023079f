package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resona_events_ingested_total",
		Help: "Events appended to the event log by event type",
	}, []string{"event_type"})

	incidentsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resona_incidents_recorded_total",
		Help: "Incidents recorded by type and severity",
	}, []string{"incident_type", "severity"})

	alertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resona_alerts_raised_total",
		Help: "Alerts derived during broadcast cycles by alert type",
	}, []string{"type"})

	feedActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resona_feed_active_sessions",
		Help: "Sessions with at least one live-feed subscriber",
	})

	feedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resona_feed_subscribers",
		Help: "Open live-feed subscriptions",
	})

	feedCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resona_feed_cycles_total",
		Help: "Broadcast cycles by result",
	}, []string{"result"})

	feedCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "resona_feed_cycle_duration_seconds",
		Help:    "Duration of one broadcast cycle",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	feedCoalescedTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resona_feed_coalesced_ticks_total",
		Help: "Ticks dropped because a cycle was still running",
	})
)
