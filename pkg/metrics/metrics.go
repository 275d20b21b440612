// Package metrics exposes Prometheus collectors for the console relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions         = promauto.NewGauge(prometheus.GaugeOpts{Name: "consoled_active_sessions", Help: "Currently open console sessions"})
	SessionsTotal          = promauto.NewCounter(prometheus.CounterOpts{Name: "consoled_sessions_total", Help: "Console sessions opened"})
	SessionCloseTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Name: "consoled_session_close_total", Help: "Console sessions closed by reason"}, []string{"reason"})
	SessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "consoled_session_duration_seconds", Help: "Console session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.1, 2, 16)})
	TicketMintTotal        = promauto.NewCounterVec(prometheus.CounterOpts{Name: "consoled_ticket_mint_total", Help: "Console ticket mints by outcome"}, []string{"outcome"})
	AdmissionRejectTotal   = promauto.NewCounterVec(prometheus.CounterOpts{Name: "consoled_admission_reject_total", Help: "Rejected relay connections by reason"}, []string{"reason"})
	BytesForwardedTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "consoled_bytes_forwarded_total", Help: "Bytes forwarded by direction"}, []string{"direction"})
)
