package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records tap, withdrawal and donation outcomes. All methods are
// nil-safe so components can run without a registry in tests.
type Metrics struct {
	tapVerifications *prometheus.CounterVec
	withdrawals      *prometheus.CounterVec
	withdrawalMsat   prometheus.Histogram
	donations        *prometheus.CounterVec
	payerDuration    *prometheus.HistogramVec
	sweepDuration    prometheus.Histogram
}

// New registers all service metrics on the provided registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	tapVerifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tap_verifications_total",
		Help: "NFC tap verification attempts by outcome.",
	}, []string{"outcome"})
	withdrawals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "withdrawals_total",
		Help: "Withdrawal attempts by outcome.",
	}, []string{"outcome"})
	withdrawalMsat := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "withdrawal_amount_msat",
		Help:    "Committed withdrawal amounts in millisatoshi.",
		Buckets: []float64{10_000, 21_000, 50_000, 100_000, 210_000, 500_000, 1_000_000, 2_100_000, 5_000_000, 10_000_000},
	})
	donations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "donations_total",
		Help: "Donation invoices by outcome.",
	}, []string{"outcome"})
	payerDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payer_request_duration_seconds",
		Help:    "Duration of upstream Lightning payer calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "withdrawal_sweep_duration_seconds",
		Help:    "Duration of pending withdrawal reconciliation sweeps.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(tapVerifications, withdrawals, withdrawalMsat, donations, payerDuration, sweepDuration)
	return &Metrics{
		tapVerifications: tapVerifications,
		withdrawals:      withdrawals,
		withdrawalMsat:   withdrawalMsat,
		donations:        donations,
		payerDuration:    payerDuration,
		sweepDuration:    sweepDuration,
	}
}

// TapVerified records a tap verification outcome: ok, cmac_mismatch,
// replay, unknown_card or malformed.
func (m *Metrics) TapVerified(outcome string) {
	if m == nil || m.tapVerifications == nil {
		return
	}
	m.tapVerifications.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// WithdrawalOutcome records a withdrawal outcome: committed, released,
// rejected or pending.
func (m *Metrics) WithdrawalOutcome(outcome string) {
	if m == nil || m.withdrawals == nil {
		return
	}
	m.withdrawals.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// WithdrawalCommitted records the committed amount.
func (m *Metrics) WithdrawalCommitted(amountMsat int64) {
	if m == nil || m.withdrawalMsat == nil {
		return
	}
	m.withdrawalMsat.Observe(float64(amountMsat))
}

// DonationOutcome records a donation outcome: created, received or timed_out.
func (m *Metrics) DonationOutcome(outcome string) {
	if m == nil || m.donations == nil {
		return
	}
	m.donations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObservePayer records the duration of one upstream payer call.
func (m *Metrics) ObservePayer(op string, d time.Duration) {
	if m == nil || m.payerDuration == nil {
		return
	}
	m.payerDuration.WithLabelValues(normalizeLabel(op)).Observe(d.Seconds())
}

// ObserveSweep records the duration of one reconciliation sweep.
func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil || m.sweepDuration == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
