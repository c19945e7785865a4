package service

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Registrations     *prometheus.CounterVec
	DepositsTotal     *prometheus.CounterVec
	CommissionPayouts *prometheus.CounterVec
	CommissionStops   *prometheus.CounterVec
	Activations       *prometheus.CounterVec
	WithdrawalsTotal  *prometheus.CounterVec
	AccrualRuns       *prometheus.CounterVec
	AccrualAccounts   *prometheus.CounterVec
	AccrualDuration   prometheus.Histogram
	RateLimited       *prometheus.CounterVec
	PublishFailures   prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_registrations_total",
				Help: "Total account registrations.",
			},
			[]string{"referred"},
		),
		DepositsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_deposits_total",
				Help: "Total deposit confirmations processed.",
			},
			[]string{"status"},
		),
		CommissionPayouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_commission_payouts_total",
				Help: "Total commission credits by referral level.",
			},
			[]string{"level"},
		),
		CommissionStops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_commission_cascade_stops_total",
				Help: "Commission cascades by stop reason.",
			},
			[]string{"reason"},
		),
		Activations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_activations_total",
				Help: "Total daily ROI activations.",
			},
			[]string{"status"},
		),
		WithdrawalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_withdrawals_total",
				Help: "Total withdrawal transitions.",
			},
			[]string{"status"},
		),
		AccrualRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_accrual_runs_total",
				Help: "Total accrual sweeps.",
			},
			[]string{"status"},
		),
		AccrualAccounts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_accrual_accounts_total",
				Help: "Accounts visited by accrual sweeps by outcome.",
			},
			[]string{"outcome"},
		),
		AccrualDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wallet_accrual_duration_seconds",
				Help:    "Accrual sweep duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_rate_limited_total",
				Help: "Total owner operations rejected by the rate limiter.",
			},
			[]string{"operation"},
		),
		PublishFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wallet_event_publish_failures_total",
				Help: "Total ledger event publish failures.",
			},
		),
	}

	registry.MustRegister(
		m.Registrations,
		m.DepositsTotal,
		m.CommissionPayouts,
		m.CommissionStops,
		m.Activations,
		m.WithdrawalsTotal,
		m.AccrualRuns,
		m.AccrualAccounts,
		m.AccrualDuration,
		m.RateLimited,
		m.PublishFailures,
	)
	return m
}

func (m *Metrics) IncRegistration(referred bool) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(strconv.FormatBool(referred)).Inc()
}

func (m *Metrics) IncDeposit(status string) {
	if m == nil {
		return
	}
	m.DepositsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveCascade(levels []int, stop string) {
	if m == nil {
		return
	}
	for _, level := range levels {
		m.CommissionPayouts.WithLabelValues(strconv.Itoa(level)).Inc()
	}
	if stop != "" {
		m.CommissionStops.WithLabelValues(stop).Inc()
	}
}

func (m *Metrics) IncActivation(status string) {
	if m == nil {
		return
	}
	m.Activations.WithLabelValues(status).Inc()
}

func (m *Metrics) IncWithdrawal(status string) {
	if m == nil {
		return
	}
	m.WithdrawalsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveAccrual(status string, paid, capped, skipped, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.AccrualRuns.WithLabelValues(status).Inc()
	m.AccrualAccounts.WithLabelValues("paid").Add(float64(paid))
	m.AccrualAccounts.WithLabelValues("capped").Add(float64(capped))
	m.AccrualAccounts.WithLabelValues("skipped").Add(float64(skipped))
	m.AccrualAccounts.WithLabelValues("failed").Add(float64(failed))
	m.AccrualDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncRateLimited(operation string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncPublishFailure() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}
