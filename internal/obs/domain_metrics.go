package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ChargeTotal counts charge outcomes by result (paid, retryable,
	// terminal, ceiling).
	ChargeTotal *prometheus.CounterVec
	// RefundTotal counts refund outcomes by kind (full, partial).
	RefundTotal *prometheus.CounterVec
	// GrantTotal counts discount grant evaluations by result.
	GrantTotal *prometheus.CounterVec
	// OrdersAssembledTotal counts order assembly outcomes.
	OrdersAssembledTotal *prometheus.CounterVec
	// SweepDuration records the wall-clock time of worker sweeps.
	SweepDuration *prometheus.HistogramVec
	// EffectDispatchTotal counts dispatched effect outcomes.
	EffectDispatchTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ChargeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charge_total",
			Help:      "Count of order charge outcomes.",
		}, []string{"result"})
		RefundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_total",
			Help:      "Count of order refund outcomes.",
		}, []string{"kind", "result"})
		GrantTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_grant_total",
			Help:      "Count of discount grant evaluation outcomes.",
		}, []string{"result"})
		OrdersAssembledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_assembled_total",
			Help:      "Count of order assembly outcomes.",
		}, []string{"result"})
		SweepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_ms",
			Help:      "Wall-clock duration of billing worker sweeps in milliseconds.",
			Buckets:   []float64{100, 500, 1000, 5000, 15000, 60000, 240000},
		}, []string{"sweep"})
		EffectDispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effect_dispatch_total",
			Help:      "Count of domain effect dispatch outcomes.",
		}, []string{"topic", "result"})

		counters := map[string]**prometheus.CounterVec{
			"charge":   &ChargeTotal,
			"refund":   &RefundTotal,
			"grant":    &GrantTotal,
			"assembly": &OrdersAssembledTotal,
			"effect":   &EffectDispatchTotal,
		}
		for name, c := range counters {
			mustRegisterCollector(reg, *c, func(existing prometheus.Collector) {
				if v, ok := existing.(*prometheus.CounterVec); ok {
					*c = v
				}
			}, name)
		}
		mustRegisterCollector(reg, SweepDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				SweepDuration = v
			}
		}, "sweep")
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector), name string) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register %s metric: %w", name, err))
	}
}
