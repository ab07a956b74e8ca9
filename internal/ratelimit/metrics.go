package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// BudgetExceededTotal counts budget exhaustion events per key.
	BudgetExceededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sedori_budget_exceeded_total",
		Help: "Total number of Budget.Consume calls that failed with budget exceeded",
	}, []string{"key"})

	// CircuitBreakerOpenTotal counts the number of times a breaker opened.
	CircuitBreakerOpenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sedori_circuit_breaker_open_total",
		Help: "Total number of times a circuit breaker transitioned to open",
	}, []string{"key"})

	// CircuitBreakerRejectedTotal counts calls rejected by an open breaker.
	CircuitBreakerRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sedori_circuit_breaker_rejected_total",
		Help: "Total number of calls rejected because the circuit breaker was open",
	}, []string{"key"})
)
