// Package metrics exposes Prometheus counters for vault and recovery
// operations and serves them over HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	// VaultOperations counts vault operations by name and outcome.
	VaultOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_vault_operations_total",
			Help: "Total number of vault operations",
		},
		[]string{"operation", "result"},
	)

	// RecoveryOperations counts recovery engine operations by method, name and outcome.
	RecoveryOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_recovery_operations_total",
			Help: "Total number of recovery operations",
		},
		[]string{"method", "operation", "result"},
	)

	// RecoveryRateLimited counts attempts rejected by the attempt throttle.
	RecoveryRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wallet_recovery_rate_limited_total",
			Help: "Total number of recovery attempts rejected by the throttle",
		},
	)

	// SupervisorTransitions counts status changes made by the supervisor.
	SupervisorTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_recovery_supervisor_transitions_total",
			Help: "Total number of recovery status transitions made by the supervisor",
		},
		[]string{"method", "status"},
	)

	// SupervisorSweeps counts supervisor sweeps by outcome.
	SupervisorSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_recovery_supervisor_sweeps_total",
			Help: "Total number of supervisor sweeps",
		},
		[]string{"result"},
	)

	// GuardianNotifications counts guardian notifications by outcome.
	GuardianNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_recovery_guardian_notifications_total",
			Help: "Total number of guardian notifications sent",
		},
		[]string{"result"},
	)

	// HTTPRequests counts control API requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_vault_http_requests_total",
			Help: "Total number of control API requests",
		},
		[]string{"method", "route", "status"},
	)
)

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
