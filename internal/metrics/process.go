// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxd_proc_terminate_total",
		Help: "Process-group signals by signal and outcome",
	}, []string{"signal", "outcome"}) // outcome=sent|esrch|error

	procWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxd_proc_wait_total",
		Help: "Agent reap results",
	}, []string{"outcome"}) // outcome=exit0|exit_nonzero|forced_exit0|forced_error

	// Store metrics
	storeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxd_store_errors_total",
		Help: "Redis operation failures by operation",
	}, []string{"op"})

	// Sweep metrics
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxd_sweep_runs_total",
		Help: "Sweep cycles by sweep name and outcome",
	}, []string{"sweep", "outcome"}) // outcome=ok|skipped|error

	sweepRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxd_sweep_removed_total",
		Help: "Sessions removed by sweeps",
	}, []string{"sweep"})

	// Webhook metrics
	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxd_webhook_events_total",
		Help: "Inbound media-server webhook events by type and outcome",
	}, []string{"event", "outcome"}) // outcome=handled|ignored|unknown_session

	webhookRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxd_webhook_rejected_total",
		Help: "Webhook requests rejected before processing",
	}, []string{"reason"}) // reason=signature|body|json|ratelimit

	// Token metrics
	tokensIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxd_tokens_issued_total",
		Help: "Room-join tokens minted",
	})

	// Rate limiting
	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxd_rate_limited_total",
		Help: "Session starts rejected by the per-IP limiter",
	})
)

func IncProcTerminate(signal, outcome string) {
	procTerminateTotal.WithLabelValues(signal, outcome).Inc()
}
func IncProcWait(outcome string) { procWaitTotal.WithLabelValues(outcome).Inc() }

func IncStoreError(op string) { storeErrorsTotal.WithLabelValues(op).Inc() }

func IncSweepRun(sweep, outcome string) { sweepRunsTotal.WithLabelValues(sweep, outcome).Inc() }
func AddSweepRemoved(sweep string, n int) {
	if n > 0 {
		sweepRemovedTotal.WithLabelValues(sweep).Add(float64(n))
	}
}

func IncWebhookEvent(event, outcome string) {
	webhookEventsTotal.WithLabelValues(event, outcome).Inc()
}
func IncWebhookRejected(reason string) { webhookRejectedTotal.WithLabelValues(reason).Inc() }

func IncTokenIssued() { tokensIssuedTotal.Inc() }
func IncRateLimited() { rateLimitedTotal.Inc() }
