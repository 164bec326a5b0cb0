// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle metrics
	sessionsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxd_sessions_started_total",
		Help: "Sessions handed to callers by source",
	}, []string{"source"}) // source=pool|spawn|existing

	sessionsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxd_sessions_ended_total",
		Help: "Session teardowns by reason",
	}, []string{"reason"}) // reason=user_ended|participant_left|room_finished|idle_timeout|process_died|spawn_timeout|...

	sessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxd_session_duration_seconds",
		Help:    "Conversation duration at teardown (0 when never active)",
		Buckets: []float64{0, 30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
	})

	sessionsCurrent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voxd_sessions_current",
		Help: "Sessions by index set (last observation)",
	}, []string{"set"}) // set=ready|starting|pool

	// Spawn metrics
	spawnTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxd_spawn_total",
		Help: "Spawn job outcomes",
	}, []string{"outcome"}) // outcome=ready|timeout|premature_exit|launch_error|cancelled

	spawnRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxd_spawn_retries_total",
		Help: "Spawn launch retries after transient failures",
	})

	spawnDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxd_spawn_duration_seconds",
		Help:    "Launch-to-readiness latency",
		Buckets: []float64{0.5, 1, 2, 5, 10, 15, 20, 30, 45},
	})

	spawnQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxd_spawn_queue_depth",
		Help: "Spawn jobs waiting for a worker",
	})

	// Pool metrics
	poolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxd_pool_size",
		Help: "Pre-warmed agents currently unassigned (last observation)",
	})

	poolAssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxd_pool_assignments_total",
		Help: "Pool assignment attempts by result",
	}, []string{"result"}) // result=hit|empty|bypass

	poolRefillSpawnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxd_pool_refill_spawns_total",
		Help: "Prewarm spawns enqueued by the refill sweep",
	})
)

func IncSessionStarted(source string)   { sessionsStartedTotal.WithLabelValues(source).Inc() }
func IncSessionEnded(reason string)     { sessionsEndedTotal.WithLabelValues(reason).Inc() }
func ObserveSessionDuration(sec int)    { sessionDurationSeconds.Observe(float64(sec)) }
func ObserveSpawnDuration(sec float64)  { spawnDurationSeconds.Observe(sec) }
func IncSpawn(outcome string)           { spawnTotal.WithLabelValues(outcome).Inc() }
func IncSpawnRetry()                    { spawnRetriesTotal.Inc() }
func SetSpawnQueueDepth(n int)          { spawnQueueDepth.Set(float64(n)) }
func SetPoolSize(n int)                 { poolSize.Set(float64(n)) }
func IncPoolAssignment(result string)   { poolAssignmentsTotal.WithLabelValues(result).Inc() }
func IncPoolRefillSpawn()               { poolRefillSpawnsTotal.Inc() }

func RecordSessionCounts(ready, starting, pool int) {
	sessionsCurrent.WithLabelValues("ready").Set(float64(ready))
	sessionsCurrent.WithLabelValues("starting").Set(float64(starting))
	sessionsCurrent.WithLabelValues("pool").Set(float64(pool))
	poolSize.Set(float64(pool))
}
