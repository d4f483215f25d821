// Package otel sets up the global meter provider and the engine's metric
// instruments: task operations, claim conflicts, worker runs, findings.
package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce    sync.Once
	taskOpsCounter     metric.Int64Counter
	claimConflicts     metric.Int64Counter
	workerRunsCounter  metric.Int64Counter
	workerRunDuration  metric.Float64Histogram
	findingsCounter    metric.Int64Counter
	sseEventsCounter   metric.Int64Counter
	sseConnectionsGauge metric.Int64ObservableGauge
	sseConnections     int64
	sseConnectionsMu   sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times;
// only runs once. Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		taskOpsCounter, err = m.Int64Counter("swarmfuse_task_operations_total", metric.WithDescription("Total task operations (create, claim, complete, release, block)"))
		if err != nil {
			return
		}
		claimConflicts, err = m.Int64Counter("swarmfuse_claim_conflicts_total", metric.WithDescription("Claim attempts lost to a concurrent worker"))
		if err != nil {
			return
		}
		workerRunsCounter, err = m.Int64Counter("swarmfuse_worker_runs_total", metric.WithDescription("Total worker task executions"))
		if err != nil {
			return
		}
		workerRunDuration, err = m.Float64Histogram("swarmfuse_worker_run_duration_seconds", metric.WithDescription("Worker task execution duration in seconds"))
		if err != nil {
			return
		}
		findingsCounter, err = m.Int64Counter("swarmfuse_findings_total", metric.WithDescription("Findings collected from worker artifacts"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("swarmfuse_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("swarmfuse_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordTaskOp records a task operation (create, claim, complete, release, block).
func RecordTaskOp(ctx context.Context, op, session, status string) {
	if taskOpsCounter == nil {
		return
	}
	taskOpsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		AttrSession.String(session),
		AttrStatus.String(status),
	))
}

// RecordClaimConflict records a claim attempt lost to a concurrent worker.
func RecordClaimConflict(ctx context.Context, session string) {
	if claimConflicts == nil {
		return
	}
	claimConflicts.Add(ctx, 1, metric.WithAttributes(AttrSession.String(session)))
}

// RecordWorkerRun records one worker task execution and its duration.
func RecordWorkerRun(ctx context.Context, session, worker string, duration time.Duration) {
	if workerRunsCounter != nil {
		workerRunsCounter.Add(ctx, 1, metric.WithAttributes(AttrSession.String(session), AttrWorker.String(worker)))
	}
	if workerRunDuration != nil {
		workerRunDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrSession.String(session), AttrWorker.String(worker)))
	}
}

// RecordFindings records findings collected for a producer.
func RecordFindings(ctx context.Context, producer string, n int) {
	if findingsCounter == nil || n <= 0 {
		return
	}
	findingsCounter.Add(ctx, int64(n), metric.WithAttributes(AttrProducer.String(producer)))
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}

// TaskCountFunc returns task counts by status for the tasks gauge.
type TaskCountFunc func() (pending, inProgress, completed, blocked int64)

// InitMetricsWithTaskCount creates instruments and optionally registers a
// callback for the per-status task gauge. If taskCount is nil, the gauge is
// not reported.
func InitMetricsWithTaskCount(ctx context.Context, taskCount TaskCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if taskCount == nil {
		return nil
	}
	m := Meter()
	tasksGauge, err := m.Float64ObservableGauge("swarmfuse_tasks_total", metric.WithDescription("Number of tasks by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		pending, inProgress, completed, blocked := taskCount()
		o.ObserveFloat64(tasksGauge, float64(pending), metric.WithAttributes(AttrStatus.String("pending")))
		o.ObserveFloat64(tasksGauge, float64(inProgress), metric.WithAttributes(AttrStatus.String("in_progress")))
		o.ObserveFloat64(tasksGauge, float64(completed), metric.WithAttributes(AttrStatus.String("completed")))
		o.ObserveFloat64(tasksGauge, float64(blocked), metric.WithAttributes(AttrStatus.String("blocked")))
		return nil
	}, tasksGauge)
	return err
}
