package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/odvcencio/gotrack/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkerCount  = 2
	defaultPollInterval = 250 * time.Millisecond

	tracerName = "github.com/odvcencio/gotrack/internal/jobs"
)

type WorkerPoolOptions struct {
	Workers      int
	PollInterval time.Duration
	Logger       *slog.Logger
	Registerer   prometheus.Registerer
}

// WorkerPool claims jobs from Queue and executes them with JobProcessor.
type WorkerPool struct {
	queue        *Queue
	process      JobProcessor
	workers      int
	pollInterval time.Duration
	logger       *slog.Logger
	metrics      *workerMetrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewWorkerPool(queue *Queue, process JobProcessor, opts WorkerPoolOptions) *WorkerPool {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		queue:        queue,
		process:      process,
		workers:      workers,
		pollInterval: pollInterval,
		logger:       logger,
		metrics:      newWorkerMetrics(opts.Registerer),
	}
}

func (w *WorkerPool) Start(parent context.Context) error {
	if w == nil || w.queue == nil || w.process == nil {
		return fmt.Errorf("worker pool is not configured")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	w.started = true

	go w.run(ctx, done)
	return nil
}

func (w *WorkerPool) Stop(ctx context.Context) error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.mu.Lock()
	w.started = false
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()
	return nil
}

func (w *WorkerPool) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	var g errgroup.Group
	for i := 0; i < w.workers; i++ {
		workerID := i + 1
		g.Go(func() error {
			w.runWorker(ctx, workerID)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *WorkerPool) runWorker(ctx context.Context, workerID int) {
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		job, err := w.queue.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("job worker claim failed", "worker_id", workerID, "error", err)
			if !sleepOrDone(ctx, w.pollInterval) {
				return
			}
			continue
		}
		if job == nil {
			if !sleepOrDone(ctx, w.pollInterval) {
				return
			}
			continue
		}

		w.handle(ctx, workerID, job)
	}
}

func (w *WorkerPool) handle(ctx context.Context, workerID int, job *models.Job) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "job "+job.TaskName, trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.Int64("job.id", job.ID),
		attribute.String("job.task", job.TaskName),
		attribute.Int("job.attempt", job.AttemptCount),
	)
	defer span.End()

	// Status updates outlive pool shutdown so a claimed job is never left in progress.
	updateCtx := context.WithoutCancel(ctx)
	start := time.Now()
	err := w.safeProcess(ctx, job)
	w.metrics.processDuration.WithLabelValues(job.TaskName).Observe(time.Since(start).Seconds())

	if err == nil {
		span.SetStatus(codes.Ok, "")
		w.metrics.processedTotal.WithLabelValues(job.TaskName, "completed").Inc()
		if err := w.queue.Complete(updateCtx, job.ID); err != nil {
			w.logger.Error("job worker complete failed", "worker_id", workerID, "job_id", job.ID, "error", err)
		}
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	w.logger.Warn("job failed", "worker_id", workerID, "job_id", job.ID, "task", job.TaskName, "attempt", job.AttemptCount, "error", err)
	if errors.Is(err, ErrPermanent) {
		w.metrics.processedTotal.WithLabelValues(job.TaskName, "failed").Inc()
		if failErr := w.queue.Fail(updateCtx, job.ID, err); failErr != nil {
			w.logger.Error("job worker fail update failed", "worker_id", workerID, "job_id", job.ID, "error", failErr)
		}
		return
	}
	w.metrics.processedTotal.WithLabelValues(job.TaskName, "retried").Inc()
	if retryErr := w.queue.RetryOrFail(updateCtx, job, err); retryErr != nil {
		w.logger.Error("job worker retry/fail update failed", "worker_id", workerID, "job_id", job.ID, "error", retryErr)
	}
}

func (w *WorkerPool) safeProcess(ctx context.Context, job *models.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("job panic", "job_id", job.ID, "task", job.TaskName, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panic: %v", rec)
		}
	}()
	return w.process(ctx, job)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
