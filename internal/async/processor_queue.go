package async

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joseph-ayodele/bill-trends/internal/metrics"
)

type ProcessorQueue struct {
	proc    Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration
	abandon func(ctx context.Context, job Job)

	ch       chan Job
	stopping atomic.Bool
	wg       sync.WaitGroup
	once     sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithOnAbandon sets the callback for jobs still queued when Shutdown gives up waiting.
func WithOnAbandon(fn func(ctx context.Context, job Job)) Option {
	return func(q *ProcessorQueue) { q.abandon = fn }
}

func NewProcessorQueue(proc Processor, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:    proc,
		logger:  logger,
		workers: 2,
		timeout: 3 * time.Minute,
		ch:      make(chan Job, 64),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker.started", "worker_id", workerID)

				for job := range q.ch {
					metrics.SetQueueDepth(len(q.ch))
					if q.stopping.Load() {
						q.drop(job)
						continue
					}
					q.run(workerID, job)
				}

				q.logger.Info("worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) run(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	waited := time.Since(job.SubmittedAt)
	if err := q.proc.Process(ctx, job.AnalysisID); err != nil {
		q.logger.Error("analysis.job.failed", "worker_id", workerID, "analysis_id", job.AnalysisID,
			"trace_id", job.TraceID, "error", err)
		return
	}
	q.logger.Info("analysis.job.ok", "worker_id", workerID, "analysis_id", job.AnalysisID,
		"trace_id", job.TraceID, "queued_ms", waited.Milliseconds())
}

func (q *ProcessorQueue) drop(job Job) {
	q.logger.Warn("analysis.job.abandoned", "analysis_id", job.AnalysisID, "trace_id", job.TraceID)
	if q.abandon == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.abandon(ctx, job)
}

// Enqueue never blocks: a full buffer is reported as ErrQueueFull.
func (q *ProcessorQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("analysis.enqueue.closed", "analysis_id", job.AnalysisID)
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		metrics.SetQueueDepth(len(q.ch))
		q.logger.Info("analysis.enqueued", "analysis_id", job.AnalysisID, "trace_id", job.TraceID)
		return nil
	default:
		q.logger.Warn("analysis.enqueue.full", "analysis_id", job.AnalysisID, "capacity", cap(q.ch))
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for queued ones to drain or ctx to end. When ctx
// ends first, jobs that never started are handed to the abandon callback; jobs already
// running are left to their own timeout.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.stopping.Store(true)
		n := 0
		for job := range q.ch {
			q.drop(job)
			n++
		}
		q.logger.Warn("queue.shutdown.interrupted", "abandoned", n)
	case <-done:
		q.logger.Info("queue.shutdown.drained")
	}
}
