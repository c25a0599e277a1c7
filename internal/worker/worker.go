package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/aroma/internal/telemetry"
)

// Config holds worker configuration
type Config struct {
	// WorkerID uniquely identifies this worker instance
	WorkerID string

	// PollInterval is how often to check for due jobs
	PollInterval time.Duration

	// MaxConcurrency is the maximum number of jobs to run concurrently
	MaxConcurrency int

	// ShutdownTimeout bounds how long Start waits for in-flight jobs
	ShutdownTimeout time.Duration
}

// Task is a unit of periodic work.
type Task struct {
	// JobType names the task in logs and metrics.
	JobType string

	// Interval is the minimum time between the starts of two runs.
	Interval time.Duration

	// Timeout bounds a single run. Zero means Interval.
	Timeout time.Duration

	Run func(ctx context.Context) error
}

type scheduled struct {
	task    Task
	nextRun time.Time
	running bool
}

// Worker runs registered tasks on their intervals. A task never overlaps
// with itself.
type Worker struct {
	config  Config
	metrics *telemetry.BusinessMetrics
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	tasks []*scheduled
	wg    sync.WaitGroup
}

// NewWorker creates a new background worker
func NewWorker(config Config, metrics *telemetry.BusinessMetrics, logger *slog.Logger) *Worker {
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 5
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		config:  config,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Register adds a task. Its first run is due immediately.
func (w *Worker) Register(task Task) {
	if task.Timeout == 0 {
		task.Timeout = task.Interval
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.tasks = append(w.tasks, &scheduled{task: task, nextRun: w.now()})
}

// Start runs due tasks until ctx is cancelled, then waits up to
// ShutdownTimeout for in-flight runs.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting",
		"worker_id", w.config.WorkerID,
		"poll_interval", w.config.PollInterval,
		"max_concurrency", w.config.MaxConcurrency,
		"tasks", len(w.tasks),
	)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Semaphore for concurrency control
	sem := make(chan struct{}, w.config.MaxConcurrency)

	w.dispatch(ctx, sem)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down", "worker_id", w.config.WorkerID)
			w.wait()
			return ctx.Err()

		case <-ticker.C:
			w.dispatch(ctx, sem)
		}
	}
}

func (w *Worker) wait() {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("worker shutdown timed out with jobs in flight", "worker_id", w.config.WorkerID)
	}
}

// dispatch starts every due task that is not already running, as long as
// the semaphore has room. Tasks skipped for capacity run on a later tick.
func (w *Worker) dispatch(ctx context.Context, sem chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for _, s := range w.tasks {
		if s.running || now.Before(s.nextRun) {
			continue
		}

		select {
		case sem <- struct{}{}:
		default:
			return
		}

		s.running = true
		s.nextRun = now.Add(s.task.Interval)
		w.wg.Add(1)
		go func(s *scheduled) {
			defer w.wg.Done()
			defer func() { <-sem }()
			w.runTask(ctx, s.task)

			w.mu.Lock()
			s.running = false
			w.mu.Unlock()
		}(s)
	}
}

// RunOnce runs every registered task once, sequentially. Used by tests and
// the one-shot CLI mode.
func (w *Worker) RunOnce(ctx context.Context) error {
	w.mu.Lock()
	tasks := make([]Task, len(w.tasks))
	for i, s := range w.tasks {
		tasks[i] = s.task
	}
	w.mu.Unlock()

	var firstErr error
	for _, task := range tasks {
		if err := w.runTask(ctx, task); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *Worker) runTask(ctx context.Context, task Task) (err error) {
	jobCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}

		elapsed := time.Since(start)
		if w.metrics != nil {
			w.metrics.JobDuration.WithLabelValues(task.JobType).Observe(elapsed.Seconds())
		}

		if err != nil {
			if w.metrics != nil {
				w.metrics.JobsFailed.WithLabelValues(task.JobType).Inc()
			}
			w.logger.Error("job failed",
				"job_type", task.JobType,
				"duration", elapsed,
				"error", err,
			)
			telemetry.CaptureError(err, map[string]interface{}{"job_type": task.JobType})
			return
		}

		if w.metrics != nil {
			w.metrics.JobsProcessed.WithLabelValues(task.JobType).Inc()
		}
		w.logger.Debug("job completed", "job_type", task.JobType, "duration", elapsed)
	}()

	return task.Run(jobCtx)
}
