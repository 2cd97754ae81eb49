package execution

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"cms-backup/internal/logging"

	"github.com/google/uuid"
)

// Status of a job
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Func is the body of a job. Its context is detached from the caller that
// started it.
type Func func(ctx context.Context) (any, error)

// Job is a handle on an operation running in the background
type Job struct {
	ID        string
	Op        string
	StartedAt time.Time

	done       chan struct{}
	mu         sync.Mutex
	status     Status
	result     any
	err        error
	finishedAt time.Time
}

// Done is closed when the job finishes
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx is done. Giving up on the wait
// does not stop the job.
func (j *Job) Wait(ctx context.Context) (any, error) {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the current job status
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Duration is the elapsed run time, final once the job is done
func (j *Job) Duration() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finishedAt.IsZero() {
		return time.Since(j.StartedAt)
	}
	return j.finishedAt.Sub(j.StartedAt)
}

func (j *Job) finish(result any, err error) {
	j.mu.Lock()
	j.result = result
	j.err = err
	j.finishedAt = time.Now()
	if err != nil {
		j.status = StatusFailed
	} else {
		j.status = StatusSucceeded
	}
	j.mu.Unlock()
	close(j.done)
}

// Runner starts guarded background jobs
type Runner struct {
	guard  *Guard
	logger *logging.Logger
	wg     sync.WaitGroup
}

// NewRunner creates a Runner sharing guard. A nil guard gets a private one.
func NewRunner(guard *Guard, logger *logging.Logger) *Runner {
	if guard == nil {
		guard = NewGuard()
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Runner{guard: guard, logger: logger}
}

// Guard returns the guard used by the runner
func (r *Runner) Guard() *Guard {
	return r.guard
}

// Start acquires the guard for op and runs fn in a new goroutine. A busy
// guard is reported synchronously. The job keeps running if ctx is
// cancelled; only values such as the correlation id are inherited.
func (r *Runner) Start(ctx context.Context, op string, fn Func) (*Job, error) {
	release, err := r.guard.TryAcquire(op)
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:        uuid.NewString(),
		Op:        op,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
		status:    StatusRunning,
	}

	jobCtx := context.WithoutCancel(ctx)
	if logging.CorrelationID(jobCtx) == "" {
		jobCtx = logging.WithCorrelationID(jobCtx, job.ID)
	}

	r.logger.WithContext(jobCtx).WithFields(map[string]interface{}{
		"job_id":    job.ID,
		"operation": op,
	}).Debug("Job started")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer release()

		result, err := r.run(jobCtx, fn)
		// free the guard before waiters are woken
		release()
		job.finish(result, err)

		entry := r.logger.WithContext(jobCtx).WithFields(map[string]interface{}{
			"job_id":    job.ID,
			"operation": op,
			"duration":  job.Duration().String(),
		})
		if err != nil {
			entry.WithField("error", err.Error()).Warn("Job failed")
			return
		}
		entry.Info("Job finished")
	}()

	return job, nil
}

func (r *Runner) run(ctx context.Context, fn Func) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.WithField("stack", string(debug.Stack())).Error("Job panicked")
			result = nil
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every started job has finished or ctx is done
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
