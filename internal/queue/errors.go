package queue

import "errors"

var (
	// ErrStopped is returned for jobs that cannot run because the queue was stopped.
	ErrStopped = errors.New("queue stopped")
	// ErrNoProcessor is returned at attempt time for a Data job when the queue has no processor.
	ErrNoProcessor = errors.New("queue: data job without processor")
	// ErrNoExecutor is returned at attempt time for a job with nothing to run.
	ErrNoExecutor = errors.New("queue: job has no executor")
	// ErrExecutorPanic wraps a panic raised by a job's executor.
	ErrExecutorPanic = errors.New("queue: executor panicked")
	// ErrPending is returned by Handle.Result before the job settles.
	ErrPending = errors.New("queue: job not settled")
)
