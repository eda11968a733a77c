package queue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"pacebot/internal/eventbus"
	rtsup "pacebot/internal/runtime/supervisor"
	"pacebot/internal/storage"
	logx "pacebot/pkg/logx"

	"golang.org/x/time/rate"
)

// Queue is a paced FIFO with at most one job in flight.
//
// It is safe for concurrent use. Independent Queue values share nothing.
type Queue struct {
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	clock Clock

	mu        sync.Mutex
	lim       *limiter
	processor Processor
	pending   []*entry
	running   bool
	resuming  bool
	sup       *rtsup.Supervisor
	stopped   bool
	stopCh    chan struct{}

	enqueued  uint64
	completed uint64
	failed    uint64
	restored  uint64

	// persistMu orders snapshot writes so the last write reflects the latest state.
	persistMu   sync.Mutex
	persistWarn rate.Sometimes
}

type Option func(*options)

type options struct {
	log       logx.Logger
	bus       eventbus.Bus
	store     storage.Store
	processor Processor
	clock     Clock
	rng       *rand.Rand
}

// WithLogger sets the log sink. The default is a console logger.
func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

// WithBus publishes job lifecycle events on bus.
func WithBus(bus eventbus.Bus) Option { return func(o *options) { o.bus = bus } }

// WithStore enables snapshot persistence of Data jobs.
func WithStore(st storage.Store) Option { return func(o *options) { o.store = st } }

// WithProcessor sets the shared executor for Data jobs.
func WithProcessor(p Processor) Option { return func(o *options) { o.processor = p } }

// WithClock replaces the wall clock used for admission decisions.
func WithClock(c Clock) Option { return func(o *options) { o.clock = c } }

// WithRand sets the random source for jitter and long pauses.
func WithRand(r *rand.Rand) Option { return func(o *options) { o.rng = r } }

// New validates cfg and builds a stopped queue. With a store, pending Data
// jobs from the previous process are restored; they run once Start is called.
func New(cfg Config, opts ...Option) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.log.IsZero() {
		o.log = logx.NewConsole("info")
	}
	if o.clock == nil {
		o.clock = systemClock{}
	}

	q := &Queue{
		cfg:         cfg,
		log:         o.log.With(logx.String("comp", "queue"), logx.String("queue", cfg.Name)),
		bus:         o.bus,
		store:       o.store,
		clock:       o.clock,
		lim:         newLimiter(cfg, o.rng),
		processor:   o.processor,
		stopCh:      make(chan struct{}),
		persistWarn: rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
	q.restore()
	return q, nil
}

func (q *Queue) Name() string { return q.cfg.Name }

// SetProcessor installs or replaces the shared Data job executor.
// It applies to the next attempt.
func (q *Queue) SetProcessor(p Processor) {
	q.mu.Lock()
	q.processor = p
	q.mu.Unlock()
}

// Start begins processing. It is idempotent; a stopped queue stays stopped.
//
// Restored jobs are drained after StartDelay instead of immediately.
func (q *Queue) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sup != nil {
		return
	}
	if q.stopped {
		q.log.Warn("start ignored: queue already stopped")
		return
	}
	q.sup = rtsup.New(ctx,
		rtsup.WithLogger(q.log),
		rtsup.WithCancelOnError(false),
	)

	if q.restored > 0 && len(q.pending) > 0 && q.cfg.StartDelay > 0 {
		q.resuming = true
		q.log.Info("resuming restored jobs", logx.Int("pending", len(q.pending)), logx.Duration("delay", q.cfg.StartDelay))
		q.sup.GoAfter("queue."+q.cfg.Name+".resume", q.cfg.StartDelay, func(ctx context.Context) error {
			q.mu.Lock()
			q.resuming = false
			q.kickLocked()
			q.mu.Unlock()
			return nil
		})
		return
	}
	q.kickLocked()
}

// Enqueue appends job to the tail and returns its handle.
//
// Enqueue never fails: a job that cannot be executed (nil job, Data job
// without processor) is rejected through its handle when its turn comes.
// After Stop the handle is rejected with ErrStopped immediately.
func (q *Queue) Enqueue(job Job) *Handle {
	job = normalizeJob(job)
	h := newHandle()

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		h.settle(nil, ErrStopped)
		return h
	}
	e := &entry{job: job, handle: h, enqueuedAt: q.clock.Now()}
	q.pending = append(q.pending, e)
	q.enqueued++
	depth := len(q.pending)
	q.mu.Unlock()

	if _, ok := job.(Data); ok {
		q.persist()
	}
	q.publish(EventEnqueued, e, JobEvent{Depth: depth})

	q.mu.Lock()
	q.kickLocked()
	q.mu.Unlock()
	return h
}

// Stop stops intake and lets the in-flight attempt finish. Handles of jobs
// still pending are rejected with ErrStopped; the snapshot is left as is, so
// pending Data jobs run again in the next process.
//
// If ctx expires first, the in-flight executor's context is cancelled.
func (q *Queue) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.stopCh)
	sup := q.sup
	idle := !q.running
	q.mu.Unlock()

	if sup != nil {
		if idle {
			// Nothing in flight; drop a pending resume timer.
			sup.Cancel()
		}
		if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
			q.log.Warn("stop deadline reached; cancelling in-flight job", logx.Err(ctx.Err()))
			sup.Cancel()
			_ = sup.Wait(context.Background())
		}
		sup.Cancel()
	}

	q.mu.Lock()
	left := append([]*entry(nil), q.pending...)
	q.mu.Unlock()
	for _, e := range left {
		e.handle.settle(nil, ErrStopped)
	}
	q.log.Info("queue stopped", logx.Int("pending", len(left)))
}

// kickLocked starts the loop if there is work and nothing is running.
func (q *Queue) kickLocked() {
	if q.running || q.resuming || q.stopped || q.sup == nil || len(q.pending) == 0 {
		return
	}
	q.running = true
	q.sup.Go(q.loopName(), q.run)
}

func (q *Queue) loopName() string { return "queue." + q.cfg.Name + ".loop" }

// run is the admission loop. It exits when the queue is empty or stopping.
// A panic in the loop's own logic ends it; the next Enqueue starts a new one.
func (q *Queue) run(ctx context.Context) error {
	clean := false
	defer func() {
		if !clean {
			q.setIdle()
			q.log.Error("queue loop halted; waiting for next enqueue")
		}
	}()

	for {
		head, wait, ok := q.next()
		if !ok {
			clean = true
			return nil
		}
		if wait > 0 {
			q.log.Trace("waiting for admission slot", logx.Duration("wait", wait))
			select {
			case <-ctx.Done():
			case <-q.stopCh:
				continue
			case <-q.clock.After(wait):
			}
		}
		// A cancelled loop leaves the head untouched so it survives in the snapshot.
		if ctx.Err() != nil || q.isStopped() {
			q.setIdle()
			clean = true
			q.log.Debug("queue loop cancelled", logx.Err(ctx.Err()))
			return nil
		}
		q.attempt(ctx, head, wait)
	}
}

func (q *Queue) isStopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// next peeks the head job and computes its admission wait. It marks the
// loop idle and reports false when there is nothing left to do.
func (q *Queue) next() (*entry, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || len(q.pending) == 0 {
		q.running = false
		return nil, 0, false
	}
	return q.pending[0], q.lim.delay(q.clock.Now()), true
}

func (q *Queue) setIdle() {
	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
}

func (q *Queue) attempt(ctx context.Context, e *entry, waited time.Duration) {
	startedAt := q.clock.Now()
	proc := q.beginAttempt(startedAt)
	q.publish(EventStarted, e, JobEvent{Wait: waited})

	val, err := execute(ctx, e.job, proc)
	finishedAt := q.clock.Now()

	depth := q.finishAttempt(e, finishedAt, err == nil)
	if _, ok := e.job.(Data); ok {
		q.persist()
	}
	e.handle.settle(val, err)

	took := finishedAt.Sub(startedAt)
	if err != nil {
		if e.handle.orphan {
			q.log.Warn("restored job failed", logx.Err(err), logx.Any("meta", metaOf(e.job)))
		} else {
			q.log.Debug("job failed", logx.Err(err), logx.Duration("took", took))
		}
		q.publish(EventFailed, e, JobEvent{Wait: waited, Duration: took, Depth: depth, Error: err.Error()})
		return
	}
	q.log.Debug("job done", logx.Duration("wait", waited), logx.Duration("took", took), logx.Int("depth", depth))
	q.publish(EventCompleted, e, JobEvent{Wait: waited, Duration: took, Depth: depth})
}

func (q *Queue) beginAttempt(at time.Time) Processor {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lim.noteStart(at)
	return q.processor
}

// finishAttempt counts the outcome and removes e; failures are never retried.
func (q *Queue) finishAttempt(e *entry, at time.Time, ok bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ok {
		q.completed++
		q.lim.noteCompletion(at)
	} else {
		q.failed++
	}
	q.removeLocked(e)
	return len(q.pending)
}

func (q *Queue) removeLocked(e *entry) {
	for i, p := range q.pending {
		if p == e {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// execute runs exactly one of the job's own function or the shared processor.
func execute(ctx context.Context, job Job, proc Processor) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			val, err = nil, fmt.Errorf("%w: %v", ErrExecutorPanic, r)
		}
	}()
	switch j := job.(type) {
	case Callback:
		if j.Run == nil {
			return nil, ErrNoExecutor
		}
		return j.Run(ctx)
	case Data:
		if proc == nil {
			return nil, ErrNoProcessor
		}
		return proc(ctx, j.Payload)
	default:
		return nil, ErrNoExecutor
	}
}

func metaOf(j Job) Meta {
	if j == nil {
		return nil
	}
	return j.meta()
}
