package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"pacebot/internal/storage"
)

type Kind string

const (
	KindCallback Kind = "callback"
	KindData     Kind = "data"
)

// Meta is caller metadata carried alongside a job. The queue never reads it.
type Meta map[string]any

// Job is either a Callback or a Data job.
type Job interface {
	Kind() Kind
	meta() Meta
}

// Callback runs its own function. It is never persisted.
type Callback struct {
	Run  func(ctx context.Context) (any, error)
	Meta Meta
}

func (Callback) Kind() Kind   { return KindCallback }
func (c Callback) meta() Meta { return c.Meta }

// Data carries a payload for the queue's shared Processor.
type Data struct {
	Payload json.RawMessage
	Meta    Meta
}

func (Data) Kind() Kind   { return KindData }
func (d Data) meta() Meta { return d.Meta }

func (d Data) record() storage.Record {
	return storage.Record{Payload: d.Payload, Meta: maps.Clone(d.Meta)}
}

func dataFromRecord(r storage.Record) Data {
	return Data{Payload: r.Payload, Meta: Meta(r.Meta)}
}

// NewData marshals v as the payload of a Data job.
func NewData(v any, meta Meta) (Data, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Data{}, fmt.Errorf("encode payload: %w", err)
	}
	return Data{Payload: b, Meta: meta}, nil
}

// Processor executes Data jobs. One processor serves every Data job of a queue.
type Processor func(ctx context.Context, payload json.RawMessage) (any, error)

// normalizeJob turns pointer variants into values so type switches see one shape.
func normalizeJob(j Job) Job {
	switch v := j.(type) {
	case *Callback:
		if v == nil {
			return nil
		}
		return *v
	case *Data:
		if v == nil {
			return nil
		}
		return *v
	}
	return j
}

// Handle is the caller's view of one enqueued job. It settles exactly once.
type Handle struct {
	done   chan struct{}
	once   sync.Once
	val    any
	err    error
	orphan bool
}

func newHandle() *Handle { return &Handle{done: make(chan struct{})} }

func (h *Handle) settle(val any, err error) bool {
	settled := false
	h.once.Do(func() {
		h.val, h.err = val, err
		close(h.done)
		settled = true
	})
	return settled
}

// Done is closed once the job has been attempted (or the queue stopped).
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the job settles or ctx is done.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-h.done:
		return h.val, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking; ErrPending if not settled yet.
func (h *Handle) Result() (any, error) {
	select {
	case <-h.done:
		return h.val, h.err
	default:
		return nil, ErrPending
	}
}

// Orphan reports whether the handle belongs to a job restored from a
// snapshot. Nobody waits on such handles; their failures are only logged.
func (h *Handle) Orphan() bool { return h.orphan }

type entry struct {
	job        Job
	handle     *Handle
	enqueuedAt time.Time
}
