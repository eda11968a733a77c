package queue

import (
	"maps"
	"time"

	"pacebot/internal/eventbus"
)

const (
	EventEnqueued  = "queue.enqueued"
	EventRestored  = "queue.restored"
	EventStarted   = "queue.started"
	EventCompleted = "queue.completed"
	EventFailed    = "queue.failed"
)

// JobEvent is the Data of every queue event.
type JobEvent struct {
	Queue    string        `json:"queue"`
	Kind     Kind          `json:"kind,omitempty"`
	Meta     Meta          `json:"meta,omitempty"`
	Wait     time.Duration `json:"wait,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Depth    int           `json:"depth"`
	Count    int           `json:"count,omitempty"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

func (q *Queue) publish(typ string, e *entry, ev JobEvent) {
	if q.bus == nil {
		return
	}
	ev.Queue = q.cfg.Name
	if e != nil && e.job != nil {
		ev.Kind = e.job.Kind()
		ev.Meta = maps.Clone(e.job.meta())
	}
	ev.At = q.clock.Now()
	q.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

func (q *Queue) publishRestored(count, depth int) {
	q.publish(EventRestored, nil, JobEvent{Kind: KindData, Count: count, Depth: depth})
}
