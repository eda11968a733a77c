package queue

import "time"

// Stats is a point-in-time view of a queue, shaped for status output.
type Stats struct {
	Name      string     `json:"name"`
	Depth     int        `json:"depth"`
	Running   bool       `json:"running"`
	Started   bool       `json:"started"`
	Stopped   bool       `json:"stopped"`
	Enqueued  uint64     `json:"enqueued"`
	Completed uint64     `json:"completed"`
	Failed    uint64     `json:"failed"`
	Restored  uint64     `json:"restored"`
	InWindow  int        `json:"in_window"`
	Halts     uint64     `json:"halts"` // loop panics since Start
	LastStart time.Time  `json:"last_start,omitempty"`
	Config    ConfigView `json:"config"`
}

// Stats has no side effects and may be called at any time.
func (q *Queue) Stats() Stats {
	now := q.clock.Now()
	q.mu.Lock()
	defer q.mu.Unlock()

	cv := q.cfg.view()
	cv.Persistent = q.store != nil
	cv.HasProcessor = q.processor != nil
	return Stats{
		Name:      q.cfg.Name,
		Depth:     len(q.pending),
		Running:   q.running,
		Started:   q.sup != nil,
		Stopped:   q.stopped,
		Enqueued:  q.enqueued,
		Completed: q.completed,
		Failed:    q.failed,
		Restored:  q.restored,
		InWindow:  q.lim.inWindow(now),
		Halts:     q.loopHaltsLocked(),
		LastStart: q.lim.lastStart,
		Config:    cv,
	}
}

func (q *Queue) loopHaltsLocked() uint64 {
	if q.sup == nil {
		return 0
	}
	loop := q.loopName()
	for _, g := range q.sup.Snapshot().Goroutines {
		if g.Name == loop {
			return g.Panics
		}
	}
	return 0
}
