package queue

import (
	"context"

	"pacebot/internal/storage"
	logx "pacebot/pkg/logx"
)

// restore loads the previous snapshot. Each record becomes a pending Data
// job whose handle nobody waits on. Load failures start the queue empty.
func (q *Queue) restore() {
	if q.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.PersistTimeout)
	defer cancel()
	recs, err := q.store.LoadSnapshot(ctx, q.cfg.Name)
	if err != nil {
		q.log.Warn("snapshot load failed; starting empty", logx.Err(err))
		return
	}
	if len(recs) == 0 {
		return
	}

	now := q.clock.Now()
	q.mu.Lock()
	for _, r := range recs {
		h := newHandle()
		h.orphan = true
		q.pending = append(q.pending, &entry{job: dataFromRecord(r), handle: h, enqueuedAt: now})
	}
	q.restored += uint64(len(recs))
	q.enqueued += uint64(len(recs))
	depth := len(q.pending)
	q.mu.Unlock()

	q.log.Info("restored pending jobs from snapshot", logx.Int("count", len(recs)))
	q.publishRestored(len(recs), depth)
}

// snapshotLocked lists pending Data jobs in order. Callbacks are skipped.
func (q *Queue) snapshotLocked() []storage.Record {
	recs := make([]storage.Record, 0, len(q.pending))
	for _, e := range q.pending {
		if d, ok := e.job.(Data); ok {
			recs = append(recs, d.record())
		}
	}
	return recs
}

// persist rewrites the whole snapshot from the current pending list.
// Failures are logged (throttled) and otherwise ignored.
func (q *Queue) persist() {
	if q.store == nil {
		return
	}
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	recs := q.snapshotLocked()
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.PersistTimeout)
	defer cancel()
	if err := q.store.SaveSnapshot(ctx, q.cfg.Name, recs); err != nil {
		q.persistWarn.Do(func() {
			q.log.Warn("snapshot write failed; continuing in memory", logx.Err(err), logx.Int("records", len(recs)))
		})
	}
}
