package queue

import (
	"math"
	"math/rand"
	"time"
)

// limiter holds the admission memory of one queue: the last job start and
// the completion times inside the trailing window. Callers serialize access.
type limiter struct {
	cfg Config
	rng *rand.Rand

	lastStart   time.Time
	completions []time.Time // ascending
}

func newLimiter(cfg Config, rng *rand.Rand) *limiter {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &limiter{cfg: cfg, rng: rng}
}

// delay returns how long the next job must wait at now.
//
// Spacing and the window cap are combined by max; jitter and the long pause
// are added on top.
func (l *limiter) delay(now time.Time) time.Duration {
	wait := max(l.spacingDelay(now), l.windowDelay(now))
	return wait + l.jitter() + l.longPause()
}

func (l *limiter) spacingDelay(now time.Time) time.Duration {
	if l.cfg.MinInterval <= 0 || l.lastStart.IsZero() {
		return 0
	}
	return max(0, l.lastStart.Add(l.cfg.MinInterval).Sub(now))
}

func (l *limiter) windowDelay(now time.Time) time.Duration {
	if !l.cfg.windowed() {
		return 0
	}
	l.prune(now)
	if len(l.completions) < l.cfg.MaxPerWindow {
		return 0
	}
	// Wait until the oldest completion leaves the window.
	return max(0, l.completions[0].Add(l.cfg.Window).Sub(now))
}

func (l *limiter) jitter() time.Duration {
	if l.cfg.Jitter <= 0 {
		return 0
	}
	return upTo(l.rng, l.cfg.Jitter)
}

func (l *limiter) longPause() time.Duration {
	if l.cfg.LongPauseChance <= 0 || l.rng.Float64() >= l.cfg.LongPauseChance {
		return 0
	}
	span := l.cfg.LongPauseMax - l.cfg.LongPauseMin
	if span <= 0 {
		return l.cfg.LongPauseMin
	}
	return l.cfg.LongPauseMin + upTo(l.rng, span)
}

// upTo draws uniformly from [0, d].
func upTo(rng *rand.Rand, d time.Duration) time.Duration {
	if d >= math.MaxInt64 {
		return time.Duration(rng.Int63())
	}
	return time.Duration(rng.Int63n(int64(d) + 1))
}

// prune drops completions at or before now-Window; the window is (now-Window, now].
func (l *limiter) prune(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(l.completions) && !l.completions[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.completions = append(l.completions[:0], l.completions[i:]...)
	}
}

func (l *limiter) noteStart(at time.Time) { l.lastStart = at }

func (l *limiter) noteCompletion(at time.Time) {
	if !l.cfg.windowed() {
		return
	}
	l.completions = append(l.completions, at)
	l.prune(at)
}

// inWindow counts completions in (now-Window, now] without pruning.
func (l *limiter) inWindow(now time.Time) int {
	if !l.cfg.windowed() {
		return 0
	}
	cutoff := now.Add(-l.cfg.Window)
	n := 0
	for _, t := range l.completions {
		if t.After(cutoff) && !t.After(now) {
			n++
		}
	}
	return n
}
