package queue

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultName           = "default"
	defaultStartDelay     = time.Second
	defaultPersistTimeout = 2 * time.Second
)

// MaxSetting bounds every pacing duration so their sum cannot overflow.
const MaxSetting = 366 * 24 * time.Hour

// Config is fixed at construction.
//
// Zero values disable the matching rule: no spacing, no window cap
// (MaxPerWindow <= 0 or Window == 0), no jitter, no long pauses.
type Config struct {
	Name string

	// MinInterval is the minimum gap between two job starts.
	MinInterval time.Duration

	// At most MaxPerWindow completions may fall inside any trailing Window.
	MaxPerWindow int
	Window       time.Duration

	// Jitter is the upper bound of a uniform random delay added before every job.
	Jitter time.Duration

	// With probability LongPauseChance an extra delay uniform in
	// [LongPauseMin, LongPauseMax] is added.
	LongPauseChance float64
	LongPauseMin    time.Duration
	LongPauseMax    time.Duration

	// StartDelay postpones draining jobs restored from a snapshot so the
	// processor's dependencies can finish starting. Negative disables it.
	StartDelay time.Duration

	// PersistTimeout bounds each snapshot read/write.
	PersistTimeout time.Duration
}

// Validate reports configuration values that cannot be honored.
func (c Config) Validate() error {
	var errs []string
	neg := func(name string, d time.Duration) {
		switch {
		case d < 0:
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		case d > MaxSetting:
			errs = append(errs, fmt.Sprintf("%s must be <= %s", name, MaxSetting))
		}
	}
	neg("min_interval", c.MinInterval)
	neg("window", c.Window)
	neg("jitter", c.Jitter)
	neg("long_pause_min", c.LongPauseMin)
	neg("long_pause_max", c.LongPauseMax)
	neg("persist_timeout", c.PersistTimeout)
	if c.MaxPerWindow < 0 {
		errs = append(errs, "max_per_window must be >= 0")
	}
	if c.LongPauseChance < 0 || c.LongPauseChance > 1 {
		errs = append(errs, "long_pause_chance must be within [0,1]")
	}
	if c.LongPauseMax < c.LongPauseMin {
		errs = append(errs, "long_pause_max must be >= long_pause_min")
	}
	if len(errs) > 0 {
		return fmt.Errorf("queue %q: %s", c.Name, strings.Join(errs, "; "))
	}
	return nil
}

func (c Config) withDefaults() Config {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		c.Name = defaultName
	}
	switch {
	case c.StartDelay == 0:
		c.StartDelay = defaultStartDelay
	case c.StartDelay < 0:
		c.StartDelay = 0
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = defaultPersistTimeout
	}
	return c
}

func (c Config) windowed() bool { return c.Window > 0 && c.MaxPerWindow > 0 }

// ConfigView is the effective configuration as reported by Stats.
type ConfigView struct {
	MinIntervalMs   int64   `json:"min_interval_ms"`
	MaxPerWindow    int     `json:"max_per_window"`
	WindowMs        int64   `json:"window_ms"`
	JitterMs        int64   `json:"jitter_ms"`
	LongPauseChance float64 `json:"long_pause_chance"`
	LongPauseMinMs  int64   `json:"long_pause_min_ms"`
	LongPauseMaxMs  int64   `json:"long_pause_max_ms"`
	StartDelayMs    int64   `json:"start_delay_ms"`
	Persistent      bool    `json:"persistent"`
	HasProcessor    bool    `json:"has_processor"`
}

func (c Config) view() ConfigView {
	return ConfigView{
		MinIntervalMs:   c.MinInterval.Milliseconds(),
		MaxPerWindow:    c.MaxPerWindow,
		WindowMs:        c.Window.Milliseconds(),
		JitterMs:        c.Jitter.Milliseconds(),
		LongPauseChance: c.LongPauseChance,
		LongPauseMinMs:  c.LongPauseMin.Milliseconds(),
		LongPauseMaxMs:  c.LongPauseMax.Milliseconds(),
		StartDelayMs:    c.StartDelay.Milliseconds(),
	}
}
