package config

// Config is the on-disk configuration (JSON or YAML).
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`

	// Lanes maps a lane name to its queue settings. Each lane is one queue.
	Lanes  map[string]LaneConfig `json:"lanes"`
	Report ReportConfig          `json:"report"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// CommandRate caps owner command replies per second (0 = unlimited).
	CommandRate float64 `json:"command_rate,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the snapshot backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./pacebot.db", "busy_timeout": "5s" }
//
// Driver is one of "file", "sqlite", "redis", "postgres"; empty or "none"
// keeps every lane in memory only.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres (do not log)
	Addr        string `json:"addr,omitempty"`
	Password    string `json:"password,omitempty"` // redis (do not log)
	DB          int    `json:"db,omitempty"`
	KeyPrefix   string `json:"key_prefix,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// LaneConfig mirrors the queue settings. Durations are Go duration strings.
//
// Persist defaults to true when storage is configured; set it to false to
// keep a lane memory-only.
type LaneConfig struct {
	MinInterval     string  `json:"min_interval,omitempty"`
	MaxPerWindow    int     `json:"max_per_window,omitempty"`
	Window          string  `json:"window,omitempty"`
	Jitter          string  `json:"jitter,omitempty"`
	LongPauseChance float64 `json:"long_pause_chance,omitempty"`
	LongPauseMin    string  `json:"long_pause_min,omitempty"`
	LongPauseMax    string  `json:"long_pause_max,omitempty"`
	StartDelay      string  `json:"start_delay,omitempty"`
	Persist         *bool   `json:"persist,omitempty"`
}

// Persistent reports whether the lane writes snapshots.
func (l LaneConfig) Persistent() bool { return l.Persist == nil || *l.Persist }

// ReportConfig controls the periodic lane stats report.
type ReportConfig struct {
	// Schedule is a cron spec ("@every 10m", "0 * * * *"). Empty disables.
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}
