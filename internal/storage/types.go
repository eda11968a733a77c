package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "pacebot/pkg/logx"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config selects and configures a driver.
//
// Driver values: "file", "sqlite", "redis", "postgres".
// An empty Driver (or "none") disables storage.
type Config struct {
	Driver string

	// Path is the snapshot directory (file) or database file (sqlite).
	Path string

	// DSN is the postgres connection string.
	DSN string

	// Redis connection.
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	BusyTimeout time.Duration // sqlite only
}

// Record is one pending data job as it appears in a snapshot.
type Record struct {
	Payload json.RawMessage `json:"payload"`
	Meta    map[string]any  `json:"meta"`
}

// Store keeps one snapshot per queue name.
type Store interface {
	// LoadSnapshot returns the stored records in order. A missing snapshot
	// is not an error and yields no records.
	LoadSnapshot(ctx context.Context, name string) ([]Record, error)
	// SaveSnapshot replaces the whole snapshot for name.
	SaveSnapshot(ctx context.Context, name string, recs []Record) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return OpenFile(cfg.Path, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "redis":
		return openRedis(ctx, cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

// snapshotKey maps a queue name to the key every driver stores it under.
// Bytes outside [A-Za-z0-9_.-] and a leading dot become %XX, so distinct
// names never share a key and the key is safe as a file name.
func snapshotKey(name string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteByte(c)
		case c == '.' && i > 0:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}

func encodeSnapshot(recs []Record) ([]byte, error) {
	out := make([]Record, len(recs))
	for i, r := range recs {
		if len(r.Payload) == 0 {
			r.Payload = json.RawMessage("null")
		}
		out[i] = r
	}
	return json.Marshal(out)
}

func decodeSnapshot(b []byte) ([]Record, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, nil
	}
	var recs []Record
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return recs, nil
}
