package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  poll_timeout: 10s
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./pacebot.db
  busy_timeout: 5s
lanes:
  groups:
    min_interval: 30s
    max_per_window: 20
    window: 1m
    jitter: 15s
  private:
    min_interval: 1s
    persist: false
report:
  schedule: "@every 10m"
`

func TestDecodeYAML(t *testing.T) {
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "5s" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	g, ok := cfg.Lanes["groups"]
	if !ok || g.MaxPerWindow != 20 || g.Window != "1m" || !g.Persistent() {
		t.Fatalf("groups lane = %+v", g)
	}
	if cfg.Lanes["private"].Persistent() {
		t.Fatal("private lane should not persist")
	}
	if cfg.Report.Schedule != "@every 10m" {
		t.Fatalf("report = %+v", cfg.Report)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
		want string
	}{
		{"unknown field", "c.json", `{"telegram":{"tokn":"x"}}`, "unknown field"},
		{"trailing data", "c.json", `{} {}`, "trailing data"},
		{"bad duration", "c.json", `{"lanes":{"a":{"min_interval":"soon"}}}`, "lanes.a.min_interval"},
		{"negative duration", "c.yaml", "lanes:\n  a:\n    window: -1s\n", "lanes.a.window"},
		{"bad driver", "c.json", `{"storage":{"driver":"mongo"}}`, "storage.driver"},
		{"chance out of range", "c.json", `{"lanes":{"a":{"long_pause_chance":1.5}}}`, "long_pause_chance"},
		{"negative cap", "c.json", `{"lanes":{"a":{"max_per_window":-1}}}`, "max_per_window"},
		{"bad yaml", "c.yml", "lanes: [", "yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.file, []byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	cfg, err := Decode("c.yaml", nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(cfg.Lanes) != 0 {
		t.Fatalf("lanes = %v, want none", cfg.Lanes)
	}
}

func TestParseDurationField(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"1500ms", 1500 * time.Millisecond, false},
		{" 2m ", 2 * time.Minute, false},
		{"-1s", 0, true},
		{"ten", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("x", tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, %v; want %v, err=%v", tt.raw, got, err, tt.want, tt.wantErr)
		}
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Second); d != time.Second {
		t.Fatalf("default = %v, want 1s", d)
	}
}

func TestSummarizeChange(t *testing.T) {
	old, _ := Decode("c.yaml", []byte(sampleYAML))
	next, _ := Decode("c.yaml", []byte(sampleYAML))
	next.Logging.Level = "warn"
	next.Lanes["groups"] = LaneConfig{MinInterval: "1m"}
	next.Storage.Password = "secret"

	sections, fields := SummarizeChange(old, next)
	if strings.Join(sections, ",") != "logging,storage,lanes" {
		t.Fatalf("sections = %v", sections)
	}
	if len(fields) == 0 {
		t.Fatal("expected log fields")
	}
	if s, _ := SummarizeChange(old, old); len(s) != 0 {
		t.Fatalf("identical configs reported %v", s)
	}
}

func TestManagerLoadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	write := func(level string) {
		t.Helper()
		body := `{"logging":{"level":"` + level + `","console":true}}`
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("info")

	m := NewManager(path)
	m.debounce = 10 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get().Logging.Level != "info" {
		t.Fatalf("level = %q", m.Get().Logging.Level)
	}

	sub := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Keep rewriting until the watcher is up and the reload lands.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-sub:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("published level = %q, want debug", cfg.Logging.Level)
			}
			if m.Get().Logging.Level != "debug" {
				t.Fatal("Get did not return the reloaded config")
			}
			return
		case <-tick.C:
			write("debug")
		case <-deadline:
			t.Fatal("config reload not published")
		}
	}
}

func TestManagerKeepsConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"logging":`), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload()
	if m.Get().Logging.Level != "info" {
		t.Fatalf("level = %q, want info kept", m.Get().Logging.Level)
	}
}
