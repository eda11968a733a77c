package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	logx "pacebot/pkg/logx"

	"github.com/alicebob/miniredis/v2"
)

func sampleRecords() []Record {
	return []Record{
		{Payload: json.RawMessage(`{"chat_id":1,"text":"a"}`), Meta: map[string]any{"id": "one"}},
		{Payload: json.RawMessage(`{"chat_id":2,"text":"b"}`), Meta: map[string]any{"id": "two"}},
		{Payload: json.RawMessage(`"plain"`)},
	}
}

func assertRecords(t *testing.T, got []Record) {
	t.Helper()
	want := sampleRecords()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		var a, b any
		if err := json.Unmarshal(got[i].Payload, &a); err != nil {
			t.Fatalf("record %d payload: %v", i, err)
		}
		_ = json.Unmarshal(want[i].Payload, &b)
		if ja, jb := mustJSON(t, a), mustJSON(t, b); ja != jb {
			t.Fatalf("record %d payload = %s, want %s", i, ja, jb)
		}
		if want[i].Meta != nil && got[i].Meta["id"] != want[i].Meta["id"] {
			t.Fatalf("record %d meta = %v, want %v", i, got[i].Meta, want[i].Meta)
		}
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := OpenFile(dir, logx.Nop())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	recs, err := st.LoadSnapshot(ctx, "direct")
	if err != nil || len(recs) != 0 {
		t.Fatalf("missing snapshot = %v, %v; want empty, nil", recs, err)
	}

	if err := st.SaveSnapshot(ctx, "direct", sampleRecords()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	got, err := st.LoadSnapshot(ctx, "direct")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	assertRecords(t, got)

	// The file is a plain JSON array of {payload, meta}.
	b, err := os.ReadFile(filepath.Join(dir, "direct.queue.json"))
	if err != nil {
		t.Fatalf("read snapshot file: %v", err)
	}
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("snapshot is not a JSON array: %v", err)
	}
	if _, ok := raw[0]["payload"]; !ok {
		t.Fatalf("missing payload key in %s", b)
	}
	if _, ok := raw[0]["meta"]; !ok {
		t.Fatalf("missing meta key in %s", b)
	}
}

func TestFileStoreFullReplace(t *testing.T) {
	st, err := OpenFile(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	ctx := context.Background()
	if err := st.SaveSnapshot(ctx, "q", sampleRecords()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := st.SaveSnapshot(ctx, "q", nil); err != nil {
		t.Fatalf("SaveSnapshot(nil): %v", err)
	}
	got, err := st.LoadSnapshot(ctx, "q")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0 after empty rewrite", len(got))
	}
}

func TestFileStoreCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	st, err := OpenFile(dir, logx.Nop())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "q.queue.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := st.LoadSnapshot(context.Background(), "q"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFileStoreClosed(t *testing.T) {
	st, err := OpenFile(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	_ = st.Close()
	if err := st.SaveSnapshot(context.Background(), "q", nil); err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snap.db")
	st, err := Open(ctx, Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	defer st.Close()

	if recs, err := st.LoadSnapshot(ctx, "group"); err != nil || len(recs) != 0 {
		t.Fatalf("empty load = %v, %v", recs, err)
	}
	if err := st.SaveSnapshot(ctx, "group", sampleRecords()[:1]); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := st.SaveSnapshot(ctx, "group", sampleRecords()); err != nil {
		t.Fatalf("SaveSnapshot (replace): %v", err)
	}
	got, err := st.LoadSnapshot(ctx, "group")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	assertRecords(t, got)
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(context.Background(), Config{}, logx.Nop())
	if st != nil || err != nil {
		t.Fatalf("disabled Open = %v, %v; want nil, nil", st, err)
	}
	if _, err := Open(context.Background(), Config{Driver: "tape"}, logx.Nop()); err == nil || !strings.Contains(err.Error(), "tape") {
		t.Fatalf("unknown driver err = %v", err)
	}
	if _, err := Open(context.Background(), Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("postgres without dsn should fail")
	}
	if _, err := Open(context.Background(), Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("redis without addr should fail")
	}
}

func TestSnapshotKey(t *testing.T) {
	tests := map[string]string{
		"direct":       "direct",
		"lane-1.group": "lane-1.group",
		"a_b":          "a_b",
		"a b":          "a%20b",
		"a/b":          "a%2Fb",
		"a%20b":        "a%2520b",
		".hidden":      "%2Ehidden",
		"..":           "%2E.",
	}
	for in, want := range tests {
		if got := snapshotKey(in); got != want {
			t.Fatalf("snapshotKey(%q) = %q, want %q", in, got, want)
		}
	}
	rs := newRedisStore(nil, "", logx.Nop())
	if got := rs.key("a/b"); got != defaultRedisPrefix+"a%2Fb" {
		t.Fatalf("redis key = %q", got)
	}
}

// checkNamesIsolated saves under names that differ only in characters a
// lossy mapping would merge, and expects each to read back only its own.
func checkNamesIsolated(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	names := []string{"a b", "a_b", "a/b", "a%20b"}
	for i, name := range names {
		recs := []Record{{Payload: json.RawMessage(fmt.Sprintf("%d", i))}}
		if err := st.SaveSnapshot(ctx, name, recs); err != nil {
			t.Fatalf("SaveSnapshot(%q): %v", name, err)
		}
	}
	for i, name := range names {
		got, err := st.LoadSnapshot(ctx, name)
		if err != nil {
			t.Fatalf("LoadSnapshot(%q): %v", name, err)
		}
		if len(got) != 1 || string(got[0].Payload) != fmt.Sprintf("%d", i) {
			t.Fatalf("LoadSnapshot(%q) = %+v, want only its own record", name, got)
		}
	}
}

func TestFileStoreNamesIsolated(t *testing.T) {
	st, err := OpenFile(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer st.Close()
	checkNamesIsolated(t, st)
}

func TestSQLiteStoreNamesIsolated(t *testing.T) {
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "snap.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	defer st.Close()
	checkNamesIsolated(t, st)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	st, err := Open(ctx, Config{Driver: "redis", Addr: mr.Addr(), KeyPrefix: "test:"}, logx.Nop())
	if err != nil {
		t.Fatalf("Open redis: %v", err)
	}
	defer st.Close()

	if recs, err := st.LoadSnapshot(ctx, "group"); err != nil || len(recs) != 0 {
		t.Fatalf("empty load = %v, %v", recs, err)
	}
	if err := st.SaveSnapshot(ctx, "group", sampleRecords()[:1]); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := st.SaveSnapshot(ctx, "group", sampleRecords()); err != nil {
		t.Fatalf("SaveSnapshot (replace): %v", err)
	}
	got, err := st.LoadSnapshot(ctx, "group")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	assertRecords(t, got)
	if !mr.Exists("test:group") {
		t.Fatalf("keys = %v, want test:group", mr.Keys())
	}
	checkNamesIsolated(t, st)
}

// PACEBOT_TEST_POSTGRES_DSN points at a disposable database.
func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("PACEBOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PACEBOT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	st, err := Open(ctx, Config{Driver: "postgres", DSN: dsn}, logx.Nop())
	if err != nil {
		t.Fatalf("Open postgres: %v", err)
	}
	defer st.Close()

	name := fmt.Sprintf("test %s", t.Name())
	t.Cleanup(func() { _ = st.SaveSnapshot(context.Background(), name, nil) })
	if err := st.SaveSnapshot(ctx, name, sampleRecords()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	got, err := st.LoadSnapshot(ctx, name)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	assertRecords(t, got)
}
