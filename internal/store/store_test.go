package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"megaphone/pkg/logx"
)

const (
	idAlpha = "deadbeef"
	idBeta  = "cafebabe"
)

func newDisk(t *testing.T, mode Mode) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Config{Mode: mode, Driver: "disk", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, dir
}

func TestMemoryModeRoundTrip(t *testing.T) {
	t.Parallel()
	s, err := New(Config{Mode: ModeMemory}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ns := s.Open(idAlpha)
	if err := ns.Set("counter", 42); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := ns.Set("name", "mega"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var n int
	ok, err := ns.Get("counter", &n)
	if err != nil || !ok || n != 42 {
		t.Fatalf("Get = (%v, %v), n=%d", ok, err, n)
	}
	if ok, _ := ns.Get("missing", nil); ok {
		t.Fatal("absent key reported present")
	}

	if got := ns.Keys(); len(got) != 2 || got[0] != "counter" || got[1] != "name" {
		t.Fatalf("Keys = %v", got)
	}
	if err := ns.Delete("counter"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := ns.Delete("counter"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if ok, _ := ns.Get("counter", &n); ok {
		t.Fatal("deleted key still present")
	}

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush in memory mode: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEmptyPathForcesMemory(t *testing.T) {
	t.Parallel()
	s, err := New(Config{Mode: ModeFlush, Path: "  "}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Mode() != ModeMemory {
		t.Fatalf("Mode = %v, want memory", s.Mode())
	}
}

func TestOpenReturnsSameNamespace(t *testing.T) {
	t.Parallel()
	s, _ := newDisk(t, ModeAuto)
	defer s.Close()
	if s.Open(idAlpha) != s.Open(idAlpha) {
		t.Fatal("Open returned distinct namespaces for one identity")
	}
	if s.Open(idAlpha) == s.Open(idBeta) {
		t.Fatal("distinct identities share a namespace")
	}
}

func TestFlushModePersistsEachWrite(t *testing.T) {
	t.Parallel()
	s, dir := newDisk(t, ModeFlush)

	if err := s.Open(idAlpha).Set("token", "abc123"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	file := filepath.Join(dir, idAlpha, "cache.json")
	if _, err := os.Stat(file); err != nil {
		t.Fatalf("flush mode left no file behind: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A fresh store over the same root sees the data.
	s2, err := New(Config{Mode: ModeAuto, Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s2.Close()
	var tok string
	ok, err := s2.Open(idAlpha).Get("token", &tok)
	if err != nil || !ok || tok != "abc123" {
		t.Fatalf("reopened Get = (%v, %v), tok=%q", ok, err, tok)
	}
}

func TestAutoModeDefersWrites(t *testing.T) {
	t.Parallel()
	s, dir := newDisk(t, ModeAuto)

	if err := s.Open(idAlpha).Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	file := filepath.Join(dir, idAlpha, "cache.json")
	if _, err := os.Stat(file); err == nil {
		t.Fatal("auto mode wrote synchronously")
	}

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := os.Stat(file); err != nil {
		t.Fatalf("Flush left no file behind: %v", err)
	}
}

func TestCloseFlushesDirtyNamespaces(t *testing.T) {
	t.Parallel()
	s, dir := newDisk(t, ModeAuto)
	if err := s.Open(idAlpha).Set("k", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, idAlpha, "cache.json")); err != nil {
		t.Fatalf("Close did not flush: %v", err)
	}
}

// seedPayload plants a namespace on disk directly, with a chosen write
// time, bypassing the store.
func seedPayload(t *testing.T, root, identity string, updated time.Time) {
	t.Helper()
	dir := filepath.Join(root, identity)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	b, err := json.Marshal(diskPayload{
		Updated: updated,
		Data:    map[string]json.RawMessage{"k": json.RawMessage(`"v"`)},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cache.json"), b, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestListClassification(t *testing.T) {
	t.Parallel()
	s, dir := newDisk(t, ModeAuto)
	defer s.Close()

	// alpha is live and recent, beta is orphaned, the third is live but
	// has gone quiet past retention.
	now := time.Now()
	seedPayload(t, dir, idAlpha, now)
	seedPayload(t, dir, idBeta, now)
	seedPayload(t, dir, "0ddc0ffee0", now.Add(-40*24*time.Hour))

	entries, err := s.List([]string{idAlpha, "0ddc0ffee0", "feedf00d"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	got := map[string]State{}
	for _, e := range entries {
		got[e.Identity] = e.State
	}
	want := map[string]State{
		"0ddc0ffee0": StateStale,
		idBeta:       StateStale,
		idAlpha:      StateActive,
		"feedf00d":   StateUnused,
	}
	for id, st := range want {
		if got[id] != st {
			t.Errorf("%s: state = %v, want %v", id, got[id], st)
		}
	}
	if len(entries) != len(want) {
		t.Fatalf("List returned %d entries, want %d: %+v", len(entries), len(want), entries)
	}

	// Entries come back sorted by identity.
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Identity > entries[i].Identity {
			t.Fatalf("List unsorted: %+v", entries)
		}
	}
}

func TestListIgnoresStrayFiles(t *testing.T) {
	t.Parallel()
	s, dir := newDisk(t, ModeAuto)
	defer s.Close()

	seedPayload(t, dir, idAlpha, time.Now())
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "not-an-identity"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	entries, err := s.List(nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Identity != idAlpha {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestPruneSparesLiveAndRecent(t *testing.T) {
	t.Parallel()
	s, dir := newDisk(t, ModeAuto)
	defer s.Close()

	// alpha is old but live, beta is an old orphan, the third is a
	// recent orphan. Only beta should go.
	old := time.Now().Add(-60 * 24 * time.Hour)
	seedPayload(t, dir, idAlpha, old)
	seedPayload(t, dir, idBeta, old)
	seedPayload(t, dir, "0ddc0ffee0", time.Now())

	removed, err := s.Prune(context.Background(), DefaultRetention, []string{idAlpha})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, idBeta)); !os.IsNotExist(err) {
		t.Fatal("pruned namespace still on disk")
	}
	if _, err := os.Stat(filepath.Join(dir, idAlpha, "cache.json")); err != nil {
		t.Fatalf("live namespace was pruned: %v", err)
	}
}

func TestCleanRemovesEverything(t *testing.T) {
	t.Parallel()
	s, dir := newDisk(t, ModeAuto)
	defer s.Close()

	seedPayload(t, dir, idAlpha, time.Now())
	seedPayload(t, dir, idBeta, time.Now())

	removed, err := s.Clean(context.Background())
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	entries, err := s.List(nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries after Clean = %+v", entries)
	}
}

func TestPruneDropsCachedNamespace(t *testing.T) {
	t.Parallel()
	s, dir := newDisk(t, ModeFlush)
	defer s.Close()

	seedPayload(t, dir, idAlpha, time.Now().Add(-60*24*time.Hour))
	ns := s.Open(idAlpha)
	var v string
	if ok, _ := ns.Get("k", &v); !ok || v != "v" {
		t.Fatalf("seeded value missing: ok=%v v=%q", ok, v)
	}

	if _, err := s.Prune(context.Background(), DefaultRetention, nil); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	// Reopening after the prune must start empty, not resurrect the
	// cached copy.
	if ok, _ := s.Open(idAlpha).Get("k", &v); ok {
		t.Fatal("pruned namespace resurrected from cache")
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := New(Config{Mode: ModeFlush, Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Open(idAlpha).Set("seq", 7); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Open(idBeta).Set("seq", 9); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := New(Config{Mode: ModeAuto, Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	var seq int
	if ok, err := s2.Open(idAlpha).Get("seq", &seq); err != nil || !ok || seq != 7 {
		t.Fatalf("Get alpha = (%v, %v), seq=%d", ok, err, seq)
	}

	entries, err := s2.List([]string{idAlpha})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	got := map[string]State{}
	for _, e := range entries {
		got[e.Identity] = e.State
	}
	if got[idAlpha] != StateActive || got[idBeta] != StateStale {
		t.Fatalf("states = %v", got)
	}

	if removed, err := s2.Clean(context.Background()); err != nil || removed != 2 {
		t.Fatalf("Clean = (%d, %v)", removed, err)
	}
}

func TestUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Mode: ModeAuto, Driver: "redis", Path: t.TempDir()}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}
