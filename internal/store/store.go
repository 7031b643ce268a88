package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"megaphone/pkg/logx"
)

// Mode is the process-wide persistence policy, chosen once at
// construction and inherited by every namespace opened afterwards.
type Mode string

const (
	// ModeMemory never touches disk; namespace lifetime equals target
	// lifetime. Default for embedding use.
	ModeMemory Mode = "memory"
	// ModeAuto reads eagerly and defers writes; dirty namespaces are
	// flushed opportunistically (Flush, Close, janitor). Default for
	// interactive use.
	ModeAuto Mode = "auto"
	// ModeFlush persists every write synchronously. Highest durability,
	// highest I/O cost.
	ModeFlush Mode = "flush"
)

// DefaultRetention is the staleness window. A tunable default, not a
// hard invariant.
const DefaultRetention = 30 * 24 * time.Hour

type Config struct {
	Mode   Mode
	Driver string // "disk" (default) or "sqlite"
	Path   string // root directory (disk) or database file (sqlite)

	// Retention is the write-recency window for staleness
	// classification. 0 means DefaultRetention.
	Retention time.Duration
}

// State classifies a persisted identity. It is derived at query time by
// cross-referencing on-disk data against the live collection, never
// cached.
type State string

const (
	StateUnused State = "unused"
	StateActive State = "active"
	StateStale  State = "stale"
)

// Entry describes one identity's persisted footprint.
type Entry struct {
	Identity  string
	State     State
	Bytes     int64
	LastWrite time.Time
}

// backend is the on-media half of the store. nil means memory mode.
type backend interface {
	load(identity string) (map[string]json.RawMessage, error)
	save(identity string, data map[string]json.RawMessage, lastWrite time.Time) error
	remove(identity string) error
	list() ([]Entry, error) // Bytes and LastWrite filled, State left empty
	close() error
}

type Store struct {
	cfg Config
	log logx.Logger

	be backend // nil in memory mode

	mu   sync.Mutex
	open map[string]*Namespace
}

// New builds a store. An empty path forces memory mode, mirroring how an
// embedder that never configured storage should still be safe to run.
func New(cfg Config, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeMemory
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Mode = ModeMemory
	}

	s := &Store{cfg: cfg, log: log, open: map[string]*Namespace{}}
	if cfg.Mode == ModeMemory {
		return s, nil
	}

	var err error
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "disk", "file":
		s.be, err = openDisk(cfg.Path)
	case "sqlite", "sqlite3":
		s.be, err = openSQLite(cfg.Path)
	default:
		err = fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Mode() Mode { return s.cfg.Mode }

// Retention returns the configured staleness window.
func (s *Store) Retention() time.Duration { return s.cfg.Retention }

// Open acquires the namespace for one target identity. Always non-nil
// and safe to use: in memory mode (or when opening on-disk data fails)
// the namespace simply starts empty and writes stay in memory.
func (s *Store) Open(identity string) *Namespace {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.open[identity]; ok {
		return ns
	}

	ns := &Namespace{store: s, identity: identity, data: map[string]json.RawMessage{}}
	if s.be != nil {
		data, err := s.be.load(identity)
		if err != nil {
			s.log.Warn("namespace load failed, starting empty",
				logx.String("id", identity), logx.Err(err))
		} else if data != nil {
			ns.data = data
		}
	}
	s.open[identity] = ns
	return ns
}

// Flush persists every dirty open namespace. A no-op in memory mode.
func (s *Store) Flush() error {
	s.mu.Lock()
	nss := make([]*Namespace, 0, len(s.open))
	for _, ns := range s.open {
		nss = append(nss, ns)
	}
	s.mu.Unlock()

	var firstErr error
	for _, ns := range nss {
		if err := ns.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close flushes and releases the backend.
func (s *Store) Close() error {
	err := s.Flush()
	if s.be != nil {
		if cerr := s.be.close(); err == nil {
			err = cerr
		}
	}
	return err
}

// List enumerates the union of persisted identities and the live ones,
// classified at query time: unused (no data), active (data plus a live
// target, written within retention), stale (orphaned or gone quiet).
func (s *Store) List(activeIdentities []string) ([]Entry, error) {
	live := make(map[string]bool, len(activeIdentities))
	for _, id := range activeIdentities {
		live[id] = true
	}

	var persisted []Entry
	if s.be != nil {
		var err error
		persisted, err = s.be.list()
		if err != nil {
			return nil, err
		}
	}

	now := time.Now()
	out := make([]Entry, 0, len(persisted)+len(live))
	seen := make(map[string]bool, len(persisted))
	for _, e := range persisted {
		seen[e.Identity] = true
		e.State = classify(e, live[e.Identity], now, s.cfg.Retention)
		out = append(out, e)
	}
	for id := range live {
		if !seen[id] {
			out = append(out, Entry{Identity: id, State: StateUnused})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func classify(e Entry, referenced bool, now time.Time, retention time.Duration) State {
	if !referenced {
		return StateStale
	}
	if !e.LastWrite.IsZero() && now.Sub(e.LastWrite) > retention {
		return StateStale
	}
	return StateActive
}

// Prune removes persisted namespaces whose last write is older than
// olderThan and whose identity no live target references. Returns how
// many were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration, activeIdentities []string) (int, error) {
	if s.be == nil {
		return 0, nil
	}
	live := make(map[string]bool, len(activeIdentities))
	for _, id := range activeIdentities {
		live[id] = true
	}

	persisted, err := s.be.list()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range persisted {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if live[e.Identity] || e.LastWrite.After(cutoff) {
			continue
		}
		if err := s.removeIdentity(e.Identity); err != nil {
			s.log.Warn("prune failed for namespace", logx.String("id", e.Identity), logx.Err(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("pruned stale namespaces", logx.Int("removed", removed))
	}
	return removed, nil
}

// Clean removes every persisted namespace regardless of age or active
// state.
func (s *Store) Clean(ctx context.Context) (int, error) {
	if s.be == nil {
		return 0, nil
	}
	persisted, err := s.be.list()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range persisted {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if err := s.removeIdentity(e.Identity); err != nil {
			s.log.Warn("clean failed for namespace", logx.String("id", e.Identity), logx.Err(err))
			continue
		}
		removed++
	}
	s.log.Info("store cleaned", logx.Int("removed", removed))
	return removed, nil
}

func (s *Store) removeIdentity(identity string) error {
	if err := s.be.remove(identity); err != nil {
		return err
	}
	// Drop cached state so a reopened namespace starts fresh.
	s.mu.Lock()
	delete(s.open, identity)
	s.mu.Unlock()
	return nil
}

var errClosed = errors.New("store backend closed")
