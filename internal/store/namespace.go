package store

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Namespace is one target's private key/value area.
//
// Values are JSON-serialisable; Get unmarshals into the caller's type.
// All methods are safe under concurrent use and safe even when the store
// is memory-only: persistence quietly degrades to a per-process map.
type Namespace struct {
	store    *Store
	identity string

	mu    sync.Mutex
	data  map[string]json.RawMessage
	dirty bool
}

// Get reads a key into out. Returns false when the key is absent.
func (n *Namespace) Get(key string, out any) (bool, error) {
	n.mu.Lock()
	raw, ok := n.data[key]
	n.mu.Unlock()
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

// Set writes a key. In flush mode the namespace is persisted before Set
// returns; in auto mode the write is deferred.
func (n *Namespace) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.data[key] = raw
	n.dirty = true
	n.mu.Unlock()

	return n.maybeFlush()
}

// Delete removes a key. Deleting an absent key is not an error.
func (n *Namespace) Delete(key string) error {
	n.mu.Lock()
	if _, ok := n.data[key]; ok {
		delete(n.data, key)
		n.dirty = true
	}
	n.mu.Unlock()

	return n.maybeFlush()
}

// Keys lists present keys, sorted.
func (n *Namespace) Keys() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.data))
	for k := range n.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Flush persists the namespace if dirty. No-op in memory mode.
func (n *Namespace) Flush() error {
	s := n.store
	if s.be == nil {
		return nil
	}

	n.mu.Lock()
	if !n.dirty {
		n.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]json.RawMessage, len(n.data))
	for k, v := range n.data {
		snapshot[k] = v
	}
	n.mu.Unlock()

	if err := s.be.save(n.identity, snapshot, time.Now()); err != nil {
		return err
	}

	n.mu.Lock()
	n.dirty = false
	n.mu.Unlock()
	return nil
}

func (n *Namespace) maybeFlush() error {
	if n.store.cfg.Mode == ModeFlush {
		return n.Flush()
	}
	return nil
}
