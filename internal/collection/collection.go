// Package collection aggregates targets (and nested collections sourced
// from configuration) with their tags, and owns address-to-target
// construction through the schema registry.
package collection

import (
	"megaphone/internal/address"
	"megaphone/internal/registry"
	"megaphone/internal/target"
	"megaphone/pkg/logx"

	"sync"
)

// Line is one (address, tags) pair as produced by a config source or
// direct API use. Both paths funnel into AddAll.
type Line struct {
	URL  string
	Tags []string
}

// Entry is one top-level member: either a target or a nested collection,
// plus the tags attached at add time. For nested collections those tags
// are unioned into every contained target during iteration, never
// overwritten.
type Entry struct {
	Target target.Target
	Nested *Collection
	Tags   []string
}

type Collection struct {
	mu      sync.RWMutex
	reg     *registry.Registry
	entries []Entry
	log     logx.Logger
}

func New(reg *registry.Registry, log logx.Logger) *Collection {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Collection{reg: reg, log: log}
}

// Add appends an already-constructed target.
func (c *Collection) Add(t target.Target, tags ...string) {
	t.Tags().Add(tags...)
	c.mu.Lock()
	c.entries = append(c.entries, Entry{Target: t})
	c.mu.Unlock()
}

// AddCollection appends a nested collection by reference: later mutation
// of the nested collection is visible through this one.
func (c *Collection) AddCollection(sub *Collection, tags ...string) {
	if sub == nil || sub == c {
		return
	}
	c.mu.Lock()
	c.entries = append(c.entries, Entry{Nested: sub, Tags: append([]string(nil), tags...)})
	c.mu.Unlock()
}

// AddURL parses, resolves and constructs one address. Re-adding an address
// that renders identically to an existing target extends that target's tag
// set instead of duplicating the endpoint.
func (c *Collection) AddURL(raw string, tags ...string) error {
	addr, err := address.Parse(raw)
	if err != nil {
		return err
	}
	factory, addr, err := c.reg.Resolve(addr)
	if err != nil {
		return err
	}

	if existing := c.findByAddr(addr); existing != nil {
		existing.Tags().Add(tags...)
		c.log.Debug("target already present, tags extended",
			logx.String("scheme", addr.Scheme), logx.Strings("tags", tags))
		return nil
	}

	t, err := factory(addr, tags)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries = append(c.entries, Entry{Target: t})
	c.mu.Unlock()

	c.log.Debug("target added",
		logx.String("scheme", addr.Scheme),
		logx.String("id", target.Identity(t)),
		logx.Strings("tags", t.Tags().List()))
	return nil
}

// AddAll loads a batch fail-soft: a bad line is logged and skipped, the
// rest still load. Returns true only when every line loaded.
func (c *Collection) AddAll(lines []Line) bool {
	ok := true
	for _, ln := range lines {
		if err := c.AddURL(ln.URL, ln.Tags...); err != nil {
			ok = false
			c.log.Warn("skipping unloadable entry", logx.String("url", ln.URL), logx.Err(err))
		}
	}
	return ok
}

func (c *Collection) findByAddr(addr *address.Address) target.Target {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.Target != nil && e.Target.Addr().Equal(addr) {
			return e.Target
		}
	}
	return nil
}

// Len counts top-level entries.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Pop removes and returns the i-th top-level entry.
func (c *Collection) Pop(i int) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.entries) {
		return Entry{}, false
	}
	e := c.entries[i]
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	return e, true
}

// At returns the i-th top-level entry without removing it.
func (c *Collection) At(i int) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.entries) {
		return Entry{}, false
	}
	return c.entries[i], true
}

func (c *Collection) Clear() {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
}

// Item is a flattened target together with the tags inherited from the
// nesting context. It satisfies tagfilter.Tags: a tag counts if the target
// owns it or any enclosing collection entry attached it.
type Item struct {
	Target    target.Target
	Inherited []string
}

func (it Item) Has(tag string) bool {
	if it.Target.Tags().Has(tag) {
		return true
	}
	for _, t := range it.Inherited {
		if t == tag {
			return true
		}
	}
	return false
}

// Items flattens nested collections depth-first. Order is stable and
// equals insertion order of top-level entries, recursively expanded.
// Safe for concurrent use by the dispatcher; mutation during an in-flight
// notify is the caller's problem (single-writer discipline).
func (c *Collection) Items() []Item {
	return c.items(nil, map[*Collection]bool{})
}

// path guards against cycles only. A diamond (the same sub-collection
// added twice under different tags) is legitimate and must expand at
// every occurrence, so membership is scoped to the current recursion
// branch rather than the whole traversal.
func (c *Collection) items(inherited []string, path map[*Collection]bool) []Item {
	if path[c] {
		return nil
	}
	path[c] = true
	defer delete(path, c)

	c.mu.RLock()
	entries := append([]Entry(nil), c.entries...)
	c.mu.RUnlock()

	var out []Item
	for _, e := range entries {
		switch {
		case e.Target != nil:
			out = append(out, Item{Target: e.Target, Inherited: inherited})
		case e.Nested != nil:
			sub := append(append([]string(nil), inherited...), e.Tags...)
			out = append(out, e.Nested.items(sub, path)...)
		}
	}
	return out
}

// Identities lists the store fingerprints of every flattened target,
// used to classify persisted namespaces as active or stale.
func (c *Collection) Identities() []string {
	items := c.Items()
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, target.Identity(it.Target))
	}
	return out
}
