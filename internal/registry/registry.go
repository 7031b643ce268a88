// Package registry maps address schemes to target factories.
//
// The registry is an explicit value owned by the process bootstrap and
// handed to the collection; there is no package-global state, so tests can
// build isolated registries with fake factories.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"megaphone/internal/address"
	"megaphone/internal/target"
)

// ErrUnknownScheme is returned by Resolve for schemes nothing registered.
var ErrUnknownScheme = errors.New("unknown scheme")

// Factory constructs a target from a parsed address and its tags.
type Factory func(addr *address.Address, tags []string) (target.Target, error)

// Schema declares one integration: its scheme name, an optional TLS alias
// (e.g. "jsons" for "json"), the factory, and capability metadata used for
// introspection before any target exists.
type Schema struct {
	Name       string
	SecureName string
	Factory    Factory
	Caps       target.Capabilities
}

type Registry struct {
	mu sync.RWMutex
	// byScheme holds every name and secure alias; aliases point at the
	// same Schema value.
	byScheme map[string]Schema
}

func New() *Registry {
	return &Registry{byScheme: map[string]Schema{}}
}

// Register installs a schema. A duplicate scheme (name or alias) is a
// configuration-time error rather than a silent overwrite, so plugin scan
// paths cannot accidentally shadow each other.
func (r *Registry) Register(s Schema) error {
	if s.Name == "" {
		return errors.New("registry: schema name is required")
	}
	if s.Factory == nil {
		return fmt.Errorf("registry: schema %q has no factory", s.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byScheme[s.Name]; exists {
		return fmt.Errorf("registry: scheme %q already registered", s.Name)
	}
	if s.SecureName != "" {
		if _, exists := r.byScheme[s.SecureName]; exists {
			return fmt.Errorf("registry: scheme %q already registered", s.SecureName)
		}
	}
	r.byScheme[s.Name] = s
	if s.SecureName != "" {
		r.byScheme[s.SecureName] = s
	}
	return nil
}

// Resolve looks up the factory for an address. Pure lookup, no I/O.
// If the address arrived under the schema's secure alias the returned
// address copy carries Secure=true.
func (r *Registry) Resolve(addr *address.Address) (Factory, *address.Address, error) {
	r.mu.RLock()
	s, ok := r.byScheme[addr.Scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownScheme, addr.Scheme)
	}
	if s.SecureName != "" && addr.Scheme == s.SecureName {
		addr = addr.WithSecure(true)
	}
	return s.Factory, addr, nil
}

// Info is one row of the enumeration returned by Schemas.
type Info struct {
	Scheme       string
	SecureScheme string
	Caps         target.Capabilities
}

// Schemas enumerates registered schemas sorted by primary name, for
// details-style introspection with stable output.
func (r *Registry) Schemas() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[string]bool{}
	out := make([]Info, 0, len(r.byScheme))
	for _, s := range r.byScheme {
		if seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		out = append(out, Info{Scheme: s.Name, SecureScheme: s.SecureName, Caps: s.Caps})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scheme < out[j].Scheme })
	return out
}
