// Package megaphone sends one message to many heterogeneous notification
// endpoints addressed by compact scheme://... URLs.
//
// Typical embedding:
//
//	reg := registry.New()
//	_ = webhook.Register(reg)
//	st, _ := store.New(store.Config{}, log) // memory mode
//	app := megaphone.New(reg, st, log)
//	_ = app.Add("json://hooks.example.com/notify", "ops")
//	rep := app.Notify(ctx, target.Message{Body: "disk almost full"},
//		dispatch.Options{Filter: tagfilter.Parse("ops")})
package megaphone

import (
	"context"

	"megaphone/internal/collection"
	"megaphone/internal/configsrc"
	"megaphone/internal/dispatch"
	"megaphone/internal/registry"
	"megaphone/internal/store"
	"megaphone/internal/target"
	"megaphone/pkg/logx"
)

// App owns one registry, one collection and one store. It is safe for
// concurrent Notify calls; Add/Pop/Clear during an in-flight Notify is
// the caller's responsibility to serialize (single-writer discipline).
type App struct {
	log logx.Logger
	reg *registry.Registry
	col *collection.Collection
	st  *store.Store
}

func New(reg *registry.Registry, st *store.Store, log logx.Logger) *App {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &App{
		log: log,
		reg: reg,
		col: collection.New(reg, log),
		st:  st,
	}
}

// Add parses one address and appends the constructed target.
func (a *App) Add(url string, tags ...string) error {
	return a.col.AddURL(url, tags...)
}

// AddAll loads a batch fail-soft; false means at least one entry did not
// load (the rest still did).
func (a *App) AddAll(lines []collection.Line) bool {
	return a.col.AddAll(lines)
}

// AddConfig loads a config file (and its includes, up to depth levels)
// into the collection. The boolean mirrors AddAll.
func (a *App) AddConfig(path string, depth int) (bool, error) {
	lines, err := configsrc.Load(path, depth)
	if err != nil {
		return false, err
	}
	return a.col.AddAll(lines), nil
}

// ReloadConfig replaces the collection's contents with a fresh load of
// the config file. Meant for hot reload; callers follow the same
// single-writer discipline as Add.
func (a *App) ReloadConfig(path string, depth int) (bool, error) {
	lines, err := configsrc.Load(path, depth)
	if err != nil {
		return false, err
	}
	a.col.Clear()
	return a.col.AddAll(lines), nil
}

// WatchConfig blocks until ctx is done, reloading the collection
// whenever the config file changes on disk.
func (a *App) WatchConfig(ctx context.Context, path string, depth int) error {
	return configsrc.Watch(ctx, path, func() {
		if ok, err := a.ReloadConfig(path, depth); err != nil {
			a.log.Warn("config reload failed", logx.String("path", path), logx.Err(err))
		} else if !ok {
			a.log.Warn("config reloaded with bad entries", logx.String("path", path))
		} else {
			a.log.Info("config reloaded",
				logx.String("path", path), logx.Int("targets", a.col.Len()))
		}
	}, a.log)
}

// Notify dispatches one message to the filtered subset of targets.
// It always returns a report, never an error: per-target trouble is a
// per-target outcome.
func (a *App) Notify(ctx context.Context, msg target.Message, opts dispatch.Options) dispatch.Report {
	return dispatch.Notify(ctx, a.col, msg, opts, a.log)
}

// Details enumerates registered schemas with their capability metadata,
// sorted for stable output.
func (a *App) Details() []registry.Info {
	return a.reg.Schemas()
}

// Collection exposes the underlying aggregate for iteration and
// entry-level management.
func (a *App) Collection() *collection.Collection { return a.col }

// Store exposes the persistent store, or nil if none was supplied.
func (a *App) Store() *store.Store { return a.st }

// StoreEntries classifies every persisted namespace against the live
// collection.
func (a *App) StoreEntries() ([]store.Entry, error) {
	if a.st == nil {
		return nil, nil
	}
	return a.st.List(a.col.Identities())
}
