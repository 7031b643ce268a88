// Package store gives each target a small persistent key/value namespace
// keyed by its identity fingerprint, so integrations can avoid redundant
// remote calls (cached tokens, previously-seen hashes) across restarts.
//
// Three modes: memory (no I/O, the embedding default), auto (eager reads,
// deferred writes), flush (synchronous writes). Two backends: a
// directory-per-identity disk layout and a single-file sqlite database.
// Staleness classification always happens at query time against the live
// collection, so it can never itself go stale.
package store
