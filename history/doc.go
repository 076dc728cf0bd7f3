// Package history houses concrete implementations of core.HistoryStore.
//
// When a run ends, or is replaced by a newer one, its final RunState becomes
// immutable history. InMemoryStore keeps a bounded number of them in an LRU;
// SQLiteStore persists them as JSON snapshots. Callers should depend on the
// core interface so the backend can be swapped in the wiring layer only.
package history

import "errors"

// ErrNotFound is returned when no run with the given id is stored.
var ErrNotFound = errors.New("run not found")
