// Package store provides persistence for plans, steps, transcripts, and
// stream event logs.
//
// The production implementation is [SQLiteStore], backed by modernc.org/sqlite
// with WAL mode enabled. Plans and steps carry a version column used for
// optimistic concurrency: updates name the version they read, and a write
// that matches no row reports [ErrVersionConflict] so racing callers can
// re-read and retry (or give up, for decisions that must happen exactly
// once). [MockStore] offers the same semantics in memory for tests.
package store
