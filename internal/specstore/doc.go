// Package specstore provides immutable, content-addressed storage of
// automation spec versions with an active-version pointer.
//
// Identical content is stored exactly once per home: storing a spec
// whose canonical JSON hashes to an already-known value returns the
// existing record. At most one version is active per (spec_id, home_id)
// at any time; the pointer flip happens in a single transaction.
package specstore
