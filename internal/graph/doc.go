// Package graph maintains a live, queryable inventory of the remote
// platform's entities and services - the capability graph.
//
// The graph is built from a full snapshot (Refresh) and kept current by
// state-change events (UpdateEntity) with a periodic background refresh
// as a safety net against missed events. Successive refreshes are diffed
// by the drift detector: entities and services that disappear are evicted
// and reported so higher layers can flag the specs that reference them.
//
// # Concurrency
//
// The graph's maps are mutated only by Refresh, UpdateEntity, and
// RemoveEntity (single-writer discipline). All query methods return
// copies, never references into the internal maps.
package graph
