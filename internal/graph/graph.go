package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emberhaus/ember-core/internal/platform"
)

// Logger defines the logging interface used by the Graph.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// PlatformClient is the interface the graph needs from the platform package.
type PlatformClient interface {
	States(ctx context.Context) ([]platform.EntityState, error)
	Services(ctx context.Context) ([]platform.ServiceDomain, error)
}

// Graph is the authoritative snapshot of what exists and what is callable
// on the remote platform.
//
// All public methods are thread-safe. Mutation happens only through
// Refresh, UpdateEntity, and RemoveEntity; queries return copies.
type Graph struct {
	client     PlatformClient
	serviceTTL time.Duration
	logger     Logger
	drift      *DriftDetector

	mu       sync.RWMutex
	entities map[string]*Entity
	byArea   map[string][]string // entity ids in first-encountered order
	byDevice map[string][]string
	services map[string]*Service // keyed by "domain.service"

	servicesFetched time.Time
	refreshed       bool
}

// New creates a capability graph backed by the given platform client.
// Refresh must be called before the graph can answer queries.
func New(client PlatformClient, serviceTTL time.Duration) *Graph {
	return &Graph{
		client:     client,
		serviceTTL: serviceTTL,
		logger:     noopLogger{},
		drift:      NewDriftDetector(),
		entities:   make(map[string]*Entity),
		byArea:     make(map[string][]string),
		byDevice:   make(map[string][]string),
		services:   make(map[string]*Service),
	}
}

// SetLogger sets the logger for the graph.
func (g *Graph) SetLogger(logger Logger) {
	g.logger = logger
}

// Drift returns the drift detector for the graph.
func (g *Graph) Drift() *DriftDetector {
	return g.drift
}

// Refresh pulls a full entity snapshot and service catalog and rebuilds
// every index. Transport errors propagate to the caller unchanged; the
// previous snapshot stays in place when a refresh fails.
func (g *Graph) Refresh(ctx context.Context) error {
	states, err := g.client.States(ctx)
	if err != nil {
		return fmt.Errorf("fetching entity snapshot: %w", err)
	}

	catalog, err := g.client.Services(ctx)
	if err != nil {
		return fmt.Errorf("fetching service catalog: %w", err)
	}

	entities := make(map[string]*Entity, len(states))
	byArea := make(map[string][]string)
	byDevice := make(map[string][]string)
	for _, st := range states {
		e := NormalizeEntity(st)
		if _, dup := entities[e.ID]; dup {
			continue
		}
		entities[e.ID] = &e
		if e.AreaID != "" {
			byArea[e.AreaID] = append(byArea[e.AreaID], e.ID)
		}
		if e.DeviceID != "" {
			byDevice[e.DeviceID] = append(byDevice[e.DeviceID], e.ID)
		}
	}

	services := make(map[string]*Service)
	for _, dom := range catalog {
		for name, def := range dom.Services {
			s := NormalizeService(dom.Domain, name, def)
			services[s.Key()] = &s
		}
	}

	g.mu.Lock()
	g.entities = entities
	g.byArea = byArea
	g.byDevice = byDevice
	g.services = services
	g.servicesFetched = time.Now()
	g.refreshed = true
	g.mu.Unlock()

	report := g.drift.Observe(keysOf(entities), keysOf(services))

	g.logger.Info("capability graph refreshed",
		"entities", len(entities),
		"services", len(services),
		"entities_added", len(report.AddedEntities),
		"entities_removed", len(report.RemovedEntities),
	)

	return nil
}

// UpdateEntity upserts one entity from a live state-change notification.
// Index maintenance is O(1) when the entity's area/device linkage is
// unchanged, which is the common case for state updates.
func (g *Graph) UpdateEntity(st platform.EntityState) {
	e := NormalizeEntity(st)

	g.mu.Lock()
	defer g.mu.Unlock()

	prev, existed := g.entities[e.ID]
	g.entities[e.ID] = &e

	if existed {
		if prev.AreaID != e.AreaID {
			g.byArea[prev.AreaID] = removeID(g.byArea[prev.AreaID], e.ID)
			if e.AreaID != "" {
				g.byArea[e.AreaID] = append(g.byArea[e.AreaID], e.ID)
			}
		}
		if prev.DeviceID != e.DeviceID {
			g.byDevice[prev.DeviceID] = removeID(g.byDevice[prev.DeviceID], e.ID)
			if e.DeviceID != "" {
				g.byDevice[e.DeviceID] = append(g.byDevice[e.DeviceID], e.ID)
			}
		}
		return
	}

	if e.AreaID != "" {
		g.byArea[e.AreaID] = append(g.byArea[e.AreaID], e.ID)
	}
	if e.DeviceID != "" {
		g.byDevice[e.DeviceID] = append(g.byDevice[e.DeviceID], e.ID)
	}
}

// RemoveEntity evicts an entity and unlinks it from the area and device
// indices. Invoked by the drift detector's consumers.
func (g *Graph) RemoveEntity(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entities[id]
	if !ok {
		return
	}
	delete(g.entities, id)

	if e.AreaID != "" {
		g.byArea[e.AreaID] = removeID(g.byArea[e.AreaID], id)
	}
	if e.DeviceID != "" {
		g.byDevice[e.DeviceID] = removeID(g.byDevice[e.DeviceID], id)
	}
}

// Entity returns the entity with the given id.
func (g *Graph) Entity(id string) (Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.entities[id]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	return *e, nil
}

// EntitiesByArea returns the entities in an area, in first-encountered order.
func (g *Graph) EntitiesByArea(areaID string) []Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collect(g.byArea[areaID])
}

// EntitiesByDevice returns the entities belonging to a device.
func (g *Graph) EntitiesByDevice(deviceID string) []Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collect(g.byDevice[deviceID])
}

// EntitiesByDomain returns all entities in a domain.
func (g *Graph) EntitiesByDomain(domain string) []Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Entity
	for _, e := range g.entities {
		if e.Domain == domain {
			out = append(out, *e)
		}
	}
	return out
}

// EntitiesByDeviceClass returns all entities with the given device class.
func (g *Graph) EntitiesByDeviceClass(class string) []Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Entity
	for _, e := range g.entities {
		if e.DeviceClass == class {
			out = append(out, *e)
		}
	}
	return out
}

// EntityCount returns the number of entities in the graph.
func (g *Graph) EntityCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entities)
}

// Capability resolves a "domain.service" capability to its service.
func (g *Graph) Capability(capability string) (Service, error) {
	domain, name, err := SplitCapability(capability)
	if err != nil {
		return Service{}, fmt.Errorf("%w: %q", ErrInvalidCapability, capability)
	}
	return g.Service(domain, name)
}

// Service returns the service for a (domain, name) pair.
func (g *Graph) Service(domain, name string) (Service, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.refreshed {
		return Service{}, ErrNotRefreshed
	}

	s, ok := g.services[domain+"."+name]
	if !ok {
		return Service{}, fmt.Errorf("%w: %s.%s", ErrServiceNotFound, domain, name)
	}
	return *s, nil
}

// ServiceAvailable reports whether a (domain, name) service exists and the
// catalog is within its TTL. A stale catalog reports false so callers
// trigger a refresh rather than trusting old capability data.
func (g *Graph) ServiceAvailable(domain, name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.refreshed {
		return false
	}
	if g.serviceTTL > 0 && time.Since(g.servicesFetched) > g.serviceTTL {
		return false
	}
	_, ok := g.services[domain+"."+name]
	return ok
}

// ServicesStale reports whether the service catalog has outlived its TTL.
func (g *Graph) ServicesStale() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.refreshed {
		return true
	}
	return g.serviceTTL > 0 && time.Since(g.servicesFetched) > g.serviceTTL
}

// RunRefreshLoop refreshes the graph on a fixed interval until the context
// is cancelled. It is the safety net against missed stream events and runs
// independently of the event-driven updates.
func (g *Graph) RunRefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := g.Refresh(ctx); err != nil {
				g.logger.Error("background refresh failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// collect copies the entities for a list of ids, skipping stale ids.
func (g *Graph) collect(ids []string) []Entity {
	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := g.entities[id]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// removeID removes one id from a slice, preserving order.
func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

// keysOf returns the key set of a map as a set.
func keysOf[V any](m map[string]*V) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}
