package graph

import (
	"sync"
	"time"
)

// Report describes the difference between two successive inventory
// snapshots: what appeared and what disappeared.
type Report struct {
	ObservedAt       time.Time
	AddedEntities    []string
	RemovedEntities  []string
	AddedServices    []string
	RemovedServices  []string
}

// Empty reports whether the snapshot showed no drift.
func (r Report) Empty() bool {
	return len(r.AddedEntities) == 0 && len(r.RemovedEntities) == 0 &&
		len(r.AddedServices) == 0 && len(r.RemovedServices) == 0
}

// DriftDetector compares successive entity-id and service-id snapshots.
//
// Removed ids accumulate until Acknowledge is called, so the registry and
// rollout layers can ask "which specs reference something that vanished"
// on their own schedule. Drift is flagged, never auto-healed: nothing here
// disables a spec.
type DriftDetector struct {
	mu sync.Mutex

	prevEntities map[string]struct{}
	prevServices map[string]struct{}
	seeded       bool

	last           Report
	removedPending map[string]struct{} // entity ids removed and not yet acknowledged
}

// NewDriftDetector creates an empty drift detector.
func NewDriftDetector() *DriftDetector {
	return &DriftDetector{
		removedPending: make(map[string]struct{}),
	}
}

// Observe records a new snapshot and returns the drift report against the
// previous one. The first snapshot seeds the baseline and reports no drift.
func (d *DriftDetector) Observe(entities, services map[string]struct{}) Report {
	d.mu.Lock()
	defer d.mu.Unlock()

	report := Report{ObservedAt: time.Now()}

	if d.seeded {
		report.AddedEntities, report.RemovedEntities = diffSets(d.prevEntities, entities)
		report.AddedServices, report.RemovedServices = diffSets(d.prevServices, services)
	}

	d.prevEntities = entities
	d.prevServices = services
	d.seeded = true
	d.last = report

	for _, id := range report.RemovedEntities {
		d.removedPending[id] = struct{}{}
	}
	// An entity that reappears is no longer pending removal.
	for _, id := range report.AddedEntities {
		delete(d.removedPending, id)
	}

	return report
}

// Last returns the most recent drift report.
func (d *DriftDetector) Last() Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// AffectedSpecs returns the ids of specs that reference an entity removed
// since the last Acknowledge. The caller supplies the reference map
// (spec id -> entity ids the spec targets).
func (d *DriftDetector) AffectedSpecs(refs map[string][]string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var affected []string
	for specID, entityIDs := range refs {
		for _, id := range entityIDs {
			if _, gone := d.removedPending[id]; gone {
				affected = append(affected, specID)
				break
			}
		}
	}
	return affected
}

// PendingRemovals returns the entity ids removed and not yet acknowledged.
func (d *DriftDetector) PendingRemovals() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]string, 0, len(d.removedPending))
	for id := range d.removedPending {
		out = append(out, id)
	}
	return out
}

// Acknowledge clears the pending-removal set after consumers have reacted.
func (d *DriftDetector) Acknowledge() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removedPending = make(map[string]struct{})
}

// diffSets computes added (in next, not prev) and removed (in prev, not next).
func diffSets(prev, next map[string]struct{}) (added, removed []string) {
	for k := range next {
		if _, ok := prev[k]; !ok {
			added = append(added, k)
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			removed = append(removed, k)
		}
	}
	return added, removed
}
