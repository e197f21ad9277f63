package graph

import (
	"context"
	"testing"
	"time"

	"github.com/emberhaus/ember-core/internal/platform"
)

func set(keys ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func TestDriftFirstObservationSeedsBaseline(t *testing.T) {
	d := NewDriftDetector()

	r := d.Observe(set("light.kitchen"), set("light.turn_on"))
	if !r.Empty() {
		t.Errorf("first observation should report no drift, got %+v", r)
	}
}

func TestDriftDetectsAddedAndRemoved(t *testing.T) {
	d := NewDriftDetector()
	d.Observe(set("light.kitchen", "light.hall"), set("light.turn_on"))

	r := d.Observe(set("light.kitchen", "sensor.door"), set("light.turn_on", "light.turn_off"))

	if len(r.AddedEntities) != 1 || r.AddedEntities[0] != "sensor.door" {
		t.Errorf("AddedEntities = %v", r.AddedEntities)
	}
	if len(r.RemovedEntities) != 1 || r.RemovedEntities[0] != "light.hall" {
		t.Errorf("RemovedEntities = %v", r.RemovedEntities)
	}
	if len(r.AddedServices) != 1 || r.AddedServices[0] != "light.turn_off" {
		t.Errorf("AddedServices = %v", r.AddedServices)
	}
	if r.Empty() {
		t.Error("report with changes must not be Empty")
	}
	if got := d.Last(); len(got.RemovedEntities) != 1 {
		t.Errorf("Last() should return the most recent report, got %+v", got)
	}
}

func TestDriftPendingRemovals(t *testing.T) {
	d := NewDriftDetector()
	d.Observe(set("light.kitchen", "light.hall"), set())
	d.Observe(set("light.kitchen"), set())

	pending := d.PendingRemovals()
	if len(pending) != 1 || pending[0] != "light.hall" {
		t.Fatalf("PendingRemovals = %v", pending)
	}

	// Reappearing entity clears the pending removal.
	d.Observe(set("light.kitchen", "light.hall"), set())
	if got := d.PendingRemovals(); len(got) != 0 {
		t.Errorf("PendingRemovals after reappearance = %v", got)
	}
}

func TestDriftAcknowledge(t *testing.T) {
	d := NewDriftDetector()
	d.Observe(set("light.kitchen"), set())
	d.Observe(set(), set())

	if len(d.PendingRemovals()) == 0 {
		t.Fatal("expected a pending removal")
	}
	d.Acknowledge()
	if got := d.PendingRemovals(); len(got) != 0 {
		t.Errorf("PendingRemovals after Acknowledge = %v", got)
	}
}

func TestDriftAffectedSpecs(t *testing.T) {
	d := NewDriftDetector()
	d.Observe(set("light.kitchen", "light.hall", "sensor.door"), set())
	d.Observe(set("sensor.door"), set())

	refs := map[string][]string{
		"morning-routine": {"light.kitchen", "sensor.door"},
		"night-lockdown":  {"sensor.door"},
		"hall-welcome":    {"light.hall"},
	}

	affected := d.AffectedSpecs(refs)
	want := map[string]bool{"morning-routine": true, "hall-welcome": true}
	if len(affected) != len(want) {
		t.Fatalf("AffectedSpecs = %v", affected)
	}
	for _, id := range affected {
		if !want[id] {
			t.Errorf("unexpected spec %q in %v", id, affected)
		}
	}
}

func TestRefreshFeedsDriftDetector(t *testing.T) {
	g, client := refreshedGraph(t)

	client.setStates([]platform.EntityState{
		state("light.kitchen", "on", map[string]any{"area_id": "kitchen"}),
	})
	if err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}

	r := g.Drift().Last()
	if len(r.RemovedEntities) != 3 {
		t.Errorf("RemovedEntities = %v, want 3 removals", r.RemovedEntities)
	}
	if r.ObservedAt.IsZero() || time.Since(r.ObservedAt) > time.Minute {
		t.Errorf("ObservedAt = %v", r.ObservedAt)
	}
}
