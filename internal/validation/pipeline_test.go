package validation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emberhaus/ember-core/internal/graph"
	"github.com/emberhaus/ember-core/internal/platform"
)

// mockGraph is a canned capability source.
type mockGraph struct {
	entities map[string]graph.Entity
	areas    map[string][]string // area -> entity ids in order
	classes  map[string][]string
	services map[string]graph.Service
	stale    map[string]bool
}

func newMockGraph() *mockGraph {
	return &mockGraph{
		entities: map[string]graph.Entity{
			"light.kitchen": {ID: "light.kitchen", Domain: "light", AreaID: "kitchen", SupportedFeatures: 1, Available: true, State: "off"},
			"light.hall":    {ID: "light.hall", Domain: "light", AreaID: "hall", Available: true, State: "off"},
			"light.lounge":  {ID: "light.lounge", Domain: "light", AreaID: "living_room", SupportedFeatures: 1, Available: true, State: "on"},
			"light.corner":  {ID: "light.corner", Domain: "light", AreaID: "living_room", SupportedFeatures: 1, Available: true, State: "off"},
		},
		areas: map[string][]string{
			"kitchen":     {"light.kitchen"},
			"hall":        {"light.hall"},
			"living_room": {"light.lounge", "light.corner"},
		},
		classes: map[string][]string{},
		services: map[string]graph.Service{
			"light.turn_on": {
				Domain: "light", Name: "turn_on",
				Fields: map[string]platform.ServiceField{
					"brightness": {Selector: map[string]any{"number": map[string]any{"min": float64(0), "max": float64(255)}}},
				},
			},
			"light.turn_off": {Domain: "light", Name: "turn_off"},
			"climate.set_temperature": {
				Domain: "climate", Name: "set_temperature",
				RequiredFields: []string{"temperature"},
			},
		},
		stale: map[string]bool{},
	}
}

func (m *mockGraph) Entity(id string) (graph.Entity, error) {
	e, ok := m.entities[id]
	if !ok {
		return graph.Entity{}, graph.ErrEntityNotFound
	}
	return e, nil
}

func (m *mockGraph) EntitiesByArea(areaID string) []graph.Entity {
	var out []graph.Entity
	for _, id := range m.areas[areaID] {
		out = append(out, m.entities[id])
	}
	return out
}

func (m *mockGraph) EntitiesByDeviceClass(class string) []graph.Entity {
	var out []graph.Entity
	for _, id := range m.classes[class] {
		out = append(out, m.entities[id])
	}
	return out
}

func (m *mockGraph) Capability(capability string) (graph.Service, error) {
	if _, _, err := graph.SplitCapability(capability); err != nil {
		return graph.Service{}, err
	}
	s, ok := m.services[capability]
	if !ok {
		return graph.Service{}, graph.ErrServiceNotFound
	}
	return s, nil
}

func (m *mockGraph) ServiceAvailable(domain, name string) bool {
	_, ok := m.services[domain+"."+name]
	return ok && !m.stale[domain+"."+name]
}

// mockPreflight serves canned live states.
type mockPreflight struct {
	states map[string]string
	calls  int
}

func (m *mockPreflight) State(_ context.Context, entityID string) (platform.EntityState, error) {
	m.calls++
	st, ok := m.states[entityID]
	if !ok {
		return platform.EntityState{}, errors.New("no such entity")
	}
	return platform.EntityState{EntityID: entityID, State: st}, nil
}

func testSpec(actions ...Action) *AutomationSpec {
	return &AutomationSpec{
		ID:      "spec-1",
		Version: "1.0.0",
		Actions: actions,
		Policy:  Policy{Risk: RiskLow},
		Enabled: true,
	}
}

func hasError(res Result, substr string) bool {
	for _, e := range res.Errors {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func hasWarning(res Result, substr string) bool {
	for _, w := range res.Warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestValidateProducesPlan(t *testing.T) {
	p := NewPipeline(PipelineConfig{Graph: newMockGraph()})
	spec := testSpec(Action{
		ID:         "a1",
		Capability: "light.turn_on",
		Target:     Target{"entity_id": "light.kitchen"},
		Data:       map[string]any{"brightness": float64(128)},
	})

	res := p.Validate(context.Background(), spec)
	if !res.Valid {
		t.Fatalf("expected valid, errors: %v", res.Errors)
	}
	if res.Plan == nil || res.Plan.EntityCount() != 1 {
		t.Fatalf("plan = %+v", res.Plan)
	}
	if res.Plan.SpecID != "spec-1" || res.Plan.SpecVersion != "1.0.0" {
		t.Errorf("plan identity = %s/%s", res.Plan.SpecID, res.Plan.SpecVersion)
	}
}

func TestAreaTargetResolvesInOrder(t *testing.T) {
	p := NewPipeline(PipelineConfig{Graph: newMockGraph()})
	spec := testSpec(Action{
		ID:         "a1",
		Capability: "light.turn_off",
		Target:     Target{"area": "living_room", "entity_id": "light.lounge"},
	})

	res := p.Validate(context.Background(), spec)
	if !res.Valid {
		t.Fatalf("errors: %v", res.Errors)
	}

	got := res.Plan.Actions[0].ResolvedEntityIDs
	// entity_id selector first, then area members, deduplicated.
	want := []string{"light.lounge", "light.corner"}
	if len(got) != len(want) {
		t.Fatalf("resolved = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("resolved[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPlanEntityCountMatchesPerActionSums(t *testing.T) {
	p := NewPipeline(PipelineConfig{Graph: newMockGraph()})
	spec := testSpec(
		Action{ID: "a1", Capability: "light.turn_off", Target: Target{"area": "living_room"}},
		Action{ID: "a2", Capability: "light.turn_off", Target: Target{"entity_id": "light.hall"}},
	)

	res := p.Validate(context.Background(), spec)
	if !res.Valid {
		t.Fatalf("errors: %v", res.Errors)
	}

	sum := 0
	for _, a := range res.Plan.Actions {
		seen := map[string]bool{}
		for _, id := range a.ResolvedEntityIDs {
			if seen[id] {
				t.Errorf("duplicate entity %s within action %s", id, a.ID)
			}
			seen[id] = true
		}
		sum += len(a.ResolvedEntityIDs)
	}
	if res.Plan.EntityCount() != sum {
		t.Errorf("EntityCount() = %d, want %d", res.Plan.EntityCount(), sum)
	}
}

func TestUnknownSelectorWarnsAndEmptyTargetFails(t *testing.T) {
	p := NewPipeline(PipelineConfig{Graph: newMockGraph()})
	spec := testSpec(Action{
		ID:         "a1",
		Capability: "light.turn_on",
		Target:     Target{"zone": "upstairs"},
	})

	res := p.Validate(context.Background(), spec)
	if res.Valid {
		t.Fatal("expected invalid")
	}
	if !hasWarning(res, `unknown target selector "zone"`) {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if !hasError(res, "resolved to no entities") {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestUserSelectorWarns(t *testing.T) {
	p := NewPipeline(PipelineConfig{Graph: newMockGraph()})
	spec := testSpec(Action{
		ID:         "a1",
		Capability: "light.turn_on",
		Target:     Target{"user": "alice"},
	})

	res := p.Validate(context.Background(), spec)
	if res.Valid {
		t.Fatal("expected invalid: user targets resolve to nothing")
	}
	if !hasWarning(res, "user targets are not resolvable") {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestMissingRequiredField(t *testing.T) {
	p := NewPipeline(PipelineConfig{Graph: newMockGraph()})
	spec := testSpec(Action{
		ID:         "a1",
		Capability: "climate.set_temperature",
		Target:     Target{"entity_id": "light.kitchen"},
	})

	res := p.Validate(context.Background(), spec)
	if !hasError(res, `missing required field "temperature"`) {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestFieldRangeViolation(t *testing.T) {
	p := NewPipeline(PipelineConfig{Graph: newMockGraph()})
	spec := testSpec(Action{
		ID:         "a1",
		Capability: "light.turn_on",
		Target:     Target{"entity_id": "light.kitchen"},
		Data:       map[string]any{"brightness": float64(300)},
	})

	res := p.Validate(context.Background(), spec)
	if !hasError(res, "above maximum") {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestBrightnessRequiresFeatureSupport(t *testing.T) {
	p := NewPipeline(PipelineConfig{Graph: newMockGraph()})
	// light.hall has no brightness feature bit.
	spec := testSpec(Action{
		ID:         "a1",
		Capability: "light.turn_on",
		Target:     Target{"entity_id": "light.hall"},
		Data:       map[string]any{"brightness": float64(50)},
	})

	res := p.Validate(context.Background(), spec)
	if !hasError(res, `does not support "brightness"`) {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestUnknownCapability(t *testing.T) {
	p := NewPipeline(PipelineConfig{Graph: newMockGraph()})
	spec := testSpec(Action{
		ID:         "a1",
		Capability: "light.levitate",
		Target:     Target{"entity_id": "light.kitchen"},
	})

	res := p.Validate(context.Background(), spec)
	if !hasError(res, "unknown capability") {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestErrorsAggregateAcrossStages(t *testing.T) {
	p := NewPipeline(PipelineConfig{Graph: newMockGraph()})
	spec := testSpec(
		Action{ID: "a1", Capability: "light.levitate", Target: Target{"entity_id": "light.kitchen"}},
		Action{ID: "a2", Capability: "climate.set_temperature", Target: Target{"entity_id": "light.hall"}},
	)

	res := p.Validate(context.Background(), spec)
	if len(res.Errors) < 2 {
		t.Errorf("expected errors from both actions, got %v", res.Errors)
	}
}

func TestQuietHoursWraparound(t *testing.T) {
	tests := []struct {
		clock   string
		blocked bool
	}{
		{"23:00:00", true},
		{"02:00:00", true},
		{"12:00:00", false},
	}

	for _, tt := range tests {
		p := NewPipeline(PipelineConfig{Graph: newMockGraph()})
		now, _ := time.Parse("15:04:05", tt.clock)
		p.now = func() time.Time { return now }

		spec := testSpec(Action{
			ID:         "a1",
			Capability: "light.turn_on",
			Target:     Target{"entity_id": "light.kitchen"},
		})
		spec.Policy.QuietHours = []TimeCondition{
			{Kind: TimeNotInRange, Start: "22:00:00", End: "06:00:00"},
		}

		res := p.Validate(context.Background(), spec)
		if got := hasError(res, "quiet hours"); got != tt.blocked {
			t.Errorf("at %s: blocked = %v, want %v (errors %v)", tt.clock, got, tt.blocked, res.Errors)
		}
	}
}

func TestInRangeCondition(t *testing.T) {
	p := NewPipeline(PipelineConfig{Graph: newMockGraph()})
	now, _ := time.Parse("15:04:05", "07:30:00")
	p.now = func() time.Time { return now }

	spec := testSpec(Action{
		ID:         "a1",
		Capability: "light.turn_on",
		Target:     Target{"entity_id": "light.kitchen"},
	})
	spec.Policy.QuietHours = []TimeCondition{
		{Kind: TimeInRange, Start: "08:00:00", End: "18:00:00"},
	}

	res := p.Validate(context.Background(), spec)
	if !hasError(res, "outside allowed window") {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestUnstablePlatformBlocksLowRiskOnly(t *testing.T) {
	unstable := func() bool { return true }

	lowSpec := testSpec(Action{
		ID: "a1", Capability: "light.turn_on", Target: Target{"entity_id": "light.kitchen"},
	})

	p := NewPipeline(PipelineConfig{Graph: newMockGraph(), Unstable: unstable})
	if res := p.Validate(context.Background(), lowSpec); !hasError(res, "unstable") {
		t.Errorf("low risk should be blocked, errors = %v", res.Errors)
	}

	optOut := testSpec(Action{
		ID: "a1", Capability: "light.turn_on", Target: Target{"entity_id": "light.kitchen"},
	})
	optOut.Policy.AllowWhenUnstable = true
	if res := p.Validate(context.Background(), optOut); hasError(res, "unstable") {
		t.Errorf("opt-out should pass, errors = %v", res.Errors)
	}

	high := testSpec(Action{
		ID: "a1", Capability: "light.turn_on", Target: Target{"entity_id": "light.kitchen"},
	})
	high.Policy.Risk = RiskHigh
	pf := &mockPreflight{states: map[string]string{"light.kitchen": "off"}}
	p = NewPipeline(PipelineConfig{Graph: newMockGraph(), Unstable: unstable, Preflight: pf})
	if res := p.Validate(context.Background(), high); hasError(res, "unstable") {
		t.Errorf("high risk should bypass, errors = %v", res.Errors)
	}
}

func TestManualOverrideVetoAndExpiry(t *testing.T) {
	overrides := NewOverrideStore()
	base := time.Now()
	now := base
	overrides.now = func() time.Time { return now }

	p := NewPipeline(PipelineConfig{Graph: newMockGraph(), Overrides: overrides})
	spec := testSpec(Action{
		ID: "a1", Capability: "light.turn_on", Target: Target{"entity_id": "light.kitchen"},
	})

	overrides.Set("light.kitchen", ScopeAll, "", time.Minute)
	if res := p.Validate(context.Background(), spec); !hasError(res, "manual override") {
		t.Errorf("errors = %v", res.Errors)
	}

	// Past the TTL the override no longer vetoes.
	now = base.Add(2 * time.Minute)
	if res := p.Validate(context.Background(), spec); hasError(res, "manual override") {
		t.Errorf("expired override should not veto, errors = %v", res.Errors)
	}
}

func TestPreflightFailsOnUnavailableEntity(t *testing.T) {
	pf := &mockPreflight{states: map[string]string{
		"light.lounge": "on",
		"light.corner": "unavailable",
	}}
	p := NewPipeline(PipelineConfig{Graph: newMockGraph(), Preflight: pf})

	spec := testSpec(Action{
		ID: "a1", Capability: "light.turn_off", Target: Target{"area": "living_room"},
	})
	spec.Policy.Risk = RiskHigh

	res := p.Validate(context.Background(), spec)
	if !hasError(res, "light.corner is unavailable") {
		t.Errorf("errors = %v", res.Errors)
	}
	if pf.calls != 2 {
		t.Errorf("preflight calls = %d, want 2", pf.calls)
	}
}

func TestPreflightRequiredButMissingClient(t *testing.T) {
	p := NewPipeline(PipelineConfig{Graph: newMockGraph()})
	spec := testSpec(Action{
		ID: "a1", Capability: "light.turn_on", Target: Target{"entity_id": "light.kitchen"},
	})
	spec.Policy.RequirePreflight = true

	res := p.Validate(context.Background(), spec)
	if !hasError(res, "preflight required") {
		t.Errorf("errors = %v", res.Errors)
	}
}
