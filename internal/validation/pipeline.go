package validation

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/emberhaus/ember-core/internal/graph"
	"github.com/emberhaus/ember-core/internal/platform"
)

// CapabilitySource is the slice of the capability graph the pipeline needs.
type CapabilitySource interface {
	Entity(id string) (graph.Entity, error)
	EntitiesByArea(areaID string) []graph.Entity
	EntitiesByDeviceClass(class string) []graph.Entity
	Capability(capability string) (graph.Service, error)
	ServiceAvailable(domain, name string) bool
}

// PreflightChecker performs a live availability round-trip per entity.
type PreflightChecker interface {
	State(ctx context.Context, entityID string) (platform.EntityState, error)
}

// Pipeline turns a spec into an execution plan or a deterministic set
// of reasons it cannot run. Stages do not short-circuit except for
// unrecoverable target resolution, so one pass reports every problem.
type Pipeline struct {
	graph     CapabilitySource
	preflight PreflightChecker
	overrides *OverrideStore
	logger    Logger
	now       func() time.Time

	unstable func() bool
}

// PipelineConfig wires the pipeline's collaborators. Preflight may be
// nil, in which case preflight-requiring specs fail validation.
type PipelineConfig struct {
	Graph     CapabilitySource
	Preflight PreflightChecker
	Overrides *OverrideStore
	// Unstable reports whether the remote platform is currently flagged
	// unstable. Nil means never unstable.
	Unstable func() bool
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	p := &Pipeline{
		graph:     cfg.Graph,
		preflight: cfg.Preflight,
		overrides: cfg.Overrides,
		logger:    noopLogger{},
		now:       time.Now,
		unstable:  cfg.Unstable,
	}
	if p.overrides == nil {
		p.overrides = NewOverrideStore()
	}
	if p.unstable == nil {
		p.unstable = func() bool { return false }
	}
	return p
}

// SetLogger replaces the no-op logger.
func (p *Pipeline) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Overrides exposes the manual override store for collaborators.
func (p *Pipeline) Overrides() *OverrideStore {
	return p.overrides
}

// Validate runs all stages and aggregates their findings.
func (p *Pipeline) Validate(ctx context.Context, spec *AutomationSpec) Result {
	res := Result{}

	if spec == nil {
		res.errorf("spec is nil")
		return res
	}
	if len(spec.Actions) == 0 {
		res.errorf("spec %s has no actions", spec.ID)
		return res
	}

	plan := &ExecutionPlan{
		SpecID:      spec.ID,
		SpecVersion: spec.Version,
		Actions:     make([]PlannedAction, 0, len(spec.Actions)),
	}

	for _, action := range spec.Actions {
		resolved := p.resolveTarget(action, &res)
		plan.Actions = append(plan.Actions, PlannedAction{
			Action:            action,
			ResolvedEntityIDs: resolved,
		})
	}

	for _, pa := range plan.Actions {
		p.validateService(pa, &res)
	}

	p.validatePolicy(spec, plan, &res)

	risk := ParseRiskLevel(string(spec.Policy.Risk))
	if spec.Policy.RequirePreflight || risk == RiskHigh {
		p.runPreflight(ctx, plan, &res)
	}

	res.Valid = len(res.Errors) == 0
	if res.Valid {
		res.Plan = plan
	}
	return res
}

// resolveTarget expands one action's selector to a deduplicated,
// order-preserving entity id list. Unknown selector keys and the
// unimplemented user selector resolve to nothing with a warning.
func (p *Pipeline) resolveTarget(action Action, res *Result) []string {
	var out []string
	seen := make(map[string]bool)

	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	if v, ok := action.Target["entity_id"]; ok {
		for _, id := range stringList(v) {
			add(id)
		}
	}
	if v, ok := action.Target["area"]; ok {
		for _, area := range stringList(v) {
			for _, e := range p.graph.EntitiesByArea(area) {
				add(e.ID)
			}
		}
	}
	if v, ok := action.Target["device_class"]; ok {
		for _, class := range stringList(v) {
			for _, e := range p.graph.EntitiesByDeviceClass(class) {
				add(e.ID)
			}
		}
	}
	if _, ok := action.Target["user"]; ok {
		// Needs an entity-ownership source that does not exist yet.
		res.warnf("action %s: user targets are not resolvable yet", action.ID)
	}

	for _, key := range unknownTargetKeys(action.Target) {
		p.logger.Warn("unknown target selector", "action", action.ID, "selector", key)
		res.warnf("action %s: unknown target selector %q", action.ID, key)
	}

	if len(out) == 0 {
		res.errorf("action %s: target resolved to no entities", action.ID)
	}
	return out
}

// validateService checks capability existence, availability, required
// fields, payload shape and per-entity feature support for one action.
func (p *Pipeline) validateService(pa PlannedAction, res *Result) {
	svc, err := p.graph.Capability(pa.Capability)
	if err != nil {
		switch {
		case errors.Is(err, graph.ErrInvalidCapability):
			res.errorf("action %s: malformed capability %q", pa.ID, pa.Capability)
		default:
			res.errorf("action %s: unknown capability %q", pa.ID, pa.Capability)
		}
		return
	}
	if !p.graph.ServiceAvailable(svc.Domain, svc.Name) {
		res.errorf("action %s: capability %q is not currently available", pa.ID, pa.Capability)
	}

	for _, field := range svc.RequiredFields {
		if _, ok := pa.Data[field]; !ok {
			res.errorf("action %s: missing required field %q", pa.ID, field)
		}
	}

	for name, value := range pa.Data {
		def, ok := svc.Fields[name]
		if !ok {
			continue
		}
		schema, checkable := schemaForField(def)
		if !checkable {
			continue
		}
		if err := checkField(name, schema, value); err != nil {
			res.errorf("action %s: %v", pa.ID, err)
		}
	}

	p.checkFeatureSupport(pa, svc, res)
}

// featureRequirements maps payload fields to the feature bit an entity
// must advertise before the field can be honored. Coarse by design;
// only the common domains are covered.
var featureRequirements = map[string]map[string]int64{
	"light": {
		"brightness": 1,
		"color_temp": 2,
		"effect":     4,
		"transition": 32,
	},
	"cover": {
		"position":      4,
		"tilt_position": 128,
	},
	"fan": {
		"percentage": 1,
	},
}

func (p *Pipeline) checkFeatureSupport(pa PlannedAction, svc graph.Service, res *Result) {
	reqs := featureRequirements[svc.Domain]
	if len(reqs) == 0 {
		return
	}

	for _, id := range pa.ResolvedEntityIDs {
		e, err := p.graph.Entity(id)
		if err != nil {
			res.errorf("action %s: entity %s is not in the capability graph", pa.ID, id)
			continue
		}
		for field, bit := range reqs {
			if _, present := pa.Data[field]; !present {
				continue
			}
			if e.SupportedFeatures&bit == 0 {
				res.errorf("action %s: entity %s does not support %q", pa.ID, id, field)
			}
		}
	}
}

// validatePolicy applies risk, quiet hours and manual overrides.
func (p *Pipeline) validatePolicy(spec *AutomationSpec, plan *ExecutionPlan, res *Result) {
	risk := ParseRiskLevel(string(spec.Policy.Risk))

	// High-risk specs run even during platform instability; everything
	// else is blocked unless the policy opts out.
	if risk != RiskHigh && p.unstable() && !spec.Policy.AllowWhenUnstable {
		res.errorf("spec %s: platform is flagged unstable", spec.ID)
	}

	now := p.now()
	for _, cond := range spec.Policy.QuietHours {
		if err := checkTimeCondition(cond, now); err != nil {
			res.errorf("spec %s: %v", spec.ID, err)
		}
	}

	for _, pa := range plan.Actions {
		for _, id := range p.overrides.Blocking(pa.ResolvedEntityIDs) {
			res.errorf("action %s: entity %s is under a manual override", pa.ID, id)
		}
	}
}

// runPreflight round-trips each resolved entity against the live platform.
func (p *Pipeline) runPreflight(ctx context.Context, plan *ExecutionPlan, res *Result) {
	if p.preflight == nil {
		res.errorf("preflight required but no platform client is configured")
		return
	}

	checked := make(map[string]bool)
	for _, pa := range plan.Actions {
		for _, id := range pa.ResolvedEntityIDs {
			if checked[id] {
				continue
			}
			checked[id] = true

			st, err := p.preflight.State(ctx, id)
			if err != nil {
				res.errorf("preflight: entity %s: %v", id, err)
				continue
			}
			if st.State == "unavailable" {
				res.errorf("preflight: entity %s is unavailable", id)
			}
		}
	}
}

// stringList accepts a scalar string or a list of strings.
func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

var knownTargetKeys = map[string]bool{
	"entity_id":    true,
	"area":         true,
	"device_class": true,
	"user":         true,
}

func unknownTargetKeys(t Target) []string {
	var keys []string
	for k := range t {
		if !knownTargetKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
