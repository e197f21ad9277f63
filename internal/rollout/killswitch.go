package rollout

import (
	"fmt"
	"sync"

	"github.com/emberhaus/ember-core/internal/validation"
)

// Pause scopes.
const (
	ScopeGlobal = "global"
	ScopeHome   = "home"
	ScopeSpec   = "spec"
)

// Revoker is called when a pause lands, so already-queued-but-not-yet-run
// work for the scope can be cancelled. target is empty for global pauses.
type Revoker func(scope, target string)

// KillSwitch pauses execution at three independent scopes. It is the
// single gate the execution engine consults before running anything;
// high-risk specs always pass.
type KillSwitch struct {
	mu           sync.RWMutex
	globalPause  bool
	globalReason string
	homes        map[string]string // home id -> reason
	specs        map[string]string // spec id -> reason
	revoker      Revoker
	logger       Logger
}

func NewKillSwitch() *KillSwitch {
	return &KillSwitch{
		homes:  make(map[string]string),
		specs:  make(map[string]string),
		logger: noopLogger{},
	}
}

// SetLogger replaces the no-op logger.
func (k *KillSwitch) SetLogger(logger Logger) {
	if logger != nil {
		k.logger = logger
	}
}

// SetRevoker installs the queued-work revocation callback.
func (k *KillSwitch) SetRevoker(fn Revoker) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.revoker = fn
}

// PauseGlobal halts all non-high-risk execution.
func (k *KillSwitch) PauseGlobal(reason string) {
	k.mu.Lock()
	k.globalPause = true
	k.globalReason = reason
	fn := k.revoker
	k.mu.Unlock()

	k.logger.Warn("global kill switch engaged", "reason", reason)
	if fn != nil {
		fn(ScopeGlobal, "")
	}
}

// ResumeGlobal lifts the global pause.
func (k *KillSwitch) ResumeGlobal() {
	k.mu.Lock()
	k.globalPause = false
	k.globalReason = ""
	k.mu.Unlock()
	k.logger.Info("global kill switch released")
}

// PauseHome halts non-high-risk execution for one home.
func (k *KillSwitch) PauseHome(homeID, reason string) {
	k.mu.Lock()
	k.homes[homeID] = reason
	fn := k.revoker
	k.mu.Unlock()

	k.logger.Warn("home kill switch engaged", "home", homeID, "reason", reason)
	if fn != nil {
		fn(ScopeHome, homeID)
	}
}

// ResumeHome lifts a home pause.
func (k *KillSwitch) ResumeHome(homeID string) {
	k.mu.Lock()
	delete(k.homes, homeID)
	k.mu.Unlock()
	k.logger.Info("home kill switch released", "home", homeID)
}

// PauseSpec halts non-high-risk execution of one spec.
func (k *KillSwitch) PauseSpec(specID, reason string) {
	k.mu.Lock()
	k.specs[specID] = reason
	fn := k.revoker
	k.mu.Unlock()

	k.logger.Warn("spec kill switch engaged", "spec", specID, "reason", reason)
	if fn != nil {
		fn(ScopeSpec, specID)
	}
}

// ResumeSpec lifts a spec pause.
func (k *KillSwitch) ResumeSpec(specID string) {
	k.mu.Lock()
	delete(k.specs, specID)
	k.mu.Unlock()
	k.logger.Info("spec kill switch released", "spec", specID)
}

// IsAllowed reports whether a spec may execute in a home, with the
// blocking reason when it may not. High-risk specs always pass; safety
// automations must keep working while everything else is paused.
func (k *KillSwitch) IsAllowed(specID, homeID string, risk validation.RiskLevel) (bool, string) {
	if risk == validation.RiskHigh {
		return true, ""
	}

	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.globalPause {
		return false, fmt.Sprintf("global pause: %s", k.globalReason)
	}
	if reason, ok := k.homes[homeID]; ok {
		return false, fmt.Sprintf("home %s paused: %s", homeID, reason)
	}
	if reason, ok := k.specs[specID]; ok {
		return false, fmt.Sprintf("spec %s paused: %s", specID, reason)
	}
	return true, ""
}

// Paused lists the active pauses per scope for status reporting.
func (k *KillSwitch) Paused() (global bool, homes, specs map[string]string) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	homes = make(map[string]string, len(k.homes))
	for id, reason := range k.homes {
		homes[id] = reason
	}
	specs = make(map[string]string, len(k.specs))
	for id, reason := range k.specs {
		specs[id] = reason
	}
	return k.globalPause, homes, specs
}

// HomeGate binds the kill switch to one home, matching the gate shape
// the execution engine consults.
type HomeGate struct {
	Switch *KillSwitch
	HomeID string
}

func (g HomeGate) IsAllowed(specID string, risk validation.RiskLevel) (bool, string) {
	return g.Switch.IsAllowed(specID, g.HomeID, risk)
}
