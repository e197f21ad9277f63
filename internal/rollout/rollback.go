package rollout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emberhaus/ember-core/internal/execution"
	"github.com/emberhaus/ember-core/internal/specstore"
)

// RollbackConfig tunes the error budget.
type RollbackConfig struct {
	// ErrorBudget is the number of errors tolerated inside the window.
	ErrorBudget int
	// Window is the sliding time window the budget covers.
	Window time.Duration
}

// RollbackManager tracks a sliding-window error budget per (home, spec)
// and deploys the last-known-good version once a budget is exhausted.
type RollbackManager struct {
	mu      sync.Mutex
	cfg     RollbackConfig
	errors  map[string][]time.Time // key homeID+"/"+specID
	repo    specstore.Repository
	logger  Logger
	now     func() time.Time
}

func NewRollbackManager(cfg RollbackConfig, repo specstore.Repository) *RollbackManager {
	if cfg.ErrorBudget <= 0 {
		cfg.ErrorBudget = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &RollbackManager{
		cfg:    cfg,
		errors: make(map[string][]time.Time),
		repo:   repo,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger replaces the no-op logger.
func (m *RollbackManager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

func budgetKey(homeID, specID string) string {
	return homeID + "/" + specID
}

// RecordError charges one error against the (home, spec) budget.
func (m *RollbackManager) RecordError(specID, homeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := budgetKey(homeID, specID)
	m.errors[key] = append(m.pruneLocked(key), m.now())
}

// ObserveExecution charges failed runs against the budget.
func (m *RollbackManager) ObserveExecution(res *execution.ExecutionResult) {
	if res.Status == execution.RunFailed || res.Status == execution.RunPartial {
		m.RecordError(res.SpecID, res.HomeID)
	}
}

// CheckErrorBudgetBreach reports whether the budget is exhausted.
func (m *RollbackManager) CheckErrorBudgetBreach(specID, homeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := budgetKey(homeID, specID)
	recent := m.pruneLocked(key)
	m.errors[key] = recent
	return len(recent) >= m.cfg.ErrorBudget
}

// ErrorCount returns the errors currently inside the window.
func (m *RollbackManager) ErrorCount(specID, homeID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := budgetKey(homeID, specID)
	recent := m.pruneLocked(key)
	m.errors[key] = recent
	return len(recent)
}

// Rollback deploys the last-known-good version and resets the budget.
// It refuses to run while the budget is intact so an accidental call
// cannot flip a healthy deployment.
func (m *RollbackManager) Rollback(ctx context.Context, specID, homeID string) (*specstore.SpecVersion, error) {
	if !m.CheckErrorBudgetBreach(specID, homeID) {
		return nil, fmt.Errorf("%w: %s", ErrBudgetIntact, specID)
	}
	return m.ForceRollback(ctx, specID, homeID)
}

// ForceRollback deploys the last-known-good version unconditionally.
// Used by operators and by kill-switch driven recovery.
func (m *RollbackManager) ForceRollback(ctx context.Context, specID, homeID string) (*specstore.SpecVersion, error) {
	target, err := m.repo.LastKnownGood(ctx, specID, homeID)
	if err != nil {
		return nil, fmt.Errorf("find rollback target: %w", err)
	}

	deployed, err := m.repo.Deploy(ctx, specID, homeID, target.Version)
	if err != nil {
		return nil, fmt.Errorf("deploy rollback target: %w", err)
	}

	m.mu.Lock()
	delete(m.errors, budgetKey(homeID, specID))
	m.mu.Unlock()

	m.logger.Warn("rolled back to last known good",
		"spec", specID, "home", homeID, "version", deployed.Version)
	return deployed, nil
}

// pruneLocked drops entries older than the window. Caller holds the lock.
func (m *RollbackManager) pruneLocked(key string) []time.Time {
	cutoff := m.now().Add(-m.cfg.Window)
	entries := m.errors[key]
	out := entries[:0]
	for _, t := range entries {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
