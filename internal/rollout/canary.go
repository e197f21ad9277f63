package rollout

import (
	"fmt"
	"sync"
	"time"

	"github.com/emberhaus/ember-core/internal/execution"
)

// HealthMetrics are the running counters for one canary.
type HealthMetrics struct {
	Executions   int     `json:"executions"`
	Failures     int     `json:"failures"`
	ErrorRate    float64 `json:"error_rate"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`

	totalLatencyMS float64
}

// CanaryState tracks one spec version's partial rollout.
type CanaryState struct {
	SpecID     string        `json:"spec_id"`
	Version    string        `json:"version"`
	Cohort     string        `json:"cohort"`
	Percentage int           `json:"percentage"`
	Metrics    HealthMetrics `json:"metrics"`
	Complete   bool          `json:"complete"`
	StartedAt  time.Time     `json:"started_at"`
}

// GateConfig sets the promotion thresholds.
type GateConfig struct {
	// MinExecutions is the sample size required before gate verdicts
	// carry weight; promotion is held below it.
	MinExecutions int
	// MaxErrorRate is the highest tolerated failure fraction (0..1).
	MaxErrorRate float64
	// MaxAvgLatencyMS is the highest tolerated mean run duration.
	MaxAvgLatencyMS float64
}

// GateReport is one health-gate evaluation.
type GateReport struct {
	Passes           bool     `json:"passes"`
	SufficientSample bool     `json:"sufficient_sample"`
	Reasons          []string `json:"reasons,omitempty"`
}

// CanaryManager tracks partial rollouts and gates their promotion on
// live health metrics fed from execution results.
type CanaryManager struct {
	mu       sync.Mutex
	cfg      GateConfig
	canaries map[string]*CanaryState // by spec id
	logger   Logger
}

func NewCanaryManager(cfg GateConfig) *CanaryManager {
	if cfg.MinExecutions <= 0 {
		cfg.MinExecutions = 10
	}
	if cfg.MaxErrorRate <= 0 {
		cfg.MaxErrorRate = 0.1
	}
	if cfg.MaxAvgLatencyMS <= 0 {
		cfg.MaxAvgLatencyMS = 5000
	}
	return &CanaryManager{
		cfg:      cfg,
		canaries: make(map[string]*CanaryState),
		logger:   noopLogger{},
	}
}

// SetLogger replaces the no-op logger.
func (m *CanaryManager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// StartCanary begins tracking a new version at an initial percentage.
func (m *CanaryManager) StartCanary(specID, version, cohort string, percentage int) (*CanaryState, error) {
	if percentage <= 0 || percentage > 100 {
		return nil, fmt.Errorf("rollout: invalid percentage %d", percentage)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.canaries[specID]; ok && !existing.Complete {
		return nil, fmt.Errorf("%w: %s@%s", ErrCanaryExists, specID, existing.Version)
	}

	c := &CanaryState{
		SpecID:     specID,
		Version:    version,
		Cohort:     cohort,
		Percentage: percentage,
		StartedAt:  time.Now(),
	}
	m.canaries[specID] = c
	m.logger.Info("canary started",
		"spec", specID, "version", version, "cohort", cohort, "percentage", percentage)
	return snapshot(c), nil
}

// UpdateHealthMetrics feeds one execution outcome into the canary.
func (m *CanaryManager) UpdateHealthMetrics(specID string, failed bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.canaries[specID]
	if !ok || c.Complete {
		return
	}

	c.Metrics.Executions++
	if failed {
		c.Metrics.Failures++
	}
	c.Metrics.totalLatencyMS += float64(duration.Milliseconds())
	c.Metrics.ErrorRate = float64(c.Metrics.Failures) / float64(c.Metrics.Executions)
	c.Metrics.AvgLatencyMS = c.Metrics.totalLatencyMS / float64(c.Metrics.Executions)
}

// ObserveExecution adapts engine results into health updates.
func (m *CanaryManager) ObserveExecution(res *execution.ExecutionResult) {
	if res.Status == execution.RunBlocked {
		return
	}
	failed := res.Status == execution.RunFailed || res.Status == execution.RunPartial
	m.UpdateHealthMetrics(res.SpecID, failed, res.Duration())
}

// CheckHealthGates evaluates the canary's metrics against the
// thresholds. Below the minimum sample the gates pass vacuously; the
// small-sample hold is enforced by Promote, not here.
func (m *CanaryManager) CheckHealthGates(specID string) (GateReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.canaries[specID]
	if !ok {
		return GateReport{}, fmt.Errorf("%w: %s", ErrNoCanary, specID)
	}

	report := GateReport{Passes: true}
	if c.Metrics.Executions < m.cfg.MinExecutions {
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("insufficient sample: %d of %d executions", c.Metrics.Executions, m.cfg.MinExecutions))
		return report, nil
	}
	report.SufficientSample = true

	if c.Metrics.ErrorRate > m.cfg.MaxErrorRate {
		report.Passes = false
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("error rate %.3f exceeds %.3f", c.Metrics.ErrorRate, m.cfg.MaxErrorRate))
	}
	if c.Metrics.AvgLatencyMS > m.cfg.MaxAvgLatencyMS {
		report.Passes = false
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("avg latency %.0fms exceeds %.0fms", c.Metrics.AvgLatencyMS, m.cfg.MaxAvgLatencyMS))
	}
	return report, nil
}

// Promote raises the rollout percentage. It only succeeds once the
// sample is sufficient and every gate passes; reaching 100 marks the
// rollout complete.
func (m *CanaryManager) Promote(specID string, percentage int) (*CanaryState, error) {
	report, err := m.CheckHealthGates(specID)
	if err != nil {
		return nil, err
	}
	if !report.SufficientSample {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientSample, specID)
	}
	if !report.Passes {
		return nil, fmt.Errorf("%w: %v", ErrGatesFailed, report.Reasons)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.canaries[specID]
	if percentage <= c.Percentage || percentage > 100 {
		return nil, fmt.Errorf("rollout: promotion target %d must exceed current %d", percentage, c.Percentage)
	}

	c.Percentage = percentage
	if percentage == 100 {
		c.Complete = true
	}
	m.logger.Info("canary promoted",
		"spec", specID, "version", c.Version, "percentage", percentage, "complete", c.Complete)
	return snapshot(c), nil
}

// State returns a copy of the canary for a spec.
func (m *CanaryManager) State(specID string) (*CanaryState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.canaries[specID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCanary, specID)
	}
	return snapshot(c), nil
}

// Abandon drops canary tracking after a rollback.
func (m *CanaryManager) Abandon(specID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.canaries, specID)
}

func snapshot(c *CanaryState) *CanaryState {
	cp := *c
	return &cp
}
