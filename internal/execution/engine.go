package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/emberhaus/ember-core/internal/graph"
	"github.com/emberhaus/ember-core/internal/platform"
	"github.com/emberhaus/ember-core/internal/validation"
)

// Logger defines the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ServiceCaller is the slice of the REST client the engine needs.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// Gate is consulted once per run before any action executes. The kill
// switch implements it; a nil gate allows everything.
type Gate interface {
	IsAllowed(specID string, risk validation.RiskLevel) (bool, string)
}

// Observer receives every completed execution result. Rollout health
// tracking, the event bus and the metrics writer all attach here.
type Observer interface {
	ObserveExecution(res *ExecutionResult)
}

// AuditStore persists execution records for later explanation.
type AuditStore interface {
	RecordExecution(ctx context.Context, res *ExecutionResult) error
}

// Config tunes the engine.
type Config struct {
	HomeID              string
	MaxRetries          int
	RetryInitialDelay   time.Duration
	RetryMaxDelay       time.Duration
	IdempotencyTTL      time.Duration
	ConfirmationTimeout time.Duration
	MaxParallel         int
	Breaker             BreakerConfig
}

// Engine executes validated plans against the remote platform with
// idempotency, bounded retry, circuit breaking and state-change
// confirmation. One engine per home; the idempotency store and breaker
// are engine-scoped.
type Engine struct {
	cfg     Config
	caller  ServiceCaller
	stream  EventStream
	gate    Gate
	idem    *IdempotencyStore
	breaker *CircuitBreaker
	audit   AuditStore
	logger  Logger

	obsMu     sync.RWMutex
	observers []Observer
}

// New creates an engine. stream, gate and audit may be nil; without a
// stream, confirmation is skipped and reported as not confirmed.
func New(cfg Config, caller ServiceCaller, stream EventStream) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryInitialDelay <= 0 {
		cfg.RetryInitialDelay = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 5 * time.Minute
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 10 * time.Second
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	return &Engine{
		cfg:     cfg,
		caller:  caller,
		stream:  stream,
		idem:    NewIdempotencyStore(cfg.IdempotencyTTL),
		breaker: NewCircuitBreaker(cfg.Breaker),
		logger:  noopLogger{},
	}
}

// SetLogger replaces the no-op logger.
func (e *Engine) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetGate installs the kill-switch gate.
func (e *Engine) SetGate(gate Gate) {
	e.gate = gate
}

// SetAuditStore installs the execution audit store.
func (e *Engine) SetAuditStore(store AuditStore) {
	e.audit = store
}

// AddObserver attaches a result observer. Observers are invoked
// synchronously after the run completes, in registration order.
func (e *Engine) AddObserver(obs Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, obs)
}

// Breaker exposes the circuit breaker for health reporting.
func (e *Engine) Breaker() *CircuitBreaker {
	return e.breaker
}

// Execute runs a validated plan. correlationID threads the whole
// trigger-plan-execute-confirm flow; an empty one is generated.
func (e *Engine) Execute(ctx context.Context, plan *validation.ExecutionPlan, spec *validation.AutomationSpec, correlationID string) (*ExecutionResult, error) {
	if plan == nil {
		return nil, ErrNilPlan
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	res := &ExecutionResult{
		CorrelationID: correlationID,
		SpecID:        plan.SpecID,
		SpecVersion:   plan.SpecVersion,
		HomeID:        e.cfg.HomeID,
		StartedAt:     time.Now(),
	}

	risk := validation.RiskLow
	if spec != nil {
		risk = validation.ParseRiskLevel(string(spec.Policy.Risk))
	}

	if e.gate != nil {
		if allowed, reason := e.gate.IsAllowed(plan.SpecID, risk); !allowed {
			res.Status = RunBlocked
			res.BlockReason = reason
			res.CompletedAt = time.Now()
			e.logger.Warn("execution blocked",
				"correlation_id", correlationID, "spec", plan.SpecID, "reason", reason)
			e.finish(ctx, res)
			return res, fmt.Errorf("%w: %s", ErrExecutionBlocked, reason)
		}
	}

	e.idem.Prune()

	parallel := spec != nil && spec.Policy.ParallelActions && risk != validation.RiskHigh
	if parallel {
		e.runParallel(ctx, plan, spec, risk, res)
	} else {
		e.runSequential(ctx, plan, spec, risk, res)
	}

	res.CompletedAt = time.Now()
	res.summarize()

	ok, skipped, failed, aborted := res.Counts()
	e.logger.Info("execution finished",
		"correlation_id", correlationID, "spec", plan.SpecID,
		"status", res.Status, "ok", ok, "skipped", skipped,
		"failed", failed, "aborted", aborted,
		"duration", res.Duration())

	e.finish(ctx, res)
	return res, nil
}

// runSequential executes actions in array order. A high-risk spec
// aborts the remaining sequence on the first failure; lower risk
// continues so the caller sees every outcome.
func (e *Engine) runSequential(ctx context.Context, plan *validation.ExecutionPlan, spec *validation.AutomationSpec, risk validation.RiskLevel, res *ExecutionResult) {
	aborted := false
	for _, action := range plan.Actions {
		for _, entityID := range action.ResolvedEntityIDs {
			if aborted {
				res.Results = append(res.Results, ActionResult{
					ActionID:   action.ID,
					EntityID:   entityID,
					Capability: action.Capability,
					Status:     StatusAborted,
				})
				continue
			}

			ar := e.executeOne(ctx, action, entityID, spec, risk)
			res.Results = append(res.Results, ar)
			if ar.Status == StatusFailed && risk == validation.RiskHigh {
				aborted = true
				e.logger.Warn("high risk run aborting after failure",
					"correlation_id", res.CorrelationID, "action", action.ID, "entity", entityID)
			}
		}
	}
}

// runParallel executes up to MaxParallel actions concurrently. Entity
// order within one action is preserved; ordering across actions is not.
func (e *Engine) runParallel(ctx context.Context, plan *validation.ExecutionPlan, spec *validation.AutomationSpec, risk validation.RiskLevel, res *ExecutionResult) {
	sem := make(chan struct{}, e.cfg.MaxParallel)
	results := make([][]ActionResult, len(plan.Actions))

	var wg sync.WaitGroup
	for i, action := range plan.Actions {
		wg.Add(1)
		go func(i int, action validation.PlannedAction) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			out := make([]ActionResult, 0, len(action.ResolvedEntityIDs))
			for _, entityID := range action.ResolvedEntityIDs {
				out = append(out, e.executeOne(ctx, action, entityID, spec, risk))
			}
			results[i] = out
		}(i, action)
	}
	wg.Wait()

	for _, out := range results {
		res.Results = append(res.Results, out...)
	}
}

// executeOne drives the state machine for one action-entity pair:
// pending -> idempotent-skip | in-flight -> retrying* -> confirmed | failed.
func (e *Engine) executeOne(ctx context.Context, action validation.PlannedAction, entityID string, spec *validation.AutomationSpec, risk validation.RiskLevel) ActionResult {
	started := time.Now()
	ar := ActionResult{
		ActionID:   action.ID,
		EntityID:   entityID,
		Capability: action.Capability,
	}

	key := IdempotencyKey(action.Capability, entityID, action.Data)
	if e.idem.Seen(key) {
		ar.Status = StatusSkipped
		ar.Duration = time.Since(started)
		e.logger.Debug("idempotent skip", "entity", entityID, "capability", action.Capability)
		return ar
	}

	domain, service, err := graph.SplitCapability(action.Capability)
	if err != nil {
		ar.Status = StatusFailed
		ar.Error = err.Error()
		ar.Duration = time.Since(started)
		return ar
	}

	data := make(map[string]any, len(action.Data)+1)
	for k, v := range action.Data {
		data[k] = v
	}
	data["entity_id"] = entityID

	attempts, err := e.callWithRetry(ctx, domain, service, data)
	ar.Attempts = attempts

	if err != nil {
		ar.Status = StatusFailed
		ar.Error = err.Error()
		ar.Duration = time.Since(started)
		return ar
	}
	// Recorded only after the call succeeded, so a failed action can be
	// retried by a later run.
	e.idem.Record(key)
	ar.Status = StatusOK

	confirm := spec != nil && (spec.Policy.RequireConfirmation || risk != validation.RiskLow)
	if confirm && e.stream != nil {
		timeout := confirmationTimeout(e.cfg.ConfirmationTimeout, risk)
		outcome := awaitConfirmation(ctx, e.stream, entityID, service, timeout)
		ar.Confirm = &outcome
		if outcome.TimedOut {
			e.logger.Warn("confirmation timed out",
				"entity", entityID, "capability", action.Capability, "timeout", timeout)
		}
	}

	ar.Duration = time.Since(started)
	return ar
}

// callWithRetry sends one service call through the circuit breaker with
// exponential backoff on transient errors. Permanent errors and an open
// breaker short-circuit immediately.
func (e *Engine) callWithRetry(ctx context.Context, domain, service string, data map[string]any) (int, error) {
	attempts := 0

	operation := func() (struct{}, error) {
		if !e.breaker.AllowRequest() {
			return struct{}{}, backoff.Permanent(ErrCircuitOpen)
		}
		attempts++

		err := e.caller.CallService(ctx, domain, service, data)
		if err == nil {
			e.breaker.RecordSuccess()
			return struct{}{}, nil
		}
		e.breaker.RecordFailure()

		classified := platform.ClassifyError("call_service", err)
		if platform.IsPermanent(classified) {
			return struct{}{}, backoff.Permanent(classified)
		}
		e.logger.Debug("transient call failure, will retry",
			"domain", domain, "service", service, "attempt", attempts, "error", err)
		return struct{}{}, classified
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryInitialDelay
	bo.MaxInterval = e.cfg.RetryMaxDelay

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(e.cfg.MaxRetries)))
	return attempts, err
}

// finish persists the audit record and fans the result out to observers.
func (e *Engine) finish(ctx context.Context, res *ExecutionResult) {
	if e.audit != nil {
		if err := e.audit.RecordExecution(ctx, res); err != nil {
			e.logger.Error("audit record failed",
				"correlation_id", res.CorrelationID, "error", err)
		}
	}

	e.obsMu.RLock()
	observers := make([]Observer, len(e.observers))
	copy(observers, e.observers)
	e.obsMu.RUnlock()

	for _, obs := range observers {
		obs.ObserveExecution(res)
	}
}
