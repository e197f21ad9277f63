package execution

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emberhaus/ember-core/internal/platform"
	"github.com/emberhaus/ember-core/internal/validation"
)

type serviceCall struct {
	domain  string
	service string
	data    map[string]any
}

// mockCaller scripts per-call outcomes: errs[i] is returned on call i,
// nil past the end.
type mockCaller struct {
	mu    sync.Mutex
	calls []serviceCall
	errs  []error
}

func (m *mockCaller) CallService(_ context.Context, domain, service string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.calls)
	m.calls = append(m.calls, serviceCall{domain: domain, service: service, data: data})
	if i < len(m.errs) {
		return m.errs[i]
	}
	return nil
}

func (m *mockCaller) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockStream captures subscriptions and lets the test inject events.
type mockStream struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]platform.EventHandler
}

func newMockStream() *mockStream {
	return &mockStream{handlers: map[int]platform.EventHandler{}}
}

func (m *mockStream) SubscribeEvents(_ string, handler platform.EventHandler) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.handlers[m.nextID] = handler
	return m.nextID, nil
}

func (m *mockStream) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, id)
}

func (m *mockStream) fireStateChange(entityID, newState string) {
	data, _ := json.Marshal(map[string]any{
		"entity_id": entityID,
		"new_state": map[string]any{"entity_id": entityID, "state": newState},
	})
	ev := platform.Event{EventType: "state_changed", Data: data}

	m.mu.Lock()
	handlers := make([]platform.EventHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func fastConfig() Config {
	return Config{
		HomeID:              "home-1",
		MaxRetries:          3,
		RetryInitialDelay:   time.Millisecond,
		RetryMaxDelay:       5 * time.Millisecond,
		IdempotencyTTL:      time.Minute,
		ConfirmationTimeout: 50 * time.Millisecond,
		Breaker:             BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Timeout: time.Second},
	}
}

func planFor(risk validation.RiskLevel, actions ...validation.PlannedAction) (*validation.ExecutionPlan, *validation.AutomationSpec) {
	plan := &validation.ExecutionPlan{SpecID: "spec-1", SpecVersion: "1.0.0", Actions: actions}
	spec := &validation.AutomationSpec{
		ID:      "spec-1",
		Version: "1.0.0",
		Policy:  validation.Policy{Risk: risk},
	}
	return plan, spec
}

func planned(id, capability string, entities ...string) validation.PlannedAction {
	return validation.PlannedAction{
		Action:            validation.Action{ID: id, Capability: capability},
		ResolvedEntityIDs: entities,
	}
}

func TestExecuteHappyPath(t *testing.T) {
	caller := &mockCaller{}
	e := New(fastConfig(), caller, nil)

	plan, spec := planFor(validation.RiskLow, planned("a1", "light.turn_on", "light.kitchen"))
	res, err := e.Execute(context.Background(), plan, spec, "corr-1")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Status != RunCompleted {
		t.Errorf("status = %s, want completed", res.Status)
	}
	if res.CorrelationID != "corr-1" {
		t.Errorf("correlation id = %s", res.CorrelationID)
	}
	if caller.callCount() != 1 {
		t.Errorf("remote calls = %d, want 1", caller.callCount())
	}
	if got := caller.calls[0].data["entity_id"]; got != "light.kitchen" {
		t.Errorf("entity_id in payload = %v", got)
	}
}

func TestExecuteIdempotentSkip(t *testing.T) {
	caller := &mockCaller{}
	e := New(fastConfig(), caller, nil)

	plan, spec := planFor(validation.RiskLow, planned("a1", "light.turn_on", "light.kitchen"))

	first, err := e.Execute(context.Background(), plan, spec, "")
	if err != nil {
		t.Fatalf("first Execute() error: %v", err)
	}
	second, err := e.Execute(context.Background(), plan, spec, "")
	if err != nil {
		t.Fatalf("second Execute() error: %v", err)
	}

	if caller.callCount() != 1 {
		t.Fatalf("remote calls = %d, want exactly 1", caller.callCount())
	}
	if first.Results[0].Status != StatusOK {
		t.Errorf("first status = %s", first.Results[0].Status)
	}
	if second.Results[0].Status != StatusSkipped {
		t.Errorf("second status = %s, want skipped", second.Results[0].Status)
	}
	if first.CorrelationID == "" || first.CorrelationID == second.CorrelationID {
		t.Error("each run must get its own generated correlation id")
	}
}

func TestExecuteRetriesTransientErrors(t *testing.T) {
	caller := &mockCaller{errs: []error{
		errors.New("connection reset"),
		errors.New("connection reset"),
	}}
	e := New(fastConfig(), caller, nil)

	plan, spec := planFor(validation.RiskLow, planned("a1", "light.turn_on", "light.kitchen"))
	res, err := e.Execute(context.Background(), plan, spec, "")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Results[0].Status != StatusOK {
		t.Fatalf("status = %s, errors should have been retried away", res.Results[0].Status)
	}
	if res.Results[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Results[0].Attempts)
	}
}

func TestExecutePermanentErrorNoRetry(t *testing.T) {
	caller := &mockCaller{errs: []error{
		&platform.PermanentError{Op: "call_service", Status: 400, Err: errors.New("bad request")},
	}}
	e := New(fastConfig(), caller, nil)

	plan, spec := planFor(validation.RiskLow, planned("a1", "light.turn_on", "light.kitchen"))
	res, err := e.Execute(context.Background(), plan, spec, "")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Results[0].Status != StatusFailed {
		t.Fatalf("status = %s, want failed", res.Results[0].Status)
	}
	if caller.callCount() != 1 {
		t.Errorf("remote calls = %d, permanent errors must not retry", caller.callCount())
	}
}

func TestExecuteCircuitOpenFastFail(t *testing.T) {
	cfg := fastConfig()
	cfg.Breaker.FailureThreshold = 1
	cfg.MaxRetries = 1

	caller := &mockCaller{errs: []error{errors.New("connection reset")}}
	e := New(cfg, caller, nil)

	plan, spec := planFor(validation.RiskLow, planned("a1", "light.turn_on", "light.kitchen"))
	if _, err := e.Execute(context.Background(), plan, spec, ""); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if e.Breaker().State() != BreakerOpen {
		t.Fatalf("breaker state = %s, want open", e.Breaker().State())
	}

	// Different payload so idempotency does not mask the breaker.
	plan2, spec2 := planFor(validation.RiskLow, planned("a2", "light.turn_off", "light.kitchen"))
	res, err := e.Execute(context.Background(), plan2, spec2, "")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Results[0].Status != StatusFailed {
		t.Fatalf("status = %s, want failed", res.Results[0].Status)
	}
	if !strings.Contains(res.Results[0].Error, "circuit breaker open") {
		t.Errorf("error = %q, want circuit open", res.Results[0].Error)
	}
	if caller.callCount() != 1 {
		t.Errorf("remote calls = %d, open breaker must not call out", caller.callCount())
	}
}

func TestHighRiskAbortsAfterFirstFailure(t *testing.T) {
	caller := &mockCaller{errs: []error{
		&platform.PermanentError{Op: "call_service", Status: 404, Err: errors.New("not found")},
	}}
	e := New(fastConfig(), caller, nil)

	plan, spec := planFor(validation.RiskHigh,
		planned("a1", "light.turn_on", "light.kitchen"),
		planned("a2", "light.turn_off", "light.hall"),
	)
	res, err := e.Execute(context.Background(), plan, spec, "")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if res.Results[0].Status != StatusFailed {
		t.Errorf("first action status = %s", res.Results[0].Status)
	}
	if res.Results[1].Status != StatusAborted {
		t.Errorf("second action status = %s, want aborted", res.Results[1].Status)
	}
	if caller.callCount() != 1 {
		t.Errorf("remote calls = %d, abort must stop the sequence", caller.callCount())
	}
}

func TestLowRiskContinuesAfterFailure(t *testing.T) {
	caller := &mockCaller{errs: []error{
		&platform.PermanentError{Op: "call_service", Status: 404, Err: errors.New("not found")},
	}}
	e := New(fastConfig(), caller, nil)

	plan, spec := planFor(validation.RiskLow,
		planned("a1", "light.turn_on", "light.kitchen"),
		planned("a2", "light.turn_off", "light.hall"),
	)
	res, err := e.Execute(context.Background(), plan, spec, "")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if res.Status != RunPartial {
		t.Errorf("status = %s, want partial", res.Status)
	}
	if res.Results[1].Status != StatusOK {
		t.Errorf("second action status = %s, want ok", res.Results[1].Status)
	}
	if caller.callCount() != 2 {
		t.Errorf("remote calls = %d, want 2", caller.callCount())
	}
}

type blockingGate struct{ reason string }

func (g blockingGate) IsAllowed(string, validation.RiskLevel) (bool, string) {
	return false, g.reason
}

func TestGateBlocksRun(t *testing.T) {
	caller := &mockCaller{}
	e := New(fastConfig(), caller, nil)
	e.SetGate(blockingGate{reason: "global pause"})

	plan, spec := planFor(validation.RiskLow, planned("a1", "light.turn_on", "light.kitchen"))
	res, err := e.Execute(context.Background(), plan, spec, "")
	if !errors.Is(err, ErrExecutionBlocked) {
		t.Fatalf("err = %v, want ErrExecutionBlocked", err)
	}
	if res.Status != RunBlocked || res.BlockReason != "global pause" {
		t.Errorf("result = %s/%q", res.Status, res.BlockReason)
	}
	if caller.callCount() != 0 {
		t.Errorf("remote calls = %d, blocked run must not call out", caller.callCount())
	}
}

func TestConfirmationObservesExpectedState(t *testing.T) {
	caller := &mockCaller{}
	stream := newMockStream()
	e := New(fastConfig(), caller, stream)

	plan, spec := planFor(validation.RiskMedium, planned("a1", "light.turn_on", "light.kitchen"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Wrong entity first, then an off state, then the expected one.
		for i := 0; i < 20; i++ {
			stream.fireStateChange("light.hall", "on")
			stream.fireStateChange("light.kitchen", "off")
			stream.fireStateChange("light.kitchen", "on")
			time.Sleep(time.Millisecond)
		}
	}()

	res, err := e.Execute(context.Background(), plan, spec, "")
	<-done
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	c := res.Results[0].Confirm
	if c == nil || !c.Confirmed || c.State != "on" {
		t.Fatalf("confirm = %+v, want confirmed with state on", c)
	}
}

func TestConfirmationTimeoutReportedNotFailed(t *testing.T) {
	caller := &mockCaller{}
	stream := newMockStream()
	e := New(fastConfig(), caller, stream)

	plan, spec := planFor(validation.RiskMedium, planned("a1", "light.turn_on", "light.kitchen"))
	res, err := e.Execute(context.Background(), plan, spec, "")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	c := res.Results[0].Confirm
	if c == nil || !c.TimedOut {
		t.Fatalf("confirm = %+v, want timed out", c)
	}
	if res.Results[0].Status != StatusOK {
		t.Errorf("status = %s, a confirmation timeout must not fail the action", res.Results[0].Status)
	}
}

func TestRiskScaledConfirmationTimeout(t *testing.T) {
	base := 10 * time.Second
	if got := confirmationTimeout(base, validation.RiskLow); got != 10*time.Second {
		t.Errorf("low = %v", got)
	}
	if got := confirmationTimeout(base, validation.RiskMedium); got != 20*time.Second {
		t.Errorf("medium = %v", got)
	}
	if got := confirmationTimeout(base, validation.RiskHigh); got != 30*time.Second {
		t.Errorf("high = %v", got)
	}
}

type captureObserver struct {
	mu   sync.Mutex
	seen []*ExecutionResult
}

func (o *captureObserver) ObserveExecution(res *ExecutionResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, res)
}

func TestObserversReceiveResults(t *testing.T) {
	caller := &mockCaller{}
	e := New(fastConfig(), caller, nil)
	obs := &captureObserver{}
	e.AddObserver(obs)

	plan, spec := planFor(validation.RiskLow, planned("a1", "light.turn_on", "light.kitchen"))
	if _, err := e.Execute(context.Background(), plan, spec, "corr-9"); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if len(obs.seen) != 1 || obs.seen[0].CorrelationID != "corr-9" {
		t.Fatalf("observer saw %d results", len(obs.seen))
	}
}

func TestParallelModeRunsAllActions(t *testing.T) {
	caller := &mockCaller{}
	cfg := fastConfig()
	cfg.MaxParallel = 2
	e := New(cfg, caller, nil)

	plan, spec := planFor(validation.RiskLow,
		planned("a1", "light.turn_on", "light.kitchen"),
		planned("a2", "light.turn_on", "light.hall"),
		planned("a3", "light.turn_on", "light.lounge"),
	)
	spec.Policy.ParallelActions = true

	res, err := e.Execute(context.Background(), plan, spec, "")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Status != RunCompleted || len(res.Results) != 3 {
		t.Fatalf("status = %s, results = %d", res.Status, len(res.Results))
	}
	if caller.callCount() != 3 {
		t.Errorf("remote calls = %d, want 3", caller.callCount())
	}
}

func TestNilPlanRejected(t *testing.T) {
	e := New(fastConfig(), &mockCaller{}, nil)
	if _, err := e.Execute(context.Background(), nil, nil, ""); !errors.Is(err, ErrNilPlan) {
		t.Fatalf("err = %v, want ErrNilPlan", err)
	}
}
