package rollout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emberhaus/ember-core/internal/execution"
	"github.com/emberhaus/ember-core/internal/specstore"
	"github.com/emberhaus/ember-core/internal/validation"
)

// mockRepo implements the slice of the spec registry rollback needs.
type mockRepo struct {
	lkg       *specstore.SpecVersion
	lkgErr    error
	deployed  []string
	deployErr error
}

func (m *mockRepo) Store(context.Context, *validation.AutomationSpec, string, bool) (*specstore.SpecVersion, error) {
	return nil, errors.New("not implemented")
}

func (m *mockRepo) Get(context.Context, string, string, string) (*specstore.SpecVersion, error) {
	return nil, errors.New("not implemented")
}

func (m *mockRepo) History(context.Context, string, string) ([]specstore.SpecVersion, error) {
	return nil, errors.New("not implemented")
}

func (m *mockRepo) Deploy(_ context.Context, _, _, version string) (*specstore.SpecVersion, error) {
	if m.deployErr != nil {
		return nil, m.deployErr
	}
	m.deployed = append(m.deployed, version)
	cp := *m.lkg
	cp.IsActive = true
	return &cp, nil
}

func (m *mockRepo) LastKnownGood(context.Context, string, string) (*specstore.SpecVersion, error) {
	if m.lkgErr != nil {
		return nil, m.lkgErr
	}
	return m.lkg, nil
}

func testRollbackManager(repo specstore.Repository) (*RollbackManager, *time.Time) {
	m := NewRollbackManager(RollbackConfig{ErrorBudget: 3, Window: time.Hour}, repo)
	now := time.Now()
	m.now = func() time.Time { return now }
	return m, &now
}

func TestErrorBudgetBreach(t *testing.T) {
	m, _ := testRollbackManager(&mockRepo{})

	m.RecordError("spec-1", "home-1")
	m.RecordError("spec-1", "home-1")
	if m.CheckErrorBudgetBreach("spec-1", "home-1") {
		t.Fatal("2 of 3 errors must not breach")
	}

	m.RecordError("spec-1", "home-1")
	if !m.CheckErrorBudgetBreach("spec-1", "home-1") {
		t.Fatal("3 of 3 errors must breach")
	}

	// Budgets are scoped per (home, spec).
	if m.CheckErrorBudgetBreach("spec-1", "home-2") {
		t.Error("another home's budget must be untouched")
	}
	if m.CheckErrorBudgetBreach("spec-2", "home-1") {
		t.Error("another spec's budget must be untouched")
	}
}

func TestErrorBudgetSlidingWindow(t *testing.T) {
	m, now := testRollbackManager(&mockRepo{})
	base := *now

	m.RecordError("spec-1", "home-1")
	m.RecordError("spec-1", "home-1")
	m.RecordError("spec-1", "home-1")
	if !m.CheckErrorBudgetBreach("spec-1", "home-1") {
		t.Fatal("expected breach")
	}

	// Old errors fall out of the window.
	*now = base.Add(2 * time.Hour)
	if m.CheckErrorBudgetBreach("spec-1", "home-1") {
		t.Error("errors outside the window must not count")
	}
	if m.ErrorCount("spec-1", "home-1") != 0 {
		t.Errorf("count = %d after window", m.ErrorCount("spec-1", "home-1"))
	}
}

func TestRollbackDeploysLastKnownGoodAndResets(t *testing.T) {
	repo := &mockRepo{lkg: &specstore.SpecVersion{
		SpecID: "spec-1", HomeID: "home-1", Version: "1.0.0",
	}}
	m, _ := testRollbackManager(repo)

	for i := 0; i < 3; i++ {
		m.RecordError("spec-1", "home-1")
	}

	deployed, err := m.Rollback(context.Background(), "spec-1", "home-1")
	if err != nil {
		t.Fatalf("Rollback() error: %v", err)
	}
	if deployed.Version != "1.0.0" || !deployed.IsActive {
		t.Errorf("deployed = %+v", deployed)
	}
	if len(repo.deployed) != 1 || repo.deployed[0] != "1.0.0" {
		t.Errorf("deployed versions = %v", repo.deployed)
	}
	if m.ErrorCount("spec-1", "home-1") != 0 {
		t.Error("rollback must reset the budget")
	}
}

func TestRollbackRefusedWhileBudgetIntact(t *testing.T) {
	m, _ := testRollbackManager(&mockRepo{lkg: &specstore.SpecVersion{Version: "1.0.0"}})

	if _, err := m.Rollback(context.Background(), "spec-1", "home-1"); !errors.Is(err, ErrBudgetIntact) {
		t.Fatalf("err = %v, want ErrBudgetIntact", err)
	}
}

func TestRollbackWithoutDeployedHistory(t *testing.T) {
	repo := &mockRepo{lkgErr: specstore.ErrNoDeployedVersion}
	m, _ := testRollbackManager(repo)

	for i := 0; i < 3; i++ {
		m.RecordError("spec-1", "home-1")
	}
	if _, err := m.Rollback(context.Background(), "spec-1", "home-1"); !errors.Is(err, specstore.ErrNoDeployedVersion) {
		t.Fatalf("err = %v, want ErrNoDeployedVersion", err)
	}
}

func TestObserveExecutionChargesFailures(t *testing.T) {
	m, _ := testRollbackManager(&mockRepo{})

	m.ObserveExecution(&execution.ExecutionResult{
		SpecID: "spec-1", HomeID: "home-1", Status: execution.RunFailed,
	})
	m.ObserveExecution(&execution.ExecutionResult{
		SpecID: "spec-1", HomeID: "home-1", Status: execution.RunPartial,
	})
	m.ObserveExecution(&execution.ExecutionResult{
		SpecID: "spec-1", HomeID: "home-1", Status: execution.RunCompleted,
	})

	if got := m.ErrorCount("spec-1", "home-1"); got != 2 {
		t.Errorf("error count = %d, want 2", got)
	}
}
