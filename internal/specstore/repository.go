package specstore

import (
	"context"

	"github.com/emberhaus/ember-core/internal/validation"
)

// Repository defines the interface for spec version persistence.
// The abstraction allows mock implementations for testing the rollout
// layer without a database.
type Repository interface {
	// Store persists a spec immutably under its content hash. Storing
	// content that already exists for the home returns the existing
	// record unchanged. With deploy set, the stored version becomes the
	// single active one for (spec_id, home_id).
	Store(ctx context.Context, spec *validation.AutomationSpec, homeID string, deploy bool) (*SpecVersion, error)

	// Get returns the active version, or an explicit version when given.
	// Returns ErrNotFound if nothing matches.
	Get(ctx context.Context, specID, homeID, version string) (*SpecVersion, error)

	// History returns every stored version for (spec_id, home_id),
	// newest first.
	History(ctx context.Context, specID, homeID string) ([]SpecVersion, error)

	// Deploy atomically flips the active pointer to the given version.
	// Used by manual promotion and rollback alike.
	Deploy(ctx context.Context, specID, homeID, version string) (*SpecVersion, error)

	// LastKnownGood returns the most recently deployed version that is
	// not currently active: the rollback target.
	LastKnownGood(ctx context.Context, specID, homeID string) (*SpecVersion, error)
}
