package specstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emberhaus/ember-core/internal/validation"
)

// SpecVersion is one immutable stored artifact. Rows are never mutated
// after insert except for the active flag and deployment timestamp.
type SpecVersion struct {
	ID          string     `json:"id"`
	SpecID      string     `json:"spec_id"`
	Version     string     `json:"version"`
	HomeID      string     `json:"home_id"`
	ContentHash string     `json:"content_hash"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"created_at"`
	DeployedAt  *time.Time `json:"deployed_at,omitempty"`
	IsActive    bool       `json:"is_active"`
}

// Spec decodes the stored content back into a spec.
func (v *SpecVersion) Spec() (*validation.AutomationSpec, error) {
	var spec validation.AutomationSpec
	if err := json.Unmarshal([]byte(v.Content), &spec); err != nil {
		return nil, fmt.Errorf("decode spec content: %w", err)
	}
	return &spec, nil
}

// Canonicalize produces the stable JSON form a spec is hashed and
// stored under. Struct marshaling gives a fixed field order and maps
// marshal with sorted keys, so byte-identical content always yields the
// same hash.
func Canonicalize(spec *validation.AutomationSpec) (content string, hash string, err error) {
	b, err := json.Marshal(spec)
	if err != nil {
		return "", "", fmt.Errorf("canonicalize spec: %w", err)
	}
	sum := sha256.Sum256(b)
	return string(b), hex.EncodeToString(sum[:]), nil
}
