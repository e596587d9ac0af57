// Package validation checks entity graphs before they are written: required
// fields on every reachable node, and the lifecycle state of each node with
// respect to the active persistence context.
package validation

import (
	"fmt"
	"strings"

	"shopcore/pkg/domain"
)

// RuleRequiredFields names violations raised for blank required fields.
const RuleRequiredFields = "required_fields"

// EntityValidator checks required fields. It never mutates the entities it inspects.
type EntityValidator struct{}

// NewEntityValidator returns a validator.
func NewEntityValidator() *EntityValidator { return &EntityValidator{} }

// ValidateRequiredFields checks e alone. Types implementing
// domain.HasRequiredLabel fail when their label is blank after trimming.
func (v *EntityValidator) ValidateRequiredFields(e domain.Entity) domain.ValidationResult {
	var res domain.ValidationResult
	if domain.IsNil(e) {
		return res
	}
	if labelled, ok := e.(domain.HasRequiredLabel); ok && strings.TrimSpace(labelled.RequiredLabel()) == "" {
		res.AddError(RuleRequiredFields, e, fmt.Sprintf("%s is required for %s", domain.LabelField, e.EntityType().DisplayName()))
	}
	return res
}

// ValidateForPersistence checks e and every loaded entity reachable through
// its relations. Each instance is checked once; null and unloaded relations
// are skipped.
func (v *EntityValidator) ValidateForPersistence(e domain.Entity) domain.ValidationResult {
	var res domain.ValidationResult
	_ = domain.Walk(e, func(n domain.Node) error {
		res.Merge(v.ValidateRequiredFields(n.Entity))
		return nil
	})
	return res
}
