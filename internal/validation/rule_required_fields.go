package validation

import (
	"context"

	"shopcore/pkg/domain"
)

// RequiredFieldsRule applies EntityValidator over the whole graph.
func RequiredFieldsRule(v *EntityValidator) Rule {
	if v == nil {
		v = NewEntityValidator()
	}
	return requiredFieldsRule{v: v}
}

type requiredFieldsRule struct{ v *EntityValidator }

func (requiredFieldsRule) Name() string { return RuleRequiredFields }

func (r requiredFieldsRule) Evaluate(_ context.Context, g Graph) (domain.ValidationResult, error) {
	return r.v.ValidateForPersistence(g.Root), nil
}
