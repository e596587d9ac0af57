package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"shopcore/internal/persistence"
	"shopcore/pkg/domain"
)

// FailureObserver is told about every rule that blocked a cascade.
type FailureObserver interface {
	ValidationFailed(rule string)
}

// Option configures a CascadeValidator.
type Option func(*CascadeValidator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *CascadeValidator) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithFailureObserver registers an observer for blocking rules.
func WithFailureObserver(o FailureObserver) Option {
	return func(v *CascadeValidator) { v.observer = o }
}

// WithEntityValidator replaces the validator used by the required-fields rule.
func WithEntityValidator(ev *EntityValidator) Option {
	return func(v *CascadeValidator) {
		if ev != nil {
			v.entities = ev
		}
	}
}

// CascadeValidator runs the cascade rules against a graph before it is
// saved. The default rule set is required fields, related-entity state, then
// same-context checks.
type CascadeValidator struct {
	lifecycle *persistence.LifecycleManager
	entities  *EntityValidator
	logger    *slog.Logger
	observer  FailureObserver
	rules     []Rule
}

// NewCascadeValidator builds a validator resolving the active context through m.
func NewCascadeValidator(m *persistence.LifecycleManager, opts ...Option) *CascadeValidator {
	v := &CascadeValidator{
		lifecycle: m,
		entities:  NewEntityValidator(),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	v.rules = []Rule{RequiredFieldsRule(v.entities), RelatedStateRule(), SameContextRule()}
	return v
}

// Register appends a rule evaluated after the built-in ones.
func (v *CascadeValidator) Register(rule Rule) {
	if rule != nil {
		v.rules = append(v.rules, rule)
	}
}

// Rules lists the registered rule names in evaluation order.
func (v *CascadeValidator) Rules() []string {
	names := make([]string, len(v.rules))
	for i, r := range v.rules {
		names[i] = r.Name()
	}
	return names
}

// ValidateCascadeOperations evaluates every rule against the graph reachable
// from root. Rule failures and panics become blocking violations; the only
// error returned is a *domain.ContextError for an unreachable backend.
func (v *CascadeValidator) ValidateCascadeOperations(ctx context.Context, root domain.Entity) (domain.ValidationResult, error) {
	var res domain.ValidationResult
	if domain.IsNil(root) {
		return res, nil
	}
	c, err := v.lifecycle.Registry().Current(ctx)
	if err != nil {
		return res, err
	}
	g := Graph{Root: root, Nodes: domain.Collect(root), Context: c, Lifecycle: v.lifecycle}

	for _, rule := range v.rules {
		out, err := v.evaluate(ctx, rule, g)
		if err != nil {
			var ce *domain.ContextError
			if errors.As(err, &ce) {
				return res, err
			}
			v.logger.Warn("cascade rule failed", "rule", rule.Name(), "label", c.Label().String(), "error", err)
			out.AddError(rule.Name(), root, fmt.Sprintf("%srule %s failed: %v", cascadePrefix, rule.Name(), err))
		}
		if out.HasBlocking() && v.observer != nil {
			v.observer.ValidationFailed(rule.Name())
		}
		res.Merge(out)
	}
	if !res.IsValid() {
		v.logger.Debug("cascade blocked", "entity", string(root.EntityType()), "id", root.Meta().ID,
			"label", c.Label().String(), "errors", len(res.Errors()))
	}
	return res, nil
}

func (v *CascadeValidator) evaluate(ctx context.Context, rule Rule, g Graph) (res domain.ValidationResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = domain.ValidationResult{}
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return rule.Evaluate(ctx, g)
}
