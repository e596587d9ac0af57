package validation

import (
	"context"
	"fmt"

	"shopcore/internal/persistence"
	"shopcore/pkg/domain"
)

// RuleRelatedState names violations about the state of referenced entities.
const RuleRelatedState = "related_state"

// RelatedStateRule checks what new nodes point at. A new node referencing a
// detached entity that cannot be attached to the active context is an error,
// as is a reference by id to a record the active backend does not hold. A
// detached entity unknown to the active backend is a warning: merging it
// schedules an insert.
func RelatedStateRule() Rule { return relatedStateRule{} }

type relatedStateRule struct{}

func (relatedStateRule) Name() string { return RuleRelatedState }

func (relatedStateRule) Evaluate(ctx context.Context, g Graph) (domain.ValidationResult, error) {
	var res domain.ValidationResult
	c := g.Context
	for _, n := range g.Nodes {
		e := n.Entity
		for _, rel := range e.Relations() {
			slot := rel.Slot
			if slot == nil || slot.IsNull() || slot.IsLoaded() {
				continue
			}
			ok, err := c.Exists(ctx, slot.TargetType(), slot.TargetID())
			if err != nil {
				return res, err
			}
			if !ok {
				res.AddError(RuleRelatedState, e, fmt.Sprintf("%s%s references missing %s %s in %s",
					cascadePrefix, describe(e), slot.TargetType().DisplayName(), slot.TargetID(), c.Label()))
			}
		}

		if e.Meta().ID == "" || c.Contains(e) {
			continue
		}
		if n.Parent != nil && n.Parent.Meta().ID == "" && !reconcilable(c, e) {
			res.AddError(RuleRelatedState, n.Parent, fmt.Sprintf("%s%s references detached %s that cannot be reconciled with %s",
				cascadePrefix, describe(n.Parent), describe(e), c.Label()))
			continue
		}
		known, err := g.Lifecycle.Known(ctx, e)
		if err != nil {
			return res, err
		}
		if !known {
			res.AddWarning(RuleRelatedState, e, fmt.Sprintf("%sdetached %s is unknown to %s and will be inserted",
				cascadePrefix, describe(e), c.Label()))
		}
	}
	return res, nil
}

// reconcilable reports whether merging e into c cannot clobber a tracked
// instance holding different data.
func reconcilable(c *persistence.Context, e domain.Entity) bool {
	if !c.Schema().Has(e.EntityType()) {
		return false
	}
	tracked, ok := c.Lookup(e.EntityType(), e.Meta().ID)
	if !ok {
		return true
	}
	same, err := domain.SameData(tracked, e)
	return err == nil && same
}
