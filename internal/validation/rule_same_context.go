package validation

import (
	"context"
	"fmt"

	"shopcore/pkg/domain"
)

// RuleSameContext names violations about nodes bound to the wrong context.
const RuleSameContext = "same_context"

// SameContextRule requires every node to end up in the active context.
// Detached nodes are recoverable by merge and only warned about. A node still
// managed by another live context whose data differs from the active
// context's copy, or two instances of one record carrying different data, is
// a lifecycle inconsistency.
func SameContextRule() Rule { return sameContextRule{} }

type sameContextRule struct{}

func (sameContextRule) Name() string { return RuleSameContext }

type recordKey struct {
	t  domain.EntityType
	id string
}

func (sameContextRule) Evaluate(ctx context.Context, g Graph) (domain.ValidationResult, error) {
	var res domain.ValidationResult
	c := g.Context
	first := make(map[recordKey]domain.Entity)
	for _, n := range g.Nodes {
		e := n.Entity
		id := e.Meta().ID
		if id == "" {
			continue
		}
		k := recordKey{t: e.EntityType(), id: id}
		if prev, ok := first[k]; ok {
			same, err := domain.SameData(prev, e)
			if err != nil || !same {
				res.AddError(RuleSameContext, e, fmt.Sprintf("%stwo %s instances with diverging data in one graph",
					inconsistentPrefix, describe(e)))
			}
			continue
		}
		first[k] = e
		if c.Contains(e) {
			continue
		}

		owner := e.Meta().Owner()
		if owner != "" && owner != c.Label() {
			if other, ok := g.Lifecycle.Registry().Peek(owner); ok && other.Contains(e) {
				diverges, err := c.Diverges(ctx, e)
				if err != nil {
					return res, err
				}
				if diverges {
					res.AddError(RuleSameContext, e, fmt.Sprintf("%s%s is managed by %s with data diverging from %s",
						inconsistentPrefix, describe(e), owner, c.Label()))
					continue
				}
			}
		}
		res.AddWarning(RuleSameContext, e, fmt.Sprintf("%s is detached from %s and will be merged", describe(e), c.Label()))
	}
	return res, nil
}
