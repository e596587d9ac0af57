package validation

import (
	"context"

	"shopcore/internal/persistence"
	"shopcore/pkg/domain"
)

// Graph is the input handed to every cascade rule: the root being saved, the
// nodes reachable from it in walk order, and the context it will be written to.
type Graph struct {
	Root      domain.Entity
	Nodes     []domain.Node
	Context   *persistence.Context
	Lifecycle *persistence.LifecycleManager
}

// Rule is one cascade check. Rules report findings as violations; a returned
// error is reserved for infrastructure failures.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, g Graph) (domain.ValidationResult, error)
}

// Prefixes used by cascade rule messages.
const (
	cascadePrefix      = "cascade: "
	inconsistentPrefix = "lifecycle inconsistency: "
)

func describe(e domain.Entity) string {
	if id := e.Meta().ID; id != "" {
		return e.EntityType().DisplayName() + " " + id
	}
	return "new " + e.EntityType().DisplayName()
}
