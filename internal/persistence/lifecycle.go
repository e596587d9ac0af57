package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"shopcore/pkg/domain"
)

type knownKey struct {
	label domain.Label
	gen   uint64
	t     domain.EntityType
	id    string
}

// LifecycleManager reconciles entity instances with the context active for
// the calling request. An instance managed by a context that is no longer
// active is treated as detached and must be merged before it can be written.
//
// Every method accepts nil entities (including typed nil pointers) and
// returns nil or false for them.
type LifecycleManager struct {
	reg    *Registry
	logger *slog.Logger

	mu    sync.Mutex
	known map[knownKey]bool
}

// NewLifecycleManager returns a manager resolving contexts through reg.
func NewLifecycleManager(reg *Registry, logger *slog.Logger) *LifecycleManager {
	if logger == nil {
		logger = reg.logger
	}
	return &LifecycleManager{
		reg:    reg,
		logger: logger.With("component", "lifecycle"),
		known:  make(map[knownKey]bool),
	}
}

// Registry returns the registry the manager resolves contexts from.
func (m *LifecycleManager) Registry() *Registry { return m.reg }

// EnsureManaged binds e to the active context. Transient entities are
// scheduled for insertion and receive their identity at flush; detached ones
// are merged. Calling it again on the result returns the same instance.
func (m *LifecycleManager) EnsureManaged(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	if domain.IsNil(e) {
		return nil, nil
	}
	c, err := m.reg.Current(ctx)
	if err != nil {
		return nil, err
	}
	return m.ensureIn(ctx, c, e)
}

func (m *LifecycleManager) ensureIn(ctx context.Context, c *Context, e domain.Entity) (domain.Entity, error) {
	if c.Contains(e) {
		return e, nil
	}
	if e.Meta().ID == "" {
		if err := c.Persist(e); err != nil {
			return nil, err
		}
		return e, nil
	}
	return c.Merge(ctx, e)
}

// IsDetached reports whether e carries an identity the active context does not track.
func (m *LifecycleManager) IsDetached(ctx context.Context, e domain.Entity) bool {
	if domain.IsNil(e) || e.Meta().ID == "" {
		return false
	}
	c, err := m.reg.Current(ctx)
	if err != nil {
		return false
	}
	return !c.Contains(e)
}

// Detach releases e from the active context without touching stored data.
func (m *LifecycleManager) Detach(ctx context.Context, e domain.Entity) {
	if domain.IsNil(e) {
		return
	}
	c, err := m.reg.Current(ctx)
	if err != nil {
		m.logger.Warn("detach skipped", "op", "detach", "error", err)
		return
	}
	c.Detach(e)
}

// MergeDetached returns the instance tracked by the active context for e with
// every serialised field of e copied onto it. Managed input is returned as is.
func (m *LifecycleManager) MergeDetached(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	if domain.IsNil(e) {
		return nil, nil
	}
	c, err := m.reg.Current(ctx)
	if err != nil {
		return nil, err
	}
	return c.Merge(ctx, e)
}

// ResolveProxy loads every unloaded relation of e from the active context.
// Missing targets are left unloaded.
func (m *LifecycleManager) ResolveProxy(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	if domain.IsNil(e) {
		return nil, nil
	}
	c, err := m.reg.Current(ctx)
	if err != nil {
		return nil, err
	}
	for _, rel := range e.Relations() {
		slot := rel.Slot
		if slot == nil || slot.IsNull() || slot.IsLoaded() {
			continue
		}
		target, err := c.Find(ctx, slot.TargetType(), slot.TargetID())
		if err != nil {
			return nil, err
		}
		if target == nil {
			m.logger.Warn("reference target missing", "entity", string(e.EntityType()), "relation", rel.Name, "id", slot.TargetID())
			continue
		}
		if err := slot.Bind(target); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ResolveRef loads the target of ref from the active context and stores it in ref.
func ResolveRef[T domain.Entity](ctx context.Context, m *LifecycleManager, ref *domain.Ref[T]) (T, error) {
	var zero T
	if ref == nil || ref.IsNull() {
		return zero, nil
	}
	if target, ok := ref.Get(); ok {
		return target, nil
	}
	c, err := m.reg.Current(ctx)
	if err != nil {
		return zero, err
	}
	e, err := c.Find(ctx, ref.TargetType(), ref.ID())
	if err != nil {
		return zero, err
	}
	if e == nil {
		return zero, fmt.Errorf("resolve %s %s: %w", ref.TargetType(), ref.ID(), ErrNotFound)
	}
	if err := ref.Bind(e); err != nil {
		return zero, err
	}
	target, _ := ref.Get()
	return target, nil
}

// RefreshInCurrentContext re-synchronises e with the active context. Managed
// entities are reloaded from the backend; detached ones are replaced by the
// tracked instance when the record exists. Unpersisted input is returned as is.
func (m *LifecycleManager) RefreshInCurrentContext(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	if domain.IsNil(e) {
		return nil, nil
	}
	c, err := m.reg.Current(ctx)
	if err != nil {
		return nil, err
	}
	if e.Meta().ID == "" || !c.Schema().Has(e.EntityType()) {
		return e, nil
	}
	if c.Contains(e) {
		if err := c.Refresh(ctx, e); err != nil {
			var ce *domain.ContextError
			if errors.As(err, &ce) {
				return nil, err
			}
			m.logger.Debug("refresh kept in-memory state", "entity", string(e.EntityType()), "id", e.Meta().ID, "error", err)
		}
		return e, nil
	}
	found, err := c.Find(ctx, e.EntityType(), e.Meta().ID)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return e, nil
	}
	return found, nil
}

// ValidateContext reports whether e is attached to, or can be attached to,
// the active context. It is false for nil input, unknown types, instances
// still managed by another live context whose data diverges from the active
// context's record, and instances whose data diverges from the copy the
// active context already tracks.
func (m *LifecycleManager) ValidateContext(ctx context.Context, e domain.Entity) bool {
	if domain.IsNil(e) {
		return false
	}
	c, err := m.reg.Current(ctx)
	if err != nil {
		return false
	}
	if !c.Schema().Has(e.EntityType()) {
		return false
	}
	if c.Contains(e) {
		return true
	}
	if e.Meta().ID == "" {
		return true
	}
	if owner := e.Meta().Owner(); owner != "" && owner != c.Label() {
		if other, ok := m.reg.Peek(owner); ok && other.Contains(e) {
			diverges, err := c.Diverges(ctx, e)
			return err == nil && !diverges
		}
	}
	if tracked, ok := c.Lookup(e.EntityType(), e.Meta().ID); ok {
		same, err := domain.SameData(tracked, e)
		return err == nil && same
	}
	return true
}

// Known reports whether the active backend stores e's record. Answers are
// memoized until ClearCache or until the context is flushed or cleared.
func (m *LifecycleManager) Known(ctx context.Context, e domain.Entity) (bool, error) {
	if domain.IsNil(e) || e.Meta().ID == "" {
		return false, nil
	}
	c, err := m.reg.Current(ctx)
	if err != nil {
		return false, err
	}
	k := knownKey{label: c.Label(), gen: c.Generation(), t: e.EntityType(), id: e.Meta().ID}
	m.mu.Lock()
	v, ok := m.known[k]
	m.mu.Unlock()
	if ok {
		return v, nil
	}
	v, err = c.Exists(ctx, k.t, k.id)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	m.known[k] = v
	m.mu.Unlock()
	return v, nil
}

// ClearCache drops memoized lookups.
func (m *LifecycleManager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.known = make(map[knownKey]bool)
}

// NormalizeGraph makes every node reachable from root managed by the active
// context and rewires relation slots to the normalized instances. It returns
// the normalized root.
func (m *LifecycleManager) NormalizeGraph(ctx context.Context, root domain.Entity) (domain.Entity, error) {
	if domain.IsNil(root) {
		return nil, nil
	}
	c, err := m.reg.Current(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[domain.Entity]domain.Entity)
	var visit func(e domain.Entity) (domain.Entity, error)
	visit = func(e domain.Entity) (domain.Entity, error) {
		if n, ok := seen[e]; ok {
			return n, nil
		}
		n, err := m.ensureIn(ctx, c, e)
		if err != nil {
			return nil, fmt.Errorf("normalize %s %s: %w", e.EntityType(), e.Meta().ID, err)
		}
		seen[e] = n
		if _, ok := seen[n]; !ok {
			seen[n] = n
		}
		src := e.Relations()
		dst := n.Relations()
		for i, rel := range src {
			if rel.Slot == nil || i >= len(dst) {
				continue
			}
			target, ok := rel.Slot.Target()
			if !ok || domain.IsNil(target) {
				continue
			}
			child, err := visit(target)
			if err != nil {
				return nil, err
			}
			if err := dst[i].Slot.Bind(child); err != nil {
				return nil, err
			}
		}
		return n, nil
	}
	return visit(root)
}
