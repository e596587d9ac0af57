// Package persistence binds entities to environment-labelled backends. It
// provides the per-label unit of work (Context), the registry that hands out
// one Context per label, the environment-scoped repository, and the lifecycle
// manager reconciling entities across contexts.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"shopcore/pkg/domain"
)

var (
	// ErrDetached is returned when an operation needs an entity managed by the
	// context but receives one carrying an identity the context does not track.
	ErrDetached = errors.New("entity is not managed by this persistence context")
	// ErrUnknownType is returned for entity types missing from the schema.
	ErrUnknownType = errors.New("unknown entity type")
	// ErrNotFound is returned when a reference or refresh targets a missing record.
	ErrNotFound = errors.New("entity not found")
)

type entityKey struct {
	t  domain.EntityType
	id string
}

func keyOf(e domain.Entity) entityKey {
	return entityKey{t: e.EntityType(), id: e.Meta().ID}
}

// Context is the unit of work and identity map for one environment label.
// Every instance it hands out is the single in-memory representative of its
// record until Clear or Detach releases it.
type Context struct {
	label    domain.Label
	backend  domain.Backend
	schema   *domain.Schema
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
	newID    func() string

	mu         sync.Mutex
	managed    map[entityKey]domain.Entity
	originals  map[entityKey]domain.Record
	pending    []domain.Entity
	removed    map[entityKey]domain.Entity
	generation uint64
}

func newContext(label domain.Label, backend domain.Backend, schema *domain.Schema, logger *slog.Logger, observer Observer) *Context {
	return &Context{
		label:     label,
		backend:   backend,
		schema:    schema,
		logger:    logger.With("label", label.String()),
		observer:  observer,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		managed:   make(map[entityKey]domain.Entity),
		originals: make(map[entityKey]domain.Record),
		removed:   make(map[entityKey]domain.Entity),
	}
}

// Label returns the environment label the context is bound to.
func (c *Context) Label() domain.Label { return c.label }

// Backend exposes the underlying record store.
func (c *Context) Backend() domain.Backend { return c.backend }

// Schema returns the entity schema used to hydrate records.
func (c *Context) Schema() *domain.Schema { return c.schema }

// Generation changes every time the identity map is cleared or flushed.
func (c *Context) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Contains reports whether this exact instance is tracked by the context.
func (c *Context) Contains(e domain.Entity) bool {
	if domain.IsNil(e) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.containsLocked(e)
}

func (c *Context) containsLocked(e domain.Entity) bool {
	if e.Meta().ID != "" {
		if tracked, ok := c.managed[keyOf(e)]; ok && tracked == e {
			return true
		}
	}
	return c.pendingIndex(e) >= 0
}

func (c *Context) pendingIndex(e domain.Entity) int {
	for i, p := range c.pending {
		if p == e {
			return i
		}
	}
	return -1
}

// trackedLocked returns the managed instance for k, or the pending merged
// insert carrying k. Only merged entities are pending with an identity.
func (c *Context) trackedLocked(k entityKey) (domain.Entity, bool) {
	if e, ok := c.managed[k]; ok {
		return e, true
	}
	if e := c.pendingByKeyLocked(k); e != nil {
		return e, true
	}
	return nil, false
}

// pendingByKeyLocked returns the pending insert carrying k.
func (c *Context) pendingByKeyLocked(k entityKey) domain.Entity {
	if k.id == "" {
		return nil
	}
	for _, p := range c.pending {
		if keyOf(p) == k {
			return p
		}
	}
	return nil
}

// Lookup returns the tracked instance for t and id without touching the backend.
func (c *Context) Lookup(t domain.EntityType, id string) (domain.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trackedLocked(entityKey{t: t, id: id})
}

// Find returns the managed instance for t and id, loading it from the backend
// on first access. A missing record yields (nil, nil). Records removed in the
// current unit of work are reported missing.
func (c *Context) Find(ctx context.Context, t domain.EntityType, id string) (domain.Entity, error) {
	if id == "" {
		return nil, nil
	}
	if !c.schema.Has(t) {
		return nil, fmt.Errorf("find %s: %w", t, ErrUnknownType)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := entityKey{t: t, id: id}
	if _, gone := c.removed[k]; gone {
		return nil, nil
	}
	if e, ok := c.trackedLocked(k); ok {
		return e, nil
	}
	rec, ok, err := c.backend.Get(ctx, t, id)
	if err != nil {
		return nil, c.backendError("find", err)
	}
	if !ok {
		return nil, nil
	}
	return c.hydrateLocked(rec)
}

// List returns every stored entity of type t ordered by identity, reusing
// tracked instances.
func (c *Context) List(ctx context.Context, t domain.EntityType) ([]domain.Entity, error) {
	if !c.schema.Has(t) {
		return nil, fmt.Errorf("list %s: %w", t, ErrUnknownType)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	recs, err := c.backend.List(ctx, t)
	if err != nil {
		return nil, c.backendError("list", err)
	}
	out := make([]domain.Entity, 0, len(recs))
	for _, rec := range recs {
		k := entityKey{t: rec.Type, id: rec.ID}
		if _, gone := c.removed[k]; gone {
			continue
		}
		if e, ok := c.managed[k]; ok {
			out = append(out, e)
			continue
		}
		e, err := c.hydrateLocked(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Exists reports whether t/id is tracked or stored.
func (c *Context) Exists(ctx context.Context, t domain.EntityType, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.trackedLocked(entityKey{t: t, id: id}); ok {
		return true, nil
	}
	_, ok, err := c.backend.Get(ctx, t, id)
	if err != nil {
		return false, c.backendError("exists", err)
	}
	return ok, nil
}

// Record returns the state of t/id as this context sees it: the encoding of
// the tracked instance, or the stored record in the same encoding. The
// identity map is not touched.
func (c *Context) Record(ctx context.Context, t domain.EntityType, id string) (domain.Record, bool, error) {
	if id == "" {
		return domain.Record{}, false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.trackedLocked(entityKey{t: t, id: id}); ok {
		rec, err := domain.Encode(e)
		return rec, err == nil, err
	}
	rec, ok, err := c.backend.Get(ctx, t, id)
	if err != nil {
		return domain.Record{}, false, c.backendError("record", err)
	}
	if !ok {
		return domain.Record{}, false, nil
	}
	rec, err = c.schema.Canonical(rec)
	return rec, err == nil, err
}

// Diverges reports whether the context already sees a record for e's
// identity, tracked or stored, whose data differs from e.
func (c *Context) Diverges(ctx context.Context, e domain.Entity) (bool, error) {
	if domain.IsNil(e) || e.Meta().ID == "" {
		return false, nil
	}
	rec, ok, err := c.Record(ctx, e.EntityType(), e.Meta().ID)
	if err != nil || !ok {
		return false, err
	}
	mine, err := domain.Encode(e)
	if err != nil {
		return true, nil
	}
	return !mine.Equal(rec), nil
}

func (c *Context) hydrateLocked(rec domain.Record) (domain.Entity, error) {
	e, err := c.schema.Decode(rec)
	if err != nil {
		return nil, err
	}
	orig, err := domain.Encode(e)
	if err != nil {
		return nil, err
	}
	c.attachLoaders(e)
	e.Meta().MarkManaged(c.label)
	k := keyOf(e)
	c.managed[k] = e
	c.originals[k] = orig
	return e, nil
}

func (c *Context) attachLoaders(e domain.Entity) {
	for _, rel := range e.Relations() {
		if rel.Slot != nil {
			rel.Slot.SetLoader(c.load)
		}
	}
}

func (c *Context) load(ctx context.Context, t domain.EntityType, id string) (domain.Entity, error) {
	e, err := c.Find(ctx, t, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("load %s %s: %w", t, id, ErrNotFound)
	}
	return e, nil
}

// Persist schedules a transient entity for insertion at the next flush.
// Persisting a tracked entity cancels a pending removal. Entities carrying an
// identity the context does not track must be merged instead.
func (c *Context) Persist(e domain.Entity) error {
	if domain.IsNil(e) {
		return nil
	}
	if !c.schema.Has(e.EntityType()) {
		return fmt.Errorf("persist %s: %w", e.EntityType(), ErrUnknownType)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.containsLocked(e) {
		delete(c.removed, keyOf(e))
		return nil
	}
	if e.Meta().ID != "" {
		return fmt.Errorf("persist %s %s in %s: %w", e.EntityType(), e.Meta().ID, c.label, ErrDetached)
	}
	e.Meta().MarkManaged(c.label)
	c.pending = append(c.pending, e)
	return nil
}

// Remove schedules deletion of a tracked entity. A pending insert is simply dropped.
func (c *Context) Remove(e domain.Entity) error {
	if domain.IsNil(e) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.pendingIndex(e); i >= 0 {
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		e.Meta().MarkDetached()
		return nil
	}
	if !c.containsLocked(e) {
		return fmt.Errorf("remove %s %s in %s: %w", e.EntityType(), e.Meta().ID, c.label, ErrDetached)
	}
	c.removed[keyOf(e)] = e
	return nil
}

// Detach stops tracking e without touching stored data. Untracked input is ignored.
func (c *Context) Detach(e domain.Entity) {
	if domain.IsNil(e) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.pendingIndex(e); i >= 0 {
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		e.Meta().MarkDetached()
		return
	}
	if !c.containsLocked(e) {
		return
	}
	k := keyOf(e)
	delete(c.managed, k)
	delete(c.originals, k)
	delete(c.removed, k)
	e.Meta().MarkDetached()
}

// Merge returns the tracked instance equivalent to e, copying every
// serialised field of e onto it. e itself is never attached unless it is
// transient, in which case it is persisted and returned.
func (c *Context) Merge(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	if domain.IsNil(e) {
		return nil, nil
	}
	t := e.EntityType()
	if !c.schema.Has(t) {
		return nil, fmt.Errorf("merge %s: %w", t, ErrUnknownType)
	}
	if c.Contains(e) {
		return e, nil
	}
	if e.Meta().ID == "" {
		if err := c.Persist(e); err != nil {
			return nil, err
		}
		return e, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	k := keyOf(e)
	target, ok := c.trackedLocked(k)
	if !ok {
		rec, found, err := c.backend.Get(ctx, t, k.id)
		if err != nil {
			return nil, c.backendError("merge", err)
		}
		if found {
			if target, err = c.hydrateLocked(rec); err != nil {
				return nil, err
			}
		}
	}
	if target == nil {
		fresh, _ := c.schema.New(t)
		if err := copyEntity(fresh, e); err != nil {
			return nil, err
		}
		c.attachLoaders(fresh)
		fresh.Meta().MarkManaged(c.label)
		c.pending = append(c.pending, fresh)
		c.logger.Debug("merged detached entity scheduled for insert", "entity", string(t), "id", k.id)
		return fresh, nil
	}
	if err := copyEntity(target, e); err != nil {
		return nil, err
	}
	c.attachLoaders(target)
	delete(c.removed, k)
	return target, nil
}

// copyEntity copies serialised fields of src onto dst, keeping the creation
// time of dst when src has none.
func copyEntity(dst, src domain.Entity) error {
	created := dst.Meta().CreatedAt
	if err := domain.CopyFields(dst, src); err != nil {
		return err
	}
	if dst.Meta().CreatedAt.IsZero() {
		dst.Meta().CreatedAt = created
	}
	return nil
}

// Refresh reloads the fields of a tracked entity from the backend.
func (c *Context) Refresh(ctx context.Context, e domain.Entity) error {
	if domain.IsNil(e) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.containsLocked(e) {
		return fmt.Errorf("refresh %s %s in %s: %w", e.EntityType(), e.Meta().ID, c.label, ErrDetached)
	}
	if e.Meta().ID == "" {
		return nil
	}
	rec, ok, err := c.backend.Get(ctx, e.EntityType(), e.Meta().ID)
	if err != nil {
		return c.backendError("refresh", err)
	}
	if !ok {
		return fmt.Errorf("refresh %s %s: %w", e.EntityType(), e.Meta().ID, ErrNotFound)
	}
	if err := domain.DecodeInto(e, rec); err != nil {
		return err
	}
	orig, err := domain.Encode(e)
	if err != nil {
		return err
	}
	c.attachLoaders(e)
	c.originals[keyOf(e)] = orig
	return nil
}

// Flush writes pending inserts, changed managed entities, and removals to the
// backend in one atomic Apply. Identities are assigned here. When the backend
// rejects the batch the identities assigned by this call are withdrawn.
func (c *Context) Flush(ctx context.Context) (err error) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() { c.observer.Flushed(c.label, time.Since(start), err) }()

	now := c.now()
	type stamp struct {
		e       domain.Entity
		id      bool
		created time.Time
		updated time.Time
	}
	var stamps []stamp
	for _, e := range c.pending {
		meta := e.Meta()
		s := stamp{e: e, created: meta.CreatedAt, updated: meta.UpdatedAt}
		if meta.ID == "" {
			meta.ID = c.newID()
			s.id = true
		}
		if meta.CreatedAt.IsZero() {
			meta.CreatedAt = now
		}
		meta.UpdatedAt = now
		stamps = append(stamps, s)
	}
	rollback := func() {
		for _, s := range stamps {
			if s.id {
				s.e.Meta().ID = ""
			}
			s.e.Meta().CreatedAt = s.created
			s.e.Meta().UpdatedAt = s.updated
		}
	}

	mutations := make([]domain.Mutation, 0, len(c.pending)+len(c.removed))
	inserted := make([]domain.Record, 0, len(c.pending))
	for _, e := range c.pending {
		rec, encErr := domain.Encode(e)
		if encErr != nil {
			rollback()
			return encErr
		}
		inserted = append(inserted, rec)
		mutations = append(mutations, domain.Mutation{Action: domain.ActionCreate, Record: rec})
	}

	updated := make(map[entityKey]domain.Record)
	var touched []domain.Entity
	var prevUpdated []time.Time
	for _, k := range sortedKeys(c.managed) {
		if _, gone := c.removed[k]; gone {
			continue
		}
		e := c.managed[k]
		rec, encErr := domain.Encode(e)
		if encErr != nil {
			rollback()
			return encErr
		}
		if orig, ok := c.originals[k]; ok && orig.Equal(rec) {
			continue
		}
		touched = append(touched, e)
		prevUpdated = append(prevUpdated, e.Meta().UpdatedAt)
		e.Meta().UpdatedAt = now
		if rec, encErr = domain.Encode(e); encErr != nil {
			rollback()
			return encErr
		}
		updated[k] = rec
		mutations = append(mutations, domain.Mutation{Action: domain.ActionUpdate, Record: rec})
	}
	for _, k := range sortedKeys(c.removed) {
		mutations = append(mutations, domain.Mutation{Action: domain.ActionDelete, Record: domain.Record{Type: k.t, ID: k.id}})
	}
	if len(mutations) == 0 {
		return nil
	}

	if applyErr := c.backend.Apply(ctx, mutations); applyErr != nil {
		rollback()
		for i, e := range touched {
			e.Meta().UpdatedAt = prevUpdated[i]
		}
		c.logger.Warn("flush rejected", "op", "flush", "mutations", len(mutations), "error", applyErr)
		return fmt.Errorf("flush %s: %w", c.label, applyErr)
	}

	for i, e := range c.pending {
		k := keyOf(e)
		c.managed[k] = e
		c.originals[k] = inserted[i]
	}
	for k, rec := range updated {
		c.originals[k] = rec
	}
	for k, e := range c.removed {
		delete(c.managed, k)
		delete(c.originals, k)
		e.Meta().MarkDetached()
	}
	c.pending = nil
	c.removed = make(map[entityKey]domain.Entity)
	c.generation++
	c.logger.Debug("flushed", "op", "flush", "mutations", len(mutations))
	return nil
}

// Discard drops staged work: pending inserts are released, removals are
// cancelled, and modified managed entities are restored from their last
// known records.
func (c *Context) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.pending {
		e.Meta().MarkDetached()
	}
	c.pending = nil
	c.removed = make(map[entityKey]domain.Entity)
	for k, e := range c.managed {
		orig, ok := c.originals[k]
		if !ok {
			continue
		}
		if rec, err := domain.Encode(e); err == nil && rec.Equal(orig) {
			continue
		}
		if err := domain.DecodeInto(e, orig); err != nil {
			c.logger.Warn("discard could not restore entity", "entity", string(k.t), "id", k.id, "error", err)
			continue
		}
		c.attachLoaders(e)
	}
}

// Clear releases every tracked entity. Released instances become detached.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.managed) + len(c.pending)
	for _, e := range c.managed {
		e.Meta().MarkDetached()
	}
	for _, e := range c.pending {
		e.Meta().MarkDetached()
	}
	c.managed = make(map[entityKey]domain.Entity)
	c.originals = make(map[entityKey]domain.Record)
	c.removed = make(map[entityKey]domain.Entity)
	c.pending = nil
	c.generation++
	if n > 0 {
		c.logger.Debug("identity map cleared", "op", "clear", "released", n)
	}
}

func (c *Context) backendError(op string, err error) error {
	c.observer.ContextFailed(c.label, op, err)
	return &domain.ContextError{Label: c.label, Op: op, Err: err}
}

func sortedKeys[V any](m map[entityKey]V) []entityKey {
	keys := make([]entityKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].t != keys[j].t {
			return keys[i].t < keys[j].t
		}
		return keys[i].id < keys[j].id
	})
	return keys
}
