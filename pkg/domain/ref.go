package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoLoader is returned when an unloaded reference has no loader attached.
var ErrNoLoader = errors.New("domain: reference has no loader")

// Loader fetches the target of an unloaded reference by identity.
type Loader[T Entity] func(ctx context.Context, id string) (T, error)

// Ref is a to-one relationship slot. It is null, Loaded(target), or
// Unloaded(id, loader). An unloaded Ref is the stand-in for a target that has
// not been fetched yet. Refs serialise as the target identity.
type Ref[T Entity] struct {
	target T
	id     string
	loader Loader[T]
	loaded bool
}

// Loaded returns a reference holding target. A nil target yields a null reference.
func Loaded[T Entity](target T) Ref[T] {
	if IsNil(target) {
		return Ref[T]{}
	}
	return Ref[T]{target: target, loaded: true}
}

// Unloaded returns a stand-in for the entity identified by id. An empty id
// yields a null reference.
func Unloaded[T Entity](id string, loader Loader[T]) Ref[T] {
	if id == "" {
		return Ref[T]{}
	}
	return Ref[T]{id: id, loader: loader}
}

// IsNull reports whether the relationship is unset.
func (r Ref[T]) IsNull() bool { return !r.loaded && r.id == "" }

// IsLoaded reports whether the reference holds a concrete target.
func (r Ref[T]) IsLoaded() bool { return r.loaded }

// ID returns the target identity. A loaded transient target has no identity yet.
func (r Ref[T]) ID() string {
	if r.loaded {
		return r.target.Meta().ID
	}
	return r.id
}

// Get returns the loaded target.
func (r Ref[T]) Get() (T, bool) {
	return r.target, r.loaded
}

// State reports StateProxy for unloaded references, otherwise the target state.
func (r Ref[T]) State() EntityState {
	switch {
	case r.loaded:
		return r.target.Meta().State()
	case r.id != "":
		return StateProxy
	default:
		return StateTransient
	}
}

// Resolve forces an unloaded reference using its own loader and keeps the result.
func (r *Ref[T]) Resolve(ctx context.Context) (T, error) {
	var zero T
	if r.loaded {
		return r.target, nil
	}
	if r.id == "" {
		return zero, nil
	}
	if r.loader == nil {
		return zero, fmt.Errorf("resolve %s %s: %w", r.TargetType(), r.id, ErrNoLoader)
	}
	target, err := r.loader(ctx, r.id)
	if err != nil {
		return zero, err
	}
	if IsNil(target) {
		return zero, fmt.Errorf("resolve %s %s: loader returned nil", r.TargetType(), r.id)
	}
	*r = Loaded(target)
	return target, nil
}

// MarshalJSON encodes the reference as the target identity or null.
func (r Ref[T]) MarshalJSON() ([]byte, error) {
	id := r.ID()
	if id == "" {
		return []byte("null"), nil
	}
	return json.Marshal(id)
}

// UnmarshalJSON decodes a target identity. A loaded reference to the same
// identity is kept as is; any other identity becomes an unloaded stand-in.
func (r *Ref[T]) UnmarshalJSON(data []byte) error {
	var id *string
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("decode %s reference: %w", r.TargetType(), err)
	}
	if id == nil || *id == "" {
		*r = Ref[T]{}
		return nil
	}
	if r.loaded && r.target.Meta().ID == *id {
		return nil
	}
	*r = Ref[T]{id: *id}
	return nil
}

// RelationSlot is the type-erased view of a Ref used by graph traversal and
// lifecycle reconciliation.
type RelationSlot interface {
	TargetType() EntityType
	IsNull() bool
	IsLoaded() bool
	TargetID() string
	Target() (Entity, bool)
	Bind(target Entity) error
	SetLoader(load func(ctx context.Context, t EntityType, id string) (Entity, error))
}

// Relation names one to-one relationship of an entity.
type Relation struct {
	Name string
	Slot RelationSlot
}

// TargetType returns the entity type the reference points to.
func (r *Ref[T]) TargetType() EntityType {
	var zero T
	return zero.EntityType()
}

// TargetID implements RelationSlot.
func (r *Ref[T]) TargetID() string { return r.ID() }

// Target implements RelationSlot.
func (r *Ref[T]) Target() (Entity, bool) {
	if !r.loaded {
		return nil, false
	}
	return r.target, true
}

// Bind replaces the slot content with a loaded target of the matching type.
func (r *Ref[T]) Bind(target Entity) error {
	if IsNil(target) {
		*r = Ref[T]{}
		return nil
	}
	typed, ok := target.(T)
	if !ok {
		return fmt.Errorf("bind %s reference: got %s", r.TargetType(), target.EntityType())
	}
	*r = Loaded(typed)
	return nil
}

// SetLoader attaches a type-erased loader to an unloaded reference.
func (r *Ref[T]) SetLoader(load func(ctx context.Context, t EntityType, id string) (Entity, error)) {
	if r.loaded || r.id == "" || load == nil {
		return
	}
	targetType := r.TargetType()
	r.loader = func(ctx context.Context, id string) (T, error) {
		var zero T
		e, err := load(ctx, targetType, id)
		if err != nil {
			return zero, err
		}
		typed, ok := e.(T)
		if !ok {
			return zero, fmt.Errorf("load %s %s: unexpected %T", targetType, id, e)
		}
		return typed, nil
	}
}
