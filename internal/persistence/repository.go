package persistence

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"shopcore/pkg/domain"
)

// Criteria is a conjunction of field = value constraints keyed by JSON field
// name. Relations may be constrained by "<name>_id" or by "<name>" with either
// an identity string or an entity value.
type Criteria map[string]any

// Direction orders query results.
type Direction int

// Sort directions.
const (
	Asc Direction = iota
	Desc
)

type query struct {
	orderBy []ordering
	limit   int
	offset  int
}

type ordering struct {
	field string
	dir   Direction
}

// QueryOption refines FindBy results.
type QueryOption func(*query)

// OrderBy sorts by field. Several orderings apply in sequence; identity breaks ties.
func OrderBy(field string, dir Direction) QueryOption {
	return func(q *query) { q.orderBy = append(q.orderBy, ordering{field: field, dir: dir}) }
}

// Limit caps the number of results. Zero or negative means unlimited.
func Limit(n int) QueryOption {
	return func(q *query) { q.limit = n }
}

// Offset skips the first n results.
func Offset(n int) QueryOption {
	return func(q *query) { q.offset = n }
}

// Repository exposes CRUD for one entity type against whichever context is
// current for the calling request.
type Repository[T domain.Entity] struct {
	reg *Registry
	typ domain.EntityType
}

// NewRepository returns a repository for T bound to reg.
func NewRepository[T domain.Entity](reg *Registry) *Repository[T] {
	var zero T
	return &Repository[T]{reg: reg, typ: zero.EntityType()}
}

// Type returns the entity type served by the repository.
func (r *Repository[T]) Type() domain.EntityType { return r.typ }

// FindByID returns the entity with id, or the zero T when absent.
func (r *Repository[T]) FindByID(ctx context.Context, id string) (T, error) {
	var zero T
	c, err := r.reg.Current(ctx)
	if err != nil {
		return zero, err
	}
	e, err := c.Find(ctx, r.typ, id)
	if err != nil || e == nil {
		return zero, err
	}
	return r.cast(e)
}

// FindAll returns every stored entity ordered by identity.
func (r *Repository[T]) FindAll(ctx context.Context) ([]T, error) {
	return r.FindBy(ctx, nil)
}

// FindBy returns the entities matching criteria.
func (r *Repository[T]) FindBy(ctx context.Context, criteria Criteria, opts ...QueryOption) ([]T, error) {
	c, err := r.reg.Current(ctx)
	if err != nil {
		return nil, err
	}
	var q query
	for _, opt := range opts {
		if opt != nil {
			opt(&q)
		}
	}
	constraints, err := r.compile(criteria)
	if err != nil {
		return nil, err
	}
	entities, err := c.List(ctx, r.typ)
	if err != nil {
		return nil, err
	}

	type row struct {
		entity T
		fields map[string]any
	}
	rows := make([]row, 0, len(entities))
	for _, e := range entities {
		rec, err := domain.Encode(e)
		if err != nil {
			return nil, err
		}
		if !matches(rec, constraints) {
			continue
		}
		typed, err := r.cast(e)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row{entity: typed, fields: decodeFields(rec, q.orderBy)})
	}

	if len(q.orderBy) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, o := range q.orderBy {
				d := compareValues(rows[i].fields[o.field], rows[j].fields[o.field])
				if d == 0 {
					continue
				}
				if o.dir == Desc {
					return d > 0
				}
				return d < 0
			}
			return rows[i].entity.Meta().ID < rows[j].entity.Meta().ID
		})
	}

	if q.offset > 0 {
		if q.offset >= len(rows) {
			rows = rows[:0]
		} else {
			rows = rows[q.offset:]
		}
	}
	if q.limit > 0 && len(rows) > q.limit {
		rows = rows[:q.limit]
	}
	out := make([]T, len(rows))
	for i, rw := range rows {
		out[i] = rw.entity
	}
	return out, nil
}

// Count returns the number of entities matching criteria.
func (r *Repository[T]) Count(ctx context.Context, criteria Criteria) (int, error) {
	found, err := r.FindBy(ctx, criteria)
	if err != nil {
		return 0, err
	}
	return len(found), nil
}

// Save schedules entity for persistence in the current context and flushes
// when flush is set. Detached entities must be merged first.
func (r *Repository[T]) Save(ctx context.Context, entity T, flush bool) error {
	c, err := r.reg.Current(ctx)
	if err != nil {
		return err
	}
	if err := c.Persist(entity); err != nil {
		return err
	}
	if flush {
		return c.Flush(ctx)
	}
	return nil
}

// Remove schedules entity for deletion and flushes when flush is set.
func (r *Repository[T]) Remove(ctx context.Context, entity T, flush bool) error {
	c, err := r.reg.Current(ctx)
	if err != nil {
		return err
	}
	if err := c.Remove(entity); err != nil {
		return err
	}
	if flush {
		return c.Flush(ctx)
	}
	return nil
}

// Flush writes staged changes of the current context.
func (r *Repository[T]) Flush(ctx context.Context) error {
	c, err := r.reg.Current(ctx)
	if err != nil {
		return err
	}
	return c.Flush(ctx)
}

func (r *Repository[T]) cast(e domain.Entity) (T, error) {
	typed, ok := e.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("repository %s: unexpected %T", r.typ, e)
	}
	return typed, nil
}

// compile resolves criteria field names and encodes values as JSON.
func (r *Repository[T]) compile(criteria Criteria) (map[string]json.RawMessage, error) {
	if len(criteria) == 0 {
		return nil, nil
	}
	proto, ok := r.reg.Schema().New(r.typ)
	if !ok {
		return nil, fmt.Errorf("repository %s: %w", r.typ, ErrUnknownType)
	}
	rec, err := domain.Encode(proto)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(criteria))
	for field, value := range criteria {
		name := field
		if _, ok := rec.Fields[name]; !ok {
			if _, ok := rec.Fields[name+"_id"]; !ok {
				return nil, fmt.Errorf("repository %s: unknown field %q", r.typ, field)
			}
			name += "_id"
		}
		if e, ok := value.(domain.Entity); ok {
			if domain.IsNil(e) {
				value = nil
			} else {
				value = e.Meta().ID
			}
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("repository %s: encode criterion %q: %w", r.typ, field, err)
		}
		out[name] = canonical(data)
	}
	return out, nil
}

func matches(rec domain.Record, constraints map[string]json.RawMessage) bool {
	for field, want := range constraints {
		got, ok := rec.Fields[field]
		if !ok {
			got = json.RawMessage("null")
		}
		if !bytes.Equal(canonical(got), want) {
			return false
		}
	}
	return true
}

// canonical re-encodes JSON so numerically equal values compare equal.
func canonical(data []byte) []byte {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return data
	}
	out, err := json.Marshal(v)
	if err != nil {
		return data
	}
	return out
}

func decodeFields(rec domain.Record, orderBy []ordering) map[string]any {
	if len(orderBy) == 0 {
		return nil
	}
	out := make(map[string]any, len(orderBy))
	for _, o := range orderBy {
		raw, ok := rec.Fields[o.field]
		if !ok {
			raw, ok = rec.Fields[o.field+"_id"]
		}
		if !ok {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			out[o.field] = v
		}
	}
	return out
}

// compareValues orders decoded JSON values. Null sorts first; RFC 3339 strings
// compare as instants; mismatched kinds compare by their printed form.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return cmp.Compare(av, bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			ta, errA := time.Parse(time.RFC3339Nano, av)
			tb, errB := time.Parse(time.RFC3339Nano, bv)
			if errA == nil && errB == nil {
				return ta.Compare(tb)
			}
			return cmp.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	}
	if reflect.DeepEqual(a, b) {
		return 0
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
