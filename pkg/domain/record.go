package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Record is the backend representation of an entity: its identity plus every
// serialised field keyed by JSON name. Relations appear as "<name>_id" fields.
type Record struct {
	Type   EntityType                 `json:"type"`
	ID     string                     `json:"id"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	cp := Record{Type: r.Type, ID: r.ID}
	if r.Fields != nil {
		cp.Fields = make(map[string]json.RawMessage, len(r.Fields))
		for k, v := range r.Fields {
			cp.Fields[k] = append(json.RawMessage(nil), v...)
		}
	}
	return cp
}

// Equal reports whether both records carry the same type, identity and field bytes.
func (r Record) Equal(other Record) bool {
	if r.Type != other.Type || r.ID != other.ID || len(r.Fields) != len(other.Fields) {
		return false
	}
	for k, v := range r.Fields {
		ov, ok := other.Fields[k]
		if !ok || !bytes.Equal(v, ov) {
			return false
		}
	}
	return true
}

// FieldNames returns the record field names in ascending order.
func (r Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Encode serialises an entity into a Record.
func Encode(e Entity) (Record, error) {
	if IsNil(e) {
		return Record{}, fmt.Errorf("encode: nil entity")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", e.EntityType(), err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", e.EntityType(), err)
	}
	return Record{Type: e.EntityType(), ID: e.Meta().ID, Fields: fields}, nil
}

// DecodeInto overwrites the serialised fields of dst with rec. Lifecycle
// metadata of dst is left untouched.
func DecodeInto(dst Entity, rec Record) error {
	if IsNil(dst) {
		return fmt.Errorf("decode: nil entity")
	}
	if rec.Type != "" && rec.Type != dst.EntityType() {
		return fmt.Errorf("decode %s into %s", rec.Type, dst.EntityType())
	}
	data, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("decode %s: %w", rec.Type, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", rec.Type, err)
	}
	if rec.ID != "" {
		dst.Meta().ID = rec.ID
	}
	return nil
}

// CopyFields copies every serialised field of src onto dst.
func CopyFields(dst, src Entity) error {
	rec, err := Encode(src)
	if err != nil {
		return err
	}
	return DecodeInto(dst, rec)
}

// SameData reports whether a and b serialise to identical records.
func SameData(a, b Entity) (bool, error) {
	ra, err := Encode(a)
	if err != nil {
		return false, err
	}
	rb, err := Encode(b)
	if err != nil {
		return false, err
	}
	return ra.Equal(rb), nil
}

// Schema maps entity types to factories producing empty instances.
type Schema struct {
	factories map[EntityType]func() Entity
	order     []EntityType
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{factories: make(map[EntityType]func() Entity)}
}

// DefaultSchema returns a schema registering every business entity.
func DefaultSchema() *Schema {
	s := NewSchema()
	s.Register(EntityCompany, func() Entity { return &Company{} })
	s.Register(EntityShop, func() Entity { return &Shop{} })
	s.Register(EntityBranch, func() Entity { return &Branch{} })
	s.Register(EntityCustomer, func() Entity { return &Customer{} })
	s.Register(EntityProduct, func() Entity { return &Product{} })
	s.Register(EntityReservation, func() Entity { return &Reservation{} })
	return s
}

// Register adds or replaces the factory for t.
func (s *Schema) Register(t EntityType, factory func() Entity) {
	if _, ok := s.factories[t]; !ok {
		s.order = append(s.order, t)
	}
	s.factories[t] = factory
}

// Has reports whether t is registered.
func (s *Schema) Has(t EntityType) bool {
	_, ok := s.factories[t]
	return ok
}

// Types lists registered types in registration order.
func (s *Schema) Types() []EntityType {
	return append([]EntityType(nil), s.order...)
}

// New returns an empty instance of t.
func (s *Schema) New(t EntityType) (Entity, bool) {
	factory, ok := s.factories[t]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// Decode builds a fresh entity from rec.
func (s *Schema) Decode(rec Record) (Entity, error) {
	e, ok := s.New(rec.Type)
	if !ok {
		return nil, fmt.Errorf("decode: unknown entity type %q", rec.Type)
	}
	if err := DecodeInto(e, rec); err != nil {
		return nil, err
	}
	return e, nil
}

// Canonical returns rec as Encode would produce it for the decoded entity, so
// records read back from a backend compare equal to freshly encoded ones.
func (s *Schema) Canonical(rec Record) (Record, error) {
	e, err := s.Decode(rec)
	if err != nil {
		return Record{}, err
	}
	return Encode(e)
}
