// Package domain defines the business entities, lifecycle metadata, and
// validation primitives shared by the shopcore persistence router.
package domain

import (
	"reflect"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in a backend.
type EntityType string

// Supported entity type identifiers used as persistence buckets and in violations.
const (
	// EntityCompany identifies a company record.
	EntityCompany EntityType = "company"
	// EntityShop identifies a shop owned by a company.
	EntityShop EntityType = "shop"
	// EntityBranch identifies a branch attached to a shop.
	EntityBranch EntityType = "branch"
	// EntityCustomer identifies a customer record.
	EntityCustomer EntityType = "customer"
	// EntityProduct identifies a product sold by a shop.
	EntityProduct EntityType = "product"
	// EntityReservation identifies a product reservation placed by a customer.
	EntityReservation EntityType = "reservation"
)

// DisplayName returns the type name used in user facing messages ("Company").
func (t EntityType) DisplayName() string {
	if t == "" {
		return "Entity"
	}
	parts := strings.Split(string(t), "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "")
}

// EntityState describes an entity instance relative to a persistence context.
type EntityState int

// Lifecycle states. The zero value is StateTransient.
const (
	StateTransient EntityState = iota
	StateManaged
	StateDetached
	StateProxy
)

func (s EntityState) String() string {
	switch s {
	case StateTransient:
		return "transient"
	case StateManaged:
		return "managed"
	case StateDetached:
		return "detached"
	case StateProxy:
		return "proxy"
	default:
		return "unknown"
	}
}

// ReservationStatus enumerates reservation workflow states.
type ReservationStatus string

// Reservation statuses consumed by the reservation workflow.
const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
)

// LabelField is the name of the required label field declared by HasRequiredLabel types.
const LabelField = "label"

// Entity is implemented by every persistable business type.
type Entity interface {
	EntityType() EntityType
	Meta() *Base
	Relations() []Relation
}

// HasRequiredLabel marks entity types whose label must be non-blank before persistence.
type HasRequiredLabel interface {
	Entity
	RequiredLabel() string
}

// Base contains identity, timestamps, and lifecycle metadata for all records.
// Lifecycle fields are never serialised.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	state     EntityState
	owner     Label
}

// Meta exposes the base metadata of the embedding entity.
func (b *Base) Meta() *Base { return b }

// State reports the lifecycle state recorded for the instance. An instance
// carrying an identity that was never attached to a context is detached.
func (b *Base) State() EntityState {
	if b.state == StateTransient && b.ID != "" {
		return StateDetached
	}
	return b.state
}

// Owner returns the label of the context managing the instance, or "" when unmanaged.
func (b *Base) Owner() Label {
	if b.state != StateManaged {
		return ""
	}
	return b.owner
}

// MarkManaged records that the context for label tracks the instance.
func (b *Base) MarkManaged(label Label) {
	b.state = StateManaged
	b.owner = label
}

// MarkDetached records that no context tracks the instance any more.
func (b *Base) MarkDetached() {
	b.owner = ""
	if b.ID == "" {
		b.state = StateTransient
		return
	}
	b.state = StateDetached
}

// IsNil reports whether e is nil or a typed nil pointer.
func IsNil(e Entity) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// Company is the legal entity owning shops.
type Company struct {
	Base
	Label        string `json:"label"`
	Siret        string `json:"siret"`
	ContactEmail string `json:"contact_email"`
}

// EntityType implements Entity.
func (*Company) EntityType() EntityType { return EntityCompany }

// RequiredLabel implements HasRequiredLabel.
func (c *Company) RequiredLabel() string { return c.Label }

// Relations implements Entity. Companies reference nothing.
func (*Company) Relations() []Relation { return nil }

// Shop is a point of sale owned by a company.
type Shop struct {
	Base
	Label   string        `json:"label"`
	Address string        `json:"address"`
	City    string        `json:"city"`
	Company Ref[*Company] `json:"company_id"`
}

// EntityType implements Entity.
func (*Shop) EntityType() EntityType { return EntityShop }

// RequiredLabel implements HasRequiredLabel.
func (s *Shop) RequiredLabel() string { return s.Label }

// Relations implements Entity.
func (s *Shop) Relations() []Relation {
	return []Relation{{Name: "company", Slot: &s.Company}}
}

// Branch is a sub-location of a shop.
type Branch struct {
	Base
	Label   string        `json:"label"`
	Code    string        `json:"code"`
	Shop    Ref[*Shop]    `json:"shop_id"`
	Company Ref[*Company] `json:"company_id"`
}

// EntityType implements Entity.
func (*Branch) EntityType() EntityType { return EntityBranch }

// RequiredLabel implements HasRequiredLabel.
func (b *Branch) RequiredLabel() string { return b.Label }

// Relations implements Entity.
func (b *Branch) Relations() []Relation {
	return []Relation{
		{Name: "shop", Slot: &b.Shop},
		{Name: "company", Slot: &b.Company},
	}
}

// Customer is a person buying from a shop on behalf of a company.
type Customer struct {
	Base
	FirstName string        `json:"first_name"`
	LastName  string        `json:"last_name"`
	Email     string        `json:"email"`
	Phone     string        `json:"phone"`
	Company   Ref[*Company] `json:"company_id"`
	Shop      Ref[*Shop]    `json:"shop_id"`
	Branch    Ref[*Branch]  `json:"branch_id"`
}

// EntityType implements Entity.
func (*Customer) EntityType() EntityType { return EntityCustomer }

// Relations implements Entity.
func (c *Customer) Relations() []Relation {
	return []Relation{
		{Name: "company", Slot: &c.Company},
		{Name: "shop", Slot: &c.Shop},
		{Name: "branch", Slot: &c.Branch},
	}
}

// Product is an item a shop sells and reserves.
type Product struct {
	Base
	Label      string     `json:"label"`
	SKU        string     `json:"sku"`
	PriceCents int64      `json:"price_cents"`
	Stock      int        `json:"stock"`
	Shop       Ref[*Shop] `json:"shop_id"`
}

// EntityType implements Entity.
func (*Product) EntityType() EntityType { return EntityProduct }

// RequiredLabel implements HasRequiredLabel.
func (p *Product) RequiredLabel() string { return p.Label }

// Relations implements Entity.
func (p *Product) Relations() []Relation {
	return []Relation{{Name: "shop", Slot: &p.Shop}}
}

// Reservation holds a quantity of a product for a customer.
type Reservation struct {
	Base
	Reference  string            `json:"reference"`
	Status     ReservationStatus `json:"status"`
	Quantity   int               `json:"quantity"`
	ReservedAt time.Time         `json:"reserved_at"`
	Customer   Ref[*Customer]    `json:"customer_id"`
	Product    Ref[*Product]     `json:"product_id"`
	Shop       Ref[*Shop]        `json:"shop_id"`
}

// EntityType implements Entity.
func (*Reservation) EntityType() EntityType { return EntityReservation }

// Relations implements Entity.
func (r *Reservation) Relations() []Relation {
	return []Relation{
		{Name: "customer", Slot: &r.Customer},
		{Name: "product", Slot: &r.Product},
		{Name: "shop", Slot: &r.Shop},
	}
}
