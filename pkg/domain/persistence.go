package domain

import "context"

// Action indicates the type of modification carried by a Mutation.
type Action string

// Mutation actions applied by a backend commit.
const (
	// ActionCreate inserts a record that must not exist yet.
	ActionCreate Action = "create"
	// ActionUpdate replaces an existing record.
	ActionUpdate Action = "update"
	// ActionDelete removes an existing record.
	ActionDelete Action = "delete"
)

// Mutation is one staged write flushed from a unit of work.
type Mutation struct {
	Action Action
	Record Record
}

// Snapshot captures every record of a backend keyed by type then identity.
type Snapshot map[EntityType]map[string]Record

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for t, bucket := range s {
		cp := make(map[string]Record, len(bucket))
		for id, rec := range bucket {
			cp[id] = rec.Clone()
		}
		out[t] = cp
	}
	return out
}

// Count returns the total number of records.
func (s Snapshot) Count() int {
	n := 0
	for _, bucket := range s {
		n += len(bucket)
	}
	return n
}

// Backend is a durable record store for one environment label. Apply must be
// atomic: either every mutation is committed or none is.
type Backend interface {
	Get(ctx context.Context, t EntityType, id string) (Record, bool, error)
	List(ctx context.Context, t EntityType) ([]Record, error)
	Apply(ctx context.Context, mutations []Mutation) error
	Export(ctx context.Context) (Snapshot, error)
	Import(ctx context.Context, snapshot Snapshot) error
	Ping(ctx context.Context) error
	Close() error
}
