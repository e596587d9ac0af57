// Package memory provides an in-memory implementation of the domain backend
// used for tests, dev environments, and as the write-through cache of the SQL
// backends.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"shopcore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain backend interface.
var _ domain.Backend = (*Store)(nil)

var (
	// ErrNotFound is returned when an update or delete targets a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned when a create targets an identity already stored.
	ErrExists = errors.New("record already exists")
	// ErrClosed is returned by Ping once the store has been closed.
	ErrClosed = errors.New("store closed")
)

// CommitHook receives the fully applied state before it replaces the current
// one. Returning an error aborts the commit and leaves the store untouched.
type CommitHook func(ctx context.Context, next domain.Snapshot) error

// Option configures a Store.
type Option func(*Store)

// WithCommitHook registers hook to run before each commit.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.commit = hook }
}

// Store keeps every record in memory and applies mutations on a cloned state
// that is swapped in only when every mutation succeeds.
type Store struct {
	mu     sync.RWMutex
	state  domain.Snapshot
	commit CommitHook
	closed bool
}

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{state: make(domain.Snapshot)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Get returns a copy of the record identified by t and id.
func (s *Store) Get(ctx context.Context, t domain.EntityType, id string) (domain.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.state[t][id]
	if !ok {
		return domain.Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

// List returns copies of every record of type t ordered by identity.
func (s *Store) List(ctx context.Context, t domain.EntityType) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.state[t]
	out := make([]domain.Record, 0, len(bucket))
	for _, rec := range bucket {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Apply commits mutations atomically.
func (s *Store) Apply(ctx context.Context, mutations []domain.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	for i, m := range mutations {
		if err := applyMutation(next, m); err != nil {
			return fmt.Errorf("memory store: mutation %d: %w", i, err)
		}
	}
	if s.commit != nil {
		if err := s.commit(ctx, next.Clone()); err != nil {
			return fmt.Errorf("memory store: commit: %w", err)
		}
	}
	s.state = next
	return nil
}

func applyMutation(state domain.Snapshot, m domain.Mutation) error {
	rec := m.Record
	if rec.Type == "" || rec.ID == "" {
		return fmt.Errorf("%s requires type and identity", m.Action)
	}
	bucket := state[rec.Type]
	if bucket == nil {
		bucket = make(map[string]domain.Record)
		state[rec.Type] = bucket
	}
	_, exists := bucket[rec.ID]
	switch m.Action {
	case domain.ActionCreate:
		if exists {
			return fmt.Errorf("create %s %s: %w", rec.Type, rec.ID, ErrExists)
		}
		bucket[rec.ID] = rec.Clone()
	case domain.ActionUpdate:
		if !exists {
			return fmt.Errorf("update %s %s: %w", rec.Type, rec.ID, ErrNotFound)
		}
		bucket[rec.ID] = rec.Clone()
	case domain.ActionDelete:
		if !exists {
			return fmt.Errorf("delete %s %s: %w", rec.Type, rec.ID, ErrNotFound)
		}
		delete(bucket, rec.ID)
	default:
		return fmt.Errorf("unsupported action %q", m.Action)
	}
	return nil
}

// Export returns a deep copy of the full state.
func (s *Store) Export(ctx context.Context) (domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.ExportState(), nil
}

// Import replaces the full state with snapshot, running the commit hook first.
func (s *Store) Import(ctx context.Context, snapshot domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next := normalize(snapshot)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commit != nil {
		if err := s.commit(ctx, next.Clone()); err != nil {
			return fmt.Errorf("memory store: import: %w", err)
		}
	}
	s.state = next
	return nil
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// ImportState replaces the store state without running the commit hook. SQL
// backends use it to hydrate from their own tables.
func (s *Store) ImportState(snapshot domain.Snapshot) {
	next := normalize(snapshot)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = next
}

// normalize clones snapshot and realigns record headers with their bucket keys.
func normalize(snapshot domain.Snapshot) domain.Snapshot {
	out := make(domain.Snapshot, len(snapshot))
	for t, bucket := range snapshot {
		cp := make(map[string]domain.Record, len(bucket))
		for id, rec := range bucket {
			rec = rec.Clone()
			rec.Type = t
			rec.ID = id
			cp[id] = rec
		}
		out[t] = cp
	}
	return out
}

// Ping reports whether the store is still open.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the store closed. Data stays readable so a reopened context
// sharing the store sees prior writes.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Reopen clears the closed flag.
func (s *Store) Reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
}
