package persistence

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"shopcore/internal/environment"
	"shopcore/pkg/domain"
)

// Opener connects the backend configured for label.
type Opener func(ctx context.Context, label domain.Label) (domain.Backend, error)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the structured logger shared by the registry and its contexts.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver registers an observer for context and flush events.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithSchema overrides domain.DefaultSchema.
func WithSchema(s *domain.Schema) RegistryOption {
	return func(r *Registry) {
		if s != nil {
			r.schema = s
		}
	}
}

// Registry owns exactly one Context per environment label. It is created by
// the composition root and injected into every consumer.
type Registry struct {
	open     Opener
	schema   *domain.Schema
	logger   *slog.Logger
	observer Observer
	group    singleflight.Group

	mu       sync.Mutex
	contexts map[domain.Label]*Context
	active   domain.Label
}

// NewRegistry constructs a registry opening backends through open.
func NewRegistry(open Opener, opts ...RegistryOption) *Registry {
	r := &Registry{
		open:     open,
		schema:   domain.DefaultSchema(),
		logger:   slog.New(slog.DiscardHandler),
		observer: nopObserver{},
		contexts: make(map[domain.Label]*Context),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Schema returns the entity schema shared by every context.
func (r *Registry) Schema() *domain.Schema { return r.schema }

// Context returns the context for label and makes label the active one. The
// first access to a label other than the active one clears the identity maps
// of every other cached context.
func (r *Registry) Context(ctx context.Context, label domain.Label) (*Context, error) {
	c, err := r.Open(ctx, label)
	if err != nil {
		return nil, err
	}
	r.activate(label)
	return c, nil
}

// Current returns the context for the label carried by ctx, falling back to
// the active label and then the default label.
func (r *Registry) Current(ctx context.Context) (*Context, error) {
	if label, ok := environment.LabelFrom(ctx); ok {
		return r.Context(ctx, label)
	}
	r.mu.Lock()
	label := r.active
	r.mu.Unlock()
	if label == "" {
		label = domain.DefaultLabel
	}
	return r.Context(ctx, label)
}

// Open returns the context for label without changing the active label.
// Concurrent first opens of one label share a single backend connection.
func (r *Registry) Open(ctx context.Context, label domain.Label) (*Context, error) {
	if !label.Valid() {
		return nil, &domain.ContextError{Label: label, Op: "resolve", Err: domain.ErrUnknownLabel}
	}
	if c, ok := r.Peek(label); ok {
		return c, nil
	}
	v, err, _ := r.group.Do(string(label), func() (any, error) {
		if c, ok := r.Peek(label); ok {
			return c, nil
		}
		return r.connect(ctx, label)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Context), nil
}

func (r *Registry) connect(ctx context.Context, label domain.Label) (*Context, error) {
	if r.open == nil {
		return nil, r.fail(label, "open", errors.New("no backend opener configured"))
	}
	backend, err := r.open(ctx, label)
	if err != nil {
		return nil, r.fail(label, "open", err)
	}
	if err := backend.Ping(ctx); err != nil {
		_ = backend.Close()
		return nil, r.fail(label, "ping", err)
	}
	c := newContext(label, backend, r.schema, r.logger, r.observer)
	r.mu.Lock()
	r.contexts[label] = c
	r.mu.Unlock()
	r.observer.ContextOpened(label)
	r.logger.Info("persistence context opened", "label", label.String())
	return c, nil
}

func (r *Registry) fail(label domain.Label, op string, err error) error {
	r.observer.ContextFailed(label, op, err)
	r.logger.Error("persistence context unavailable", "label", label.String(), "op", op, "error", err)
	return &domain.ContextError{Label: label, Op: op, Err: err}
}

func (r *Registry) activate(label domain.Label) {
	r.mu.Lock()
	prev := r.active
	if prev == label {
		r.mu.Unlock()
		return
	}
	r.active = label
	var others []*Context
	for l, c := range r.contexts {
		if l != label {
			others = append(others, c)
		}
	}
	r.mu.Unlock()

	for _, c := range others {
		c.Clear()
	}
	if prev != "" {
		r.observer.LabelSwitched(prev, label)
		r.logger.Info("environment switched", "from", prev.String(), "to", label.String())
	}
}

// Peek returns the cached context for label without opening or activating it.
func (r *Registry) Peek(label domain.Label) (*Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[label]
	return c, ok
}

// ActiveLabel returns the label of the most recently activated context, or "".
func (r *Registry) ActiveLabel() domain.Label {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// ResetEnvironment forgets the active label and closes every cached context.
func (r *Registry) ResetEnvironment() error {
	r.mu.Lock()
	contexts := r.contexts
	r.contexts = make(map[domain.Label]*Context)
	r.active = ""
	r.mu.Unlock()

	var errs []error
	for label, c := range contexts {
		c.Clear()
		if err := c.backend.Close(); err != nil {
			errs = append(errs, &domain.ContextError{Label: label, Op: "close", Err: err})
		}
	}
	if len(contexts) > 0 {
		r.logger.Info("environment reset", "closed", len(contexts))
	}
	return errors.Join(errs...)
}

// Close releases every backend.
func (r *Registry) Close() error {
	return r.ResetEnvironment()
}
