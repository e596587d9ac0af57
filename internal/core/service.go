// Package core is the composition root: it opens the backend of each
// environment label and wires the registry, resolver, validators, lifecycle
// manager and metrics into a Service.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"shopcore/internal/config"
	"shopcore/internal/environment"
	"shopcore/internal/infra/session/redis"
	"shopcore/internal/persistence"
	"shopcore/internal/validation"
	"shopcore/pkg/domain"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger passed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRegisterer sets where metrics are registered. A private registry is used by default.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Service) { s.registerer = reg }
}

// WithOpener replaces the configuration-driven backend opener.
func WithOpener(open persistence.Opener) Option {
	return func(s *Service) { s.open = open }
}

// WithSessionStore replaces the configured session store.
func WithSessionStore(store environment.SessionStore) Option {
	return func(s *Service) { s.sessions = store }
}

// Service bundles the environment-scoped persistence components of one process.
type Service struct {
	cfg        *config.Config
	logger     *slog.Logger
	registerer prometheus.Registerer
	open       persistence.Opener
	sessions   environment.SessionStore
	closers    []func() error

	metrics   *Metrics
	registry  *persistence.Registry
	resolver  *environment.Resolver
	lifecycle *persistence.LifecycleManager
	validator *validation.CascadeValidator
}

// NewService wires a Service from cfg. Backends are opened lazily on first use
// of each label; only the session store is contacted here.
func NewService(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Service{cfg: cfg, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	metrics, err := NewMetrics(s.registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	s.metrics = metrics
	if s.open == nil {
		s.open = NewOpener(cfg).Open
	}
	if s.sessions == nil {
		if s.sessions, err = s.openSessions(ctx); err != nil {
			return nil, err
		}
	}

	s.registry = persistence.NewRegistry(s.open,
		persistence.WithLogger(s.logger.With("component", "registry")),
		persistence.WithObserver(metrics),
	)
	s.resolver = environment.NewResolver(s.sessions,
		environment.WithDefault(cfg.Label()),
		environment.WithSessionKey(cfg.Session.Key),
		environment.WithSignals(environment.HTTPSignals{
			Param:  cfg.Signals.Param,
			Header: cfg.Signals.Header,
			Cookie: cfg.Signals.Cookie,
		}),
		environment.WithLogger(s.logger.With("component", "resolver")),
	)
	s.lifecycle = persistence.NewLifecycleManager(s.registry, s.logger)
	s.validator = validation.NewCascadeValidator(s.lifecycle,
		validation.WithLogger(s.logger.With("component", "cascade")),
		validation.WithFailureObserver(metrics),
	)
	return s, nil
}

func (s *Service) openSessions(ctx context.Context) (environment.SessionStore, error) {
	switch s.cfg.Session.Driver {
	case config.SessionMemory, "":
		return environment.NewMemorySessionStore(), nil
	case config.SessionRedis:
		rc := s.cfg.Session.Redis
		client := goredis.NewClient(&goredis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		store := redis.New(client,
			redis.WithPrefix(rc.Prefix),
			redis.WithTTL(rc.TTL),
			redis.WithLogger(s.logger.With("component", "sessions")),
		)
		// Resolution tolerates session failures, so an unreachable server is not fatal.
		if err := store.Ping(ctx); err != nil {
			s.logger.Warn("session store unreachable", "addr", rc.Addr, "error", err)
		}
		s.closers = append(s.closers, client.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session driver %s", s.cfg.Session.Driver)
	}
}

// Config returns the configuration the service was built from.
func (s *Service) Config() *config.Config { return s.cfg }

// Registry returns the persistence context registry.
func (s *Service) Registry() *persistence.Registry { return s.registry }

// Resolver returns the environment resolver.
func (s *Service) Resolver() *environment.Resolver { return s.resolver }

// Lifecycle returns the entity lifecycle manager.
func (s *Service) Lifecycle() *persistence.LifecycleManager { return s.lifecycle }

// Validator returns the cascade validator.
func (s *Service) Validator() *validation.CascadeValidator { return s.validator }

// Metrics returns the Prometheus exporter.
func (s *Service) Metrics() *Metrics { return s.metrics }

// Handler wraps next with environment resolution.
func (s *Service) Handler(next http.Handler) http.Handler { return s.resolver.Middleware(next) }

// Bind resolves req and returns ctx carrying the resulting label.
func (s *Service) Bind(ctx context.Context, req *environment.Request) (context.Context, domain.Label) {
	label := s.resolver.Resolve(ctx, req)
	return environment.WithLabel(ctx, label), label
}

// RepositoryFor returns a repository for T routed through the service registry.
func RepositoryFor[T domain.Entity](s *Service) *persistence.Repository[T] {
	return persistence.NewRepository[T](s.registry)
}

// SaveGraph is the write path for an entity graph. The graph is validated,
// normalized into the active context, every node is saved, and the context is
// flushed when flush is set. A blocked validation returns *domain.ValidationError
// without staging anything; a failure after staging discards the staged work.
// It returns the normalized root and the validation result, warnings included.
func (s *Service) SaveGraph(ctx context.Context, root domain.Entity, flush bool) (domain.Entity, domain.ValidationResult, error) {
	if domain.IsNil(root) {
		return nil, domain.ValidationResult{}, nil
	}
	res, err := s.validator.ValidateCascadeOperations(ctx, root)
	if err != nil {
		return nil, res, err
	}
	if !res.IsValid() {
		s.logger.Info("save blocked by validation", "op", "save", "entity", string(root.EntityType()), "errors", len(res.Errors()))
		return nil, res, &domain.ValidationError{Result: res}
	}
	c, err := s.registry.Current(ctx)
	if err != nil {
		return nil, res, err
	}
	normalized, err := s.lifecycle.NormalizeGraph(ctx, root)
	if err != nil {
		c.Discard()
		return nil, res, err
	}
	for _, n := range domain.Collect(normalized) {
		if err := c.Persist(n.Entity); err != nil {
			c.Discard()
			return nil, res, fmt.Errorf("save %s: %w", n.Entity.EntityType(), err)
		}
	}
	if flush {
		if err := c.Flush(ctx); err != nil {
			c.Discard()
			return nil, res, err
		}
	}
	if w := res.Warnings(); len(w) > 0 {
		s.logger.Debug("saved with warnings", "op", "save", "label", c.Label().String(), "warnings", w)
	}
	return normalized, res, nil
}

// Close releases every backend and the session client.
func (s *Service) Close() error {
	errs := []error{s.registry.Close()}
	for _, closeFn := range s.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}
