// Package environment selects the persistence environment label for an
// inbound request from its parameter, header, and session signals.
package environment

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"shopcore/pkg/domain"
)

// DefaultSessionKey is the session key holding the last explicit label.
const DefaultSessionKey = "environment"

// Request carries the raw signals of one inbound request and memoizes the
// label resolved for it. A Request must not be reused across requests.
type Request struct {
	Param     string
	Header    string
	SessionID string

	once  sync.Once
	label domain.Label
}

// NewRequest builds a request scope from raw signal values.
func NewRequest(param, header, sessionID string) *Request {
	return &Request{Param: param, Header: header, SessionID: sessionID}
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSessionKey overrides DefaultSessionKey.
func WithSessionKey(key string) Option {
	return func(r *Resolver) {
		if key != "" {
			r.sessionKey = key
		}
	}
}

// WithDefault overrides the fallback label. Invalid labels are ignored.
func WithDefault(label domain.Label) Option {
	return func(r *Resolver) {
		if label.Valid() {
			r.fallback = label
		}
	}
}

// WithLogger sets the logger used to report session failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSessionIDs overrides the generator of session identifiers issued by
// Middleware.
func WithSessionIDs(gen func() string) Option {
	return func(r *Resolver) {
		if gen != nil {
			r.newSessionID = gen
		}
	}
}

// WithSignals overrides the HTTP signal names used by Middleware.
func WithSignals(s HTTPSignals) Option {
	return func(r *Resolver) { r.signals = s.withDefaults() }
}

// Resolver determines the environment label of a request.
type Resolver struct {
	sessions   SessionStore
	sessionKey string
	fallback   domain.Label
	signals    HTTPSignals
	logger     *slog.Logger

	newSessionID func() string
}

// NewResolver constructs a resolver. sessions may be nil, in which case the
// session signal is never consulted nor written.
func NewResolver(sessions SessionStore, opts ...Option) *Resolver {
	r := &Resolver{
		sessions:   sessions,
		sessionKey: DefaultSessionKey,
		fallback:   domain.DefaultLabel,
		signals:    DefaultSignals(),
		logger:     slog.New(slog.DiscardHandler),

		newSessionID: uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve returns the label for req. Precedence is parameter, header, session,
// then the default. Invalid values are skipped. An explicit parameter or header
// value is written back to the session. The result is memoized on req.
func (r *Resolver) Resolve(ctx context.Context, req *Request) domain.Label {
	if req == nil {
		return r.fallback
	}
	req.once.Do(func() {
		req.label = r.resolve(ctx, req)
	})
	return req.label
}

func (r *Resolver) resolve(ctx context.Context, req *Request) domain.Label {
	for _, raw := range []string{req.Param, req.Header} {
		if label, ok := domain.ParseLabel(raw); ok {
			r.remember(ctx, req.SessionID, label)
			return label
		}
	}
	if r.sessions != nil && req.SessionID != "" {
		raw, ok, err := r.sessions.Get(ctx, req.SessionID, r.sessionKey)
		if err != nil {
			r.logger.WarnContext(ctx, "session read failed", "op", "resolve", "error", err)
		} else if ok {
			if label, valid := domain.ParseLabel(raw); valid {
				return label
			}
		}
	}
	return r.fallback
}

func (r *Resolver) remember(ctx context.Context, sessionID string, label domain.Label) {
	if r.sessions == nil || sessionID == "" {
		return
	}
	if err := r.sessions.Set(ctx, sessionID, r.sessionKey, label.String()); err != nil {
		r.logger.WarnContext(ctx, "session write failed", "op", "remember", "label", label.String(), "error", err)
	}
}

type labelKey struct{}

// WithLabel returns a copy of ctx carrying label.
func WithLabel(ctx context.Context, label domain.Label) context.Context {
	return context.WithValue(ctx, labelKey{}, label)
}

// LabelFrom returns the label stored in ctx by WithLabel.
func LabelFrom(ctx context.Context) (domain.Label, bool) {
	if ctx == nil {
		return "", false
	}
	label, ok := ctx.Value(labelKey{}).(domain.Label)
	return label, ok && label.Valid()
}
