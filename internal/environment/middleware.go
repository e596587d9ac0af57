package environment

import (
	"net/http"

	"shopcore/pkg/domain"
)

// HTTPSignals names the request elements read by Middleware.
type HTTPSignals struct {
	Param  string
	Header string
	Cookie string
}

// DefaultSignals returns the "env" query parameter, "X-Environment" header,
// and "session_id" cookie.
func DefaultSignals() HTTPSignals {
	return HTTPSignals{Param: "env", Header: "X-Environment", Cookie: "session_id"}
}

func (s HTTPSignals) withDefaults() HTTPSignals {
	def := DefaultSignals()
	if s.Param == "" {
		s.Param = def.Param
	}
	if s.Header == "" {
		s.Header = def.Header
	}
	if s.Cookie == "" {
		s.Cookie = def.Cookie
	}
	return s
}

// RequestFromHTTP extracts the environment signals of hr.
func (r *Resolver) RequestFromHTTP(hr *http.Request) *Request {
	req := &Request{
		Param:  hr.URL.Query().Get(r.signals.Param),
		Header: hr.Header.Get(r.signals.Header),
	}
	if c, err := hr.Cookie(r.signals.Cookie); err == nil {
		req.SessionID = c.Value
	}
	return req
}

// Middleware resolves the label of each request and stores it in the request
// context, where LabelFrom and the persistence registry pick it up. When a
// session store is configured and a request carries an explicit label but no
// session cookie, a new session identifier is issued so the choice sticks.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, hr *http.Request) {
		ctx := hr.Context()
		req := r.RequestFromHTTP(hr)
		if req.SessionID == "" && r.sessions != nil && explicit(req) {
			req.SessionID = r.newSessionID()
			http.SetCookie(w, &http.Cookie{
				Name:     r.signals.Cookie,
				Value:    req.SessionID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		label := r.Resolve(ctx, req)
		r.logger.DebugContext(ctx, "environment resolved", "label", label.String(), "path", hr.URL.Path)
		next.ServeHTTP(w, hr.WithContext(WithLabel(ctx, label)))
	})
}

func explicit(req *Request) bool {
	_, param := domain.ParseLabel(req.Param)
	_, header := domain.ParseLabel(req.Header)
	return param || header
}
