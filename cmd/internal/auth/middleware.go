package auth

import (
	"net/http"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/permission"
)

type middlewareOptions struct {
	strict bool
}

// MiddlewareOption configures RequireAuth.
type MiddlewareOption func(*middlewareOptions)

// Strict additionally requires the token's session row to exist.
func Strict() MiddlewareOption {
	return func(o *middlewareOptions) { o.strict = true }
}

// RequireAuth resolves the bearer token into an AuthContext stored on the
// request context, or rejects with 401.
func (s *Service) RequireAuth(next http.Handler, opts ...MiddlewareOption) http.Handler {
	o := middlewareOptions{strict: s.cfg.StrictSessions}
	for _, opt := range opts {
		opt(&o)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := BearerToken(r)
		if !ok {
			WriteError(w, identity.Unauthenticated("auth.RequireAuth"))
			return
		}

		authenticate := s.Authenticate
		if o.strict {
			authenticate = s.AuthenticateSession
		}
		ac, err := authenticate(r.Context(), raw)
		if err != nil {
			if identity.IsUnavailable(err) {
				s.log.Error("auth.authenticate.fail", "err", err)
			} else {
				s.log.Debug("auth.authenticate.reject", "kind", identity.KindOf(err))
			}
			WriteError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
	})
}

// RequirePermission is RequireAuth followed by a permission check that
// rejects with 403.
func (s *Service) RequirePermission(res permission.Resource, act permission.Action, next http.Handler, opts ...MiddlewareOption) http.Handler {
	check := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, _ := FromContext(r.Context())
		if err := s.Authorize(ac, res, act); err != nil {
			s.log.Info("auth.authorize.deny",
				"user_id", ac.UserID,
				"role", string(ac.Role),
				"resource", string(res),
				"action", string(act),
			)
			WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
	return s.RequireAuth(check, opts...)
}

// RequireResource is RequirePermission with the action derived from the
// request method. item selects Read over List for GET.
func (s *Service) RequireResource(res permission.Resource, item bool, next http.Handler, opts ...MiddlewareOption) http.Handler {
	byMethod := make(map[string]http.Handler)
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		act, _ := permission.ActionFromMethod(m, item)
		byMethod[m] = s.RequirePermission(res, act, next, opts...)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := byMethod[r.Method]
		if !ok {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ServeHTTP(w, r)
	})
}
