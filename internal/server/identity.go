package server

import (
	"context"
	"net/http"
)

// Identity is the resolved caller: either an identified user or the
// anonymous default. It is resolved once per request and threaded
// through the context; a missing or invalid bearer token is anonymous,
// not an error.
type Identity struct {
	UserID    int64
	Anonymous bool
}

type ctxKey int

const identityKey ctxKey = iota

// withIdentity resolves the Authorization header to an Identity.
func (s *Server) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident := Identity{Anonymous: true}

		user, err := s.auth.UserFromAuthorization(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if user != nil {
			ident = Identity{UserID: user.ID}
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, ident)))
	})
}

// IdentityFrom returns the request identity, anonymous when unset.
func IdentityFrom(ctx context.Context) Identity {
	if ident, ok := ctx.Value(identityKey).(Identity); ok {
		return ident
	}
	return Identity{Anonymous: true}
}
