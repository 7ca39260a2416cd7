package middleware

import (
	"errors"
	"net/http"
	"slices"

	"agriconnect/pkg/auth"
	apperrors "agriconnect/pkg/errors"
	httputil "agriconnect/pkg/http"
	"agriconnect/pkg/logger"
	"agriconnect/pkg/model"
)

// Authenticate resolves the caller from the request token and stores it on
// the context. A missing token is 403 and a bad one 401, matching the
// account service.
func Authenticate(verifier *auth.Verifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := verifier.Verify(auth.TokenFromRequest(r, false))
			if err != nil {
				log.Warn("Authentication failed",
					"request_id", RequestIDFrom(r.Context()),
					"path", r.URL.Path,
					"error", err,
				)
				if errors.Is(err, auth.ErrMissingToken) {
					_ = httputil.WriteError(w, apperrors.Forbidden("Access denied"))
					return
				}
				_ = httputil.WriteError(w, apperrors.Unauthorized("Invalid token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireRole rejects callers whose role is not one of roles. It must run
// after Authenticate.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFrom(r.Context())
			if !ok || !slices.Contains(roles, identity.Role) {
				_ = httputil.WriteError(w, apperrors.Forbidden("Access denied"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
