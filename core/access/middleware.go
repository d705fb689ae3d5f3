package access

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/kumii/core"
	"github.com/relabs-tech/kumii/core/envelope"
	"github.com/relabs-tech/kumii/core/logger"
)

// ProfileLoader looks up the profile of a verified user. It returns nil and no error
// if the user has no profile.
type ProfileLoader interface {
	LoadAuthorization(ctx context.Context, userID uuid.UUID) (*Authorization, error)
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header
func bearerToken(r *http.Request) (string, bool) {
	bearer := r.Header.Get("Authorization")
	if len(bearer) < 8 || !strings.EqualFold(bearer[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(bearer[7:])
	return token, len(token) > 0 && token != "null"
}

// Authenticate returns a middleware which requires a valid bearer token on every request.
//
// The token is checked by the verifier, the role comes from the caller's profile. On
// success the authorization is stored in the request context and the request logger
// carries the user id as identity.
func Authenticate(verifier TokenVerifier, profiles ProfileLoader) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AuthorizationFromContext(r.Context()) != nil { // already authorized
				h.ServeHTTP(w, r)
				return
			}
			rlog := logger.FromContext(r.Context())

			tokenString, ok := bearerToken(r)
			if !ok {
				envelope.Error(w, http.StatusUnauthorized, "Missing or invalid authorization header")
				return
			}

			identity, err := verifier.Verify(r.Context(), tokenString)
			if err != nil {
				if !errors.Is(err, ErrInvalidToken) {
					rlog.WithError(err).Errorln("Error 4720: token verification failed")
				} else {
					rlog.Warnln("Invalid token attempt")
				}
				envelope.Error(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			ctx, rlog := logger.ContextWithLoggerIdentity(r.Context(), identity.UserID.String())

			auth, err := profiles.LoadAuthorization(ctx, identity.UserID)
			if err != nil {
				rlog.WithError(err).Errorln("Error 4723: cannot load profile")
				envelope.Error(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			if auth == nil {
				rlog.Warnln("Profile not found for user")
				envelope.Error(w, http.StatusForbidden, "User profile not found")
				return
			}
			if auth.Email == "" {
				auth.Email = identity.Email
			}

			ctx = ContextWithAuthorization(ctx, auth)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns a middleware which only lets requests pass whose authorization
// has one of the given roles.
func RequireRole(roles ...core.Role) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := AuthorizationFromContext(r.Context())
			if auth == nil {
				envelope.Error(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			if !auth.HasRole(roles...) {
				logger.FromContext(r.Context()).WithField("role", auth.Role).
					Warnf("Insufficient permissions, required one of %v", roles)
				envelope.Error(w, http.StatusForbidden, "Insufficient permissions")
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}

// RequireModerator lets moderators and admins pass
func RequireModerator() mux.MiddlewareFunc {
	return RequireRole(core.RoleModerator, core.RoleAdmin)
}

// RequireAdmin lets admins pass
func RequireAdmin() mux.MiddlewareFunc {
	return RequireRole(core.RoleAdmin)
}
