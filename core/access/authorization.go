/*
Package access provides utilities for access control

The Authenticate middleware verifies the bearer token of a request, looks up the
caller's profile and stores the resulting Authorization in the request context.
RequireRole restricts routes to a set of roles.
*/
package access

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/kumii/core"
	"github.com/relabs-tech/kumii/core/envelope"
	"github.com/relabs-tech/kumii/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyAuthorization contextKey = "_authorization_"
)

/*
Authorization is a context object which stores authorization information
for the user who is currently logged in.

Authorizations are added to a request context with

	ctx = access.ContextWithAuthorization(ctx, auth)

and retrieved with

	auth := access.AuthorizationFromContext(ctx)
*/
type Authorization struct {
	UserID uuid.UUID `json:"id"`
	Email  string    `json:"email"`
	Role   core.Role `json:"role"`
}

// HasRole returns true if the authorization has one of the requested roles;
// otherwise it returns false.
func (a *Authorization) HasRole(roles ...core.Role) bool {
	if a == nil {
		return false
	}
	for _, role := range roles {
		if a.Role == role {
			return true
		}
	}
	return false
}

// IsModerator returns true for moderators and admins
func (a *Authorization) IsModerator() bool {
	return a.HasRole(core.RoleModerator, core.RoleAdmin)
}

// ContextWithAuthorization returns a new context with this authorization added to it
func ContextWithAuthorization(ctx context.Context, a *Authorization) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

type cachedIdentity struct {
	identity  *Identity
	expiresAt time.Time
}

// IdentityCache is an in-memory cache for verified identities. It is used by the
// remote verifier to cache the result for bearer tokens until they expire.
type IdentityCache struct {
	mutex     sync.RWMutex
	cache     map[string]cachedIdentity
	maxAge    time.Duration
	nextSweep time.Time
}

// NewIdentityCache creates a new identity cache. Entries live at most maxAge.
func NewIdentityCache(maxAge time.Duration) *IdentityCache {
	return &IdentityCache{cache: make(map[string]cachedIdentity), maxAge: maxAge}
}

// Read returns an identity from in-process cache.
// Token should be the temporary token the identity was derived from.
// This function is go-route safe
func (c *IdentityCache) Read(token string) *Identity {
	c.mutex.RLock()
	entry, ok := c.cache[token]
	c.mutex.RUnlock()
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mutex.Lock()
		delete(c.cache, token)
		c.mutex.Unlock()
		return nil
	}
	return entry.identity
}

// Write stores an identity in the in-memory cache. At most once per maxAge it also drops
// all expired entries.
// This function is go-route safe
func (c *IdentityCache) Write(token string, identity *Identity) {
	now := time.Now()
	expiresAt := now.Add(c.maxAge)
	if !identity.ExpiresAt.IsZero() && identity.ExpiresAt.Before(expiresAt) {
		expiresAt = identity.ExpiresAt
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if now.After(c.nextSweep) {
		for key, entry := range c.cache {
			if now.After(entry.expiresAt) {
				delete(c.cache, key)
			}
		}
		c.nextSweep = now.Add(c.maxAge)
	}
	c.cache[token] = cachedIdentity{identity: identity, expiresAt: expiresAt}
}

// HandleAuthorizationRoute adds a route /authorization GET to the router
//
// The route returns the current authorization for provided bearer token.
func HandleAuthorizationRoute(router *mux.Router) {
	logger.Default().Debugln("authorization")
	logger.Default().Debugln("  handle route: /authorization GET")
	router.HandleFunc("/authorization", func(w http.ResponseWriter, r *http.Request) {
		auth := AuthorizationFromContext(r.Context())
		if auth == nil {
			envelope.Error(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		envelope.OK(w, http.StatusOK, auth)
	}).Methods(http.MethodGet)
}
