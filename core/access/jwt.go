package access

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/relabs-tech/kumii/core/logger"
)

// ErrInvalidToken is returned by token verifiers for tokens which cannot be trusted
var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the verified identity behind a bearer token
type Identity struct {
	UserID    uuid.UUID
	Email     string
	ExpiresAt time.Time
}

// TokenVerifier verifies bearer tokens
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// AuthenticatedAudience is the audience the auth service puts into access tokens of signed-in users
const AuthenticatedAudience = "authenticated"

type accessTokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 access tokens locally with the shared JWT secret of the
// auth service.
type JWTVerifier struct {
	secret   []byte
	audience string
}

// NewJWTVerifier returns a verifier for tokens signed with secret. If audience is not
// empty, tokens must carry it.
func NewJWTVerifier(secret, audience string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), audience: audience}
}

// Verify implements TokenVerifier
func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	claims := accessTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		logger.FromContext(ctx).Debugln("token rejected:", err)
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, ErrInvalidToken
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: userID, Email: claims.Email, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// RemoteVerifier verifies tokens by asking the auth service for the user behind them.
// Successful lookups are cached until the token expires, but at most 5 minutes.
type RemoteVerifier struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      *IdentityCache
}

// NewRemoteVerifier returns a verifier which calls GET {baseURL}/auth/v1/user
func NewRemoteVerifier(baseURL, apiKey string) *RemoteVerifier {
	return &RemoteVerifier{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      NewIdentityCache(5 * time.Minute),
	}
}

// Verify implements TokenVerifier
func (v *RemoteVerifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	if identity := v.cache.Read(tokenString); identity != nil {
		return identity, nil
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	r.Header.Set("Authorization", "Bearer "+tokenString)
	r.Header.Set("apikey", v.apiKey)
	res, err := v.httpClient.Do(r)
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return nil, ErrInvalidToken
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth service returned status %d", res.StatusCode)
	}

	var user struct {
		ID    uuid.UUID `json:"id"`
		Email string    `json:"email"`
	}
	if err := json.NewDecoder(res.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("auth service: cannot decode user: %w", err)
	}
	if user.ID == uuid.Nil {
		return nil, ErrInvalidToken
	}

	identity := &Identity{UserID: user.ID, Email: user.Email}
	claims := jwt.RegisteredClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(tokenString, &claims); err == nil && claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	v.cache.Write(tokenString, identity)
	return identity, nil
}
