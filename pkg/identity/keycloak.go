// Package identity validates Keycloak-issued access tokens against the
// realm's JWKS endpoint. It is shared by the auth callout (which mints NATS
// credentials) and the gateway (which binds a verified identity to each
// connection at connect time).
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields extracted from a validated Keycloak access token.
type Claims struct {
	Subject           string
	PreferredUsername string
	Email             string
	RealmRoles        []string
	ExpiresAt         int64
}

// realmAccess is the nested structure in Keycloak tokens.
type realmAccess struct {
	Roles []string `json:"roles"`
}

// tokenClaims extends jwt.RegisteredClaims with Keycloak-specific fields.
type tokenClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string      `json:"preferred_username"`
	Email             string      `json:"email"`
	EmailVerified     bool        `json:"email_verified"`
	RealmAccessField  realmAccess `json:"realm_access"`
	Scope             string      `json:"scope"`
	Azp               string      `json:"azp"`
}

// Validator validates Keycloak JWTs using the realm's JWKS.
type Validator struct {
	jwks      *keyfunc.JWKS
	issuerURL string
}

// NewValidator creates a validator that fetches and caches JWKS keys.
// If issuerOverride is non-empty, it is used as the expected token issuer
// instead of deriving it from keycloakURL (needed when the browser-facing URL
// differs from the internal Docker service URL).
func NewValidator(keycloakURL, realm, issuerOverride string) (*Validator, error) {
	jwksURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", keycloakURL, realm)
	issuerURL := fmt.Sprintf("%s/realms/%s", keycloakURL, realm)
	if issuerOverride != "" {
		issuerURL = issuerOverride
	}

	slog.Info("Initializing Keycloak JWKS validator", "jwks_url", jwksURL)

	// Try to fetch JWKS with retries (Keycloak may still be starting)
	var jwks *keyfunc.JWKS
	var err error
	for attempt := 1; attempt <= 30; attempt++ {
		jwks, err = keyfunc.Get(jwksURL, keyfunc.Options{
			Ctx:                 context.Background(),
			RefreshInterval:     5 * time.Minute,
			RefreshRateLimit:    1 * time.Minute,
			RefreshUnknownKID:   true,
			RefreshErrorHandler: func(err error) { slog.Error("JWKS refresh error", "error", err) },
		})
		if err == nil {
			break
		}
		slog.Info("Waiting for Keycloak JWKS", "attempt", attempt, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Keycloak JWKS after retries: %w", err)
	}

	slog.Info("Keycloak JWKS loaded", "jwks_url", jwksURL)

	return &Validator{
		jwks:      jwks,
		issuerURL: issuerURL,
	}, nil
}

// ValidateToken parses and validates a Keycloak access token JWT.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &tokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc,
		jwt.WithIssuer(v.issuerURL),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}

	var expiresAt int64
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Unix()
	}

	return &Claims{
		Subject:           claims.Subject,
		PreferredUsername: claims.PreferredUsername,
		Email:             claims.Email,
		RealmRoles:        claims.RealmAccessField.Roles,
		ExpiresAt:         expiresAt,
	}, nil
}

// Close shuts down the JWKS background goroutine.
func (v *Validator) Close() {
	v.jwks.EndBackground()
}
