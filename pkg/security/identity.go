package security

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
)

// APIKeyDef defines one API key. The key itself is stored as a bcrypt
// hash so the configuration file never holds the plaintext.
type APIKeyDef struct {
	Name  string   `yaml:"name"`
	Hash  string   `yaml:"hash"`
	Roles []string `yaml:"roles"`
}

// IdentityConfig configures caller authentication.
type IdentityConfig struct {
	// JWTSigningKey is the HMAC key used to verify bearer tokens. Bearer
	// authentication is disabled when empty.
	JWTSigningKey string `yaml:"jwt_signing_key"`

	// JWTIssuer, when set, is the required issuer claim.
	JWTIssuer string `yaml:"jwt_issuer"`

	// RoleClaim is the claim holding the caller's roles. Defaults to "roles".
	RoleClaim string `yaml:"role_claim"`

	// APIKeys are accepted API keys.
	APIKeys []APIKeyDef `yaml:"api_keys"`

	// AllowAnonymous permits unauthenticated callers (empty Caller).
	AllowAnonymous bool `yaml:"allow_anonymous"`
}

// Identifier resolves caller credentials to a Caller with roles for the
// authorization stage.
type Identifier struct {
	cfg IdentityConfig
}

// NewIdentifier creates an identifier.
func NewIdentifier(cfg IdentityConfig) *Identifier {
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = "roles"
	}
	return &Identifier{cfg: cfg}
}

// AuthenticateBearer validates a JWT bearer token and extracts the caller
// identity and roles.
func (id *Identifier) AuthenticateBearer(token string) (Caller, error) {
	if id.cfg.JWTSigningKey == "" {
		return Caller{}, gwerrors.New(gwerrors.KindAuthorization, "bearer authentication is not configured")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(id.cfg.JWTSigningKey), nil
	})
	if err != nil {
		return Caller{}, gwerrors.Wrap(err, gwerrors.KindAuthorization, "invalid bearer token")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return Caller{}, gwerrors.New(gwerrors.KindAuthorization, "invalid bearer token")
	}

	if id.cfg.JWTIssuer != "" {
		iss, _ := claims.GetIssuer()
		if iss != id.cfg.JWTIssuer {
			return Caller{}, gwerrors.New(gwerrors.KindAuthorization, "unexpected token issuer").
				WithContext("issuer", iss)
		}
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return Caller{}, gwerrors.New(gwerrors.KindAuthorization, "token is missing the sub claim")
	}

	return Caller{ID: sub, Roles: extractRoles(claims, id.cfg.RoleClaim)}, nil
}

// AuthenticateAPIKey matches key against the configured bcrypt hashes.
func (id *Identifier) AuthenticateAPIKey(key string) (Caller, error) {
	for _, def := range id.cfg.APIKeys {
		if bcrypt.CompareHashAndPassword([]byte(def.Hash), []byte(key)) == nil {
			return Caller{ID: def.Name, Roles: def.Roles}, nil
		}
	}
	return Caller{}, gwerrors.New(gwerrors.KindAuthorization, "unknown API key")
}

// Anonymous returns the anonymous caller, or an error when anonymous
// access is disabled.
func (id *Identifier) Anonymous() (Caller, error) {
	if !id.cfg.AllowAnonymous {
		return Caller{}, gwerrors.New(gwerrors.KindAuthorization, "authentication required").
			WithSuggestion("provide a bearer token or API key")
	}
	return Caller{}, nil
}

func extractRoles(claims jwt.MapClaims, claim string) []string {
	raw, ok := claims[claim]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(list))
	for _, r := range list {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}
