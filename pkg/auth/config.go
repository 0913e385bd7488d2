// Package auth protects the HTTP API and MCP endpoint with OAuth/OIDC bearer
// tokens issued by an external identity provider.
package auth

import (
	"errors"
	"time"
)

// Config holds the token validation settings
type Config struct {
	Enabled bool `yaml:"enabled"`
	// RequireAuth rejects requests without a valid token; otherwise tokens
	// are validated when present and anonymous requests pass
	RequireAuth     bool     `yaml:"requireAuth"`
	Issuer          string   `yaml:"issuer"`
	Audience        string   `yaml:"audience"`
	JWKSURL         string   `yaml:"jwksUrl"` // defaults to <issuer>/.well-known/jwks.json
	CacheTTLMinutes int      `yaml:"cacheTtlMinutes"`
	Resource        string   `yaml:"resource"` // advertised in protected resource metadata
	SigningAlgs     []string `yaml:"signingAlgs"`
}

func DefaultConfig() Config {
	return Config{
		CacheTTLMinutes: 5,
		SigningAlgs:     []string{"RS256", "ES256"},
	}
}

// Validate checks the settings needed when auth is enabled
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Issuer == "" {
		return errors.New("auth.issuer is required when auth is enabled")
	}
	if c.Audience == "" {
		return errors.New("auth.audience is required when auth is enabled")
	}
	return nil
}

// CacheTTL returns how long a validated token is trusted without re-checking
func (c Config) CacheTTL() time.Duration {
	if c.CacheTTLMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

func (c Config) jwksURL() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	return c.Issuer + "/.well-known/jwks.json"
}

func (c Config) signingAlgs() []string {
	if len(c.SigningAlgs) == 0 {
		return DefaultConfig().SigningAlgs
	}
	return c.SigningAlgs
}
