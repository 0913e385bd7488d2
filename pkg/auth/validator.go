package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/prismon/photo-library/pkg/logger"
	"github.com/sirupsen/logrus"
)

var log = logger.WithName("auth")

// Claims identifies the caller of an authenticated request
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Expiry  time.Time
}

// Validator checks bearer tokens against the issuer's JWKS
type Validator struct {
	cfg    Config
	parser *jwt.Parser

	mu     sync.RWMutex
	keySet jwk.Set

	cacheMu sync.Mutex
	cache   map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	claims    *Claims
	expiresAt time.Time
}

const maxCacheEntries = 1000

// NewValidator fetches the issuer's key set and returns a validator for it
func NewValidator(ctx context.Context, cfg Config) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	keySet, err := jwk.Fetch(ctx, cfg.jwksURL())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.jwksURL(), err)
	}

	log.WithFields(logrus.Fields{
		"issuer":   cfg.Issuer,
		"audience": cfg.Audience,
		"keys":     keySet.Len(),
	}).Info("Token validator initialized")
	return NewValidatorWithKeys(cfg, keySet), nil
}

// NewValidatorWithKeys builds a validator around a fixed key set. Unknown key
// ids still trigger a JWKS refresh.
func NewValidatorWithKeys(cfg Config, keySet jwk.Set) *Validator {
	return &Validator{
		cfg: cfg,
		parser: jwt.NewParser(
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithValidMethods(cfg.signingAlgs()),
			jwt.WithExpirationRequired(),
		),
		keySet: keySet,
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
	}
}

func (v *Validator) Config() Config {
	return v.cfg
}

// Validate parses and verifies a token. Verified tokens are cached by hash
// until the cache TTL or the token's expiry, whichever comes first.
func (v *Validator) Validate(ctx context.Context, token string) (*Claims, error) {
	key := hashToken(token)
	if claims := v.cached(key); claims != nil {
		return claims, nil
	}

	parsed, err := v.parser.Parse(token, func(t *jwt.Token) (any, error) {
		return v.publicKey(ctx, t)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	claims := &Claims{}
	claims.Subject, _ = mc.GetSubject()
	claims.Email, _ = mc["email"].(string)
	claims.Name, _ = mc["name"].(string)
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.Expiry = exp.Time
	}

	v.store(key, claims)
	log.WithField("subject", claims.Subject).Debug("Token validated")
	return claims, nil
}

func (v *Validator) publicKey(ctx context.Context, t *jwt.Token) (any, error) {
	kid, ok := t.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token missing kid header")
	}

	v.mu.RLock()
	key, found := v.keySet.LookupKeyID(kid)
	v.mu.RUnlock()

	if !found {
		log.WithField("kid", kid).Debug("Key not in JWKS, refreshing")
		if err := v.refresh(ctx); err != nil {
			return nil, err
		}
		v.mu.RLock()
		key, found = v.keySet.LookupKeyID(kid)
		v.mu.RUnlock()
		if !found {
			return nil, fmt.Errorf("key %s not found in JWKS", kid)
		}
	}

	var pub any
	if err := key.Raw(&pub); err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	return pub, nil
}

func (v *Validator) refresh(ctx context.Context) error {
	keySet, err := jwk.Fetch(ctx, v.cfg.jwksURL())
	if err != nil {
		return fmt.Errorf("failed to refresh JWKS: %w", err)
	}
	v.mu.Lock()
	v.keySet = keySet
	v.mu.Unlock()
	return nil
}

func (v *Validator) cached(key string) *Claims {
	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()

	entry, ok := v.cache[key]
	if !ok {
		return nil
	}
	if !v.now().Before(entry.expiresAt) {
		delete(v.cache, key)
		return nil
	}
	return entry.claims
}

func (v *Validator) store(key string, claims *Claims) {
	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()

	now := v.now()
	expiresAt := now.Add(v.cfg.CacheTTL())
	if !claims.Expiry.IsZero() && claims.Expiry.Before(expiresAt) {
		expiresAt = claims.Expiry
	}
	if len(v.cache) >= maxCacheEntries {
		for k, e := range v.cache {
			if !now.Before(e.expiresAt) {
				delete(v.cache, k)
			}
		}
	}
	v.cache[key] = cacheEntry{claims: claims, expiresAt: expiresAt}
}

// hashToken keys the cache without keeping raw tokens in memory
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
