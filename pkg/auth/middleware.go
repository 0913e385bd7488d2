package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type contextKey struct{}

// WithClaims stores the caller in ctx, where MCP tool handlers can find it
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// ClaimsFrom returns the authenticated caller, if any
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok && claims != nil
}

// Middleware validates bearer tokens. With RequireAuth, requests without a
// valid token get an RFC 6750 401; otherwise invalid tokens are ignored.
func Middleware(v *Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if v.cfg.RequireAuth {
				v.unauthorized(c, "missing authorization header")
				return
			}
			c.Next()
			return
		}

		token := bearerToken(header)
		if token == "" {
			if v.cfg.RequireAuth {
				v.unauthorized(c, "invalid authorization header format")
				return
			}
			c.Next()
			return
		}

		claims, err := v.Validate(c.Request.Context(), token)
		if err != nil {
			log.WithError(err).WithField("path", c.Request.URL.Path).Warn("Token validation failed")
			if v.cfg.RequireAuth {
				v.unauthorized(c, "invalid token")
				return
			}
			c.Next()
			return
		}

		c.Request = c.Request.WithContext(WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (v *Validator) unauthorized(c *gin.Context, description string) {
	c.Header("WWW-Authenticate", fmt.Sprintf(
		`Bearer realm=%q, error="invalid_token", error_description=%q`, v.cfg.Issuer, description))
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":             "invalid_token",
		"error_description": description,
	})
}

// ResourceMetadata is the RFC 9728 protected resource document
type ResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	SigningAlgValues       []string `json:"resource_signing_alg_values_supported"`
}

// MetadataHandler serves /.well-known/oauth-protected-resource so MCP
// clients can discover the authorization server
func MetadataHandler(cfg Config, baseURL string) gin.HandlerFunc {
	resource := cfg.Resource
	if resource == "" {
		resource = baseURL
	}
	meta := ResourceMetadata{
		Resource:               resource,
		AuthorizationServers:   []string{cfg.Issuer},
		BearerMethodsSupported: []string{"header"},
		SigningAlgValues:       cfg.signingAlgs(),
	}
	return func(c *gin.Context) {
		c.Header("Cache-Control", "public, max-age=3600")
		c.JSON(http.StatusOK, meta)
	}
}
