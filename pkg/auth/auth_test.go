package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://id.example.test"
	testAudience = "photo-library"
	testKID      = "key-1"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testIssuerKeys struct {
	private *rsa.PrivateKey
	server  *httptest.Server
	fetches atomic.Int32
}

// newTestIssuer serves a JWKS with one RSA key
func newTestIssuer(t *testing.T) *testIssuerKeys {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(priv.Public())
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, testKID))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))
	body, err := json.Marshal(set)
	require.NoError(t, err)

	keys := &testIssuerKeys{private: priv}
	keys.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys.fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(keys.server.Close)
	return keys
}

func (k *testIssuerKeys) config() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.RequireAuth = true
	cfg.Issuer = testIssuer
	cfg.Audience = testAudience
	cfg.JWKSURL = k.server.URL
	return cfg
}

func (k *testIssuerKeys) token(t *testing.T, kid string, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testAudience,
		"sub":   "user-42",
		"email": "ada@example.test",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(k.private)
	require.NoError(t, err)
	return signed
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "disabled needs nothing", cfg: Config{}},
		{name: "missing issuer", cfg: Config{Enabled: true, Audience: "a"}, wantErr: "issuer"},
		{name: "missing audience", cfg: Config{Enabled: true, Issuer: "i"}, wantErr: "audience"},
		{name: "complete", cfg: Config{Enabled: true, Issuer: "i", Audience: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.Equal(t, 5*time.Minute, Config{}.CacheTTL())
	assert.Equal(t, "https://id.example.test/.well-known/jwks.json", Config{Issuer: testIssuer}.jwksURL())
}

func TestValidate(t *testing.T) {
	issuer := newTestIssuer(t)
	v, err := NewValidator(context.Background(), issuer.config())
	require.NoError(t, err)

	tests := []struct {
		name    string
		kid     string
		mutate  func(jwt.MapClaims)
		wantErr bool
	}{
		{name: "valid", kid: testKID},
		{name: "expired", kid: testKID, mutate: func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() }, wantErr: true},
		{name: "no expiry", kid: testKID, mutate: func(c jwt.MapClaims) { delete(c, "exp") }, wantErr: true},
		{name: "wrong issuer", kid: testKID, mutate: func(c jwt.MapClaims) { c["iss"] = "https://other.test" }, wantErr: true},
		{name: "wrong audience", kid: testKID, mutate: func(c jwt.MapClaims) { c["aud"] = "someone-else" }, wantErr: true},
		{name: "audience list", kid: testKID, mutate: func(c jwt.MapClaims) { c["aud"] = []string{"x", testAudience} }},
		{name: "unknown key", kid: "key-2", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Validate(context.Background(), issuer.token(t, tt.kid, tt.mutate))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "user-42", claims.Subject)
			assert.Equal(t, "ada@example.test", claims.Email)
			assert.False(t, claims.Expiry.IsZero())
		})
	}

	_, err = v.Validate(context.Background(), "not-a-jwt")
	assert.Error(t, err)
}

func TestValidateCachesTokens(t *testing.T) {
	issuer := newTestIssuer(t)
	v, err := NewValidator(context.Background(), issuer.config())
	require.NoError(t, err)

	now := time.Now()
	v.now = func() time.Time { return now }
	token := issuer.token(t, testKID, nil)

	first, err := v.Validate(context.Background(), token)
	require.NoError(t, err)
	second, err := v.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Same(t, first, second)

	now = now.Add(10 * time.Minute)
	third, err := v.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.NotSame(t, first, third)

	// only NewValidator fetched the key set
	assert.Equal(t, int32(1), issuer.fetches.Load())
}

func TestNewValidatorFetchFailure(t *testing.T) {
	cfg := Config{Enabled: true, Issuer: testIssuer, Audience: testAudience, JWKSURL: "http://127.0.0.1:1/jwks"}
	_, err := NewValidator(context.Background(), cfg)
	assert.Error(t, err)

	_, err = NewValidator(context.Background(), Config{Enabled: true})
	assert.Error(t, err)
}

func protectedRouter(v *Validator) *gin.Engine {
	router := gin.New()
	router.Use(Middleware(v))
	router.GET("/api/status", func(c *gin.Context) {
		claims, ok := ClaimsFrom(c.Request.Context())
		if !ok {
			c.JSON(http.StatusOK, gin.H{"subject": ""})
			return
		}
		c.JSON(http.StatusOK, gin.H{"subject": claims.Subject})
	})
	return router
}

func TestMiddleware(t *testing.T) {
	issuer := newTestIssuer(t)
	valid := issuer.token(t, testKID, nil)

	tests := []struct {
		name        string
		requireAuth bool
		header      string
		wantCode    int
		wantSubject string
	}{
		{name: "required, valid token", requireAuth: true, header: "Bearer " + valid, wantCode: http.StatusOK, wantSubject: "user-42"},
		{name: "required, lowercase scheme", requireAuth: true, header: "bearer " + valid, wantCode: http.StatusOK, wantSubject: "user-42"},
		{name: "required, missing header", requireAuth: true, wantCode: http.StatusUnauthorized},
		{name: "required, basic auth", requireAuth: true, header: "Basic dXNlcjpwYXNz", wantCode: http.StatusUnauthorized},
		{name: "required, bad token", requireAuth: true, header: "Bearer junk", wantCode: http.StatusUnauthorized},
		{name: "optional, anonymous", header: "", wantCode: http.StatusOK},
		{name: "optional, bad token", header: "Bearer junk", wantCode: http.StatusOK},
		{name: "optional, valid token", header: "Bearer " + valid, wantCode: http.StatusOK, wantSubject: "user-42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := issuer.config()
			cfg.RequireAuth = tt.requireAuth
			v, err := NewValidator(context.Background(), cfg)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			protectedRouter(v).ServeHTTP(w, req)

			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode == http.StatusUnauthorized {
				assert.Contains(t, w.Header().Get("WWW-Authenticate"), `error="invalid_token"`)
				assert.Contains(t, w.Body.String(), "invalid_token")
				return
			}
			var body struct {
				Subject string `json:"subject"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantSubject, body.Subject)
		})
	}
}

func TestMetadataHandler(t *testing.T) {
	cfg := Config{Enabled: true, Issuer: testIssuer, Audience: testAudience}
	router := gin.New()
	router.GET("/.well-known/oauth-protected-resource", MetadataHandler(cfg, "http://localhost:3000"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var meta ResourceMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meta))
	assert.Equal(t, "http://localhost:3000", meta.Resource)
	assert.Equal(t, []string{testIssuer}, meta.AuthorizationServers)
	assert.Equal(t, []string{"RS256", "ES256"}, meta.SigningAlgValues)
}

func TestHashToken(t *testing.T) {
	assert.Len(t, hashToken("abc"), 64)
	assert.Equal(t, hashToken("abc"), hashToken("abc"))
	assert.NotEqual(t, hashToken("abc"), hashToken("abd"))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", hashToken(""))
}
