package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// corsRouter serves one endpoint behind the CORS middleware
func corsRouter(config *CORSConfig) *gin.Engine {
	router := gin.New()
	router.Use(CORSMiddleware(config))
	router.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.POST("/mcp", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"result": "success"})
	})
	return router
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	router := corsRouter(nil)

	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, Mcp-Session-Id")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Mcp-Session-Id")
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Mcp-Session-Id")
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
	assert.Empty(t, w.Body.String())
}

func TestCORSMiddleware_Origins(t *testing.T) {
	tests := []struct {
		name            string
		config          *CORSConfig
		origin          string
		wantOrigin      string
		wantCredentials string
	}{
		{
			name:            "wildcard with credentials echoes origin",
			config:          DefaultCORSConfig(),
			origin:          "http://photos.local:8080",
			wantOrigin:      "http://photos.local:8080",
			wantCredentials: "true",
		},
		{
			name:       "wildcard without credentials",
			config:     &CORSConfig{AllowOrigins: []string{"*"}},
			origin:     "http://photos.local:8080",
			wantOrigin: "*",
		},
		{
			name:       "wildcard without origin header",
			config:     DefaultCORSConfig(),
			origin:     "",
			wantOrigin: "*",
		},
		{
			name:            "listed origin",
			config:          &CORSConfig{AllowOrigins: []string{"http://localhost:5173", "http://127.0.0.1:5173"}, AllowCredentials: true},
			origin:          "http://127.0.0.1:5173",
			wantOrigin:      "http://127.0.0.1:5173",
			wantCredentials: "true",
		},
		{
			name:   "unlisted origin",
			config: &CORSConfig{AllowOrigins: []string{"http://localhost:5173"}, AllowCredentials: true},
			origin: "http://evil.example",
		},
		{
			name:   "no origins configured",
			config: &CORSConfig{},
			origin: "http://localhost:5173",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := corsRouter(tt.config)

			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			// the middleware never blocks the request itself
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCredentials, w.Header().Get("Access-Control-Allow-Credentials"))
			if tt.wantOrigin == "" {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Methods"))
			}
		})
	}
}

func TestCORSMiddleware_PreflightForDisallowedOrigin(t *testing.T) {
	router := corsRouter(&CORSConfig{AllowOrigins: []string{"http://localhost:5173"}})

	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_VaryOnEchoedOrigin(t *testing.T) {
	router := corsRouter(DefaultCORSConfig())

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Values("Vary"), "Origin")
	assert.JSONEq(t, `{"result":"success"}`, w.Body.String())
}
