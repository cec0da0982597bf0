package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsAllowedOrigin(t *testing.T) {
	tests := []struct {
		name           string
		origin         string
		allowedOrigins []string
		want           bool
	}{
		{
			name:           "exact match",
			origin:         "https://precofacil.com.br",
			allowedOrigins: []string{"https://precofacil.com.br"},
			want:           true,
		},
		{
			name:           "global wildcard",
			origin:         "https://anything.example",
			allowedOrigins: []string{"*"},
			want:           true,
		},
		{
			name:           "prefix wildcard match",
			origin:         "https://app.precofacil.com.br",
			allowedOrigins: []string{"https://app.*"},
			want:           true,
		},
		{
			name:           "multiple allowed origins - matches second",
			origin:         "http://localhost:3000",
			allowedOrigins: []string{"https://precofacil.com.br", "http://localhost:3000"},
			want:           true,
		},
		{
			name:           "no match",
			origin:         "http://evil.com",
			allowedOrigins: []string{"https://precofacil.com.br"},
			want:           false,
		},
		{
			name:           "empty origin",
			origin:         "",
			allowedOrigins: []string{"https://precofacil.com.br"},
			want:           false,
		},
		{
			name:           "empty allowed list",
			origin:         "https://precofacil.com.br",
			allowedOrigins: []string{},
			want:           false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isAllowedOrigin(tt.origin, tt.allowedOrigins)
			if got != tt.want {
				t.Errorf("isAllowedOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(allowed []string) *gin.Engine {
		router := gin.New()
		router.Use(CORSMiddleware(allowed))
		router.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})
		return router
	}

	t.Run("sets CORS headers for allowed origin", func(t *testing.T) {
		router := newRouter([]string{"http://localhost:3000"})

		req, _ := http.NewRequest("GET", "/ping", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
			t.Errorf("Access-Control-Allow-Origin = %q, want http://localhost:3000", got)
		}
	})

	t.Run("omits CORS headers for disallowed origin", func(t *testing.T) {
		router := newRouter([]string{"http://localhost:3000"})

		req, _ := http.NewRequest("GET", "/ping", nil)
		req.Header.Set("Origin", "http://evil.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("answers preflight with 204", func(t *testing.T) {
		router := newRouter([]string{"*"})

		req, _ := http.NewRequest("OPTIONS", "/ping", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusNoContent)
		}
	})
}
