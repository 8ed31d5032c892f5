package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestID())
	router.Use(Recovery())
	router.GET("/panic", func(c *gin.Context) {
		panic("test panic")
	})
	router.GET("/normal", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	// Test panic recovery
	t.Run("panic recovery", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/panic", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("Expected status 500, got %d", w.Code)
		}

		body := w.Body.String()
		if !strings.Contains(body, "Internal server error") {
			t.Error("Expected error message in response")
		}
		if !strings.Contains(body, `"kind":"INTERNAL"`) {
			t.Errorf("Expected error kind in response, got %s", body)
		}
		if !strings.Contains(body, w.Header().Get(HeaderRequestID)) {
			t.Error("Expected request id in response")
		}
		if got := w.Header().Get(HeaderErrorKind); got != "INTERNAL" {
			t.Errorf("Expected error kind header INTERNAL, got %q", got)
		}
	})

	t.Run("panic after response started", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID(), Recovery())
		router.GET("/download", func(c *gin.Context) {
			c.String(http.StatusOK, "partial")
			panic("stream broke")
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/download", nil))

		if w.Code != http.StatusOK {
			t.Errorf("Expected original status 200, got %d", w.Code)
		}
		if strings.Contains(w.Body.String(), "Internal server error") {
			t.Errorf("Expected no error body appended, got %s", w.Body.String())
		}
	})

	// Test normal request
	t.Run("normal request", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/normal", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})
}
