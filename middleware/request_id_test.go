package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/WiesHerd/contractpipeline/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestIDRouter answers with the id seen on the gin context and on the
// request context, the latter being what the loggers read.
func requestIDRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestID())
	router.GET("/contracts/progress", func(c *gin.Context) {
		fromCtx, _ := c.Request.Context().Value(logger.RequestIDKey).(string)
		c.JSON(http.StatusOK, gin.H{"gin": GetRequestID(c), "ctx": fromCtx})
	})
	return router
}

func serveRequestID(t *testing.T, router *gin.Engine, incoming string) (header string, seen map[string]string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/contracts/progress", nil)
	if incoming != "" {
		req.Header.Set(HeaderRequestID, incoming)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &seen); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	return w.Header().Get(HeaderRequestID), seen
}

func TestRequestIDReachesLogContext(t *testing.T) {
	header, seen := serveRequestID(t, requestIDRouter(), "")

	if _, err := uuid.Parse(header); err != nil {
		t.Errorf("Expected a generated uuid, got %q", header)
	}
	if seen["ctx"] != header {
		t.Errorf("Expected request context to carry %q, got %q", header, seen["ctx"])
	}
	if seen["gin"] != header {
		t.Errorf("Expected gin context to carry %q, got %q", header, seen["gin"])
	}
}

func TestRequestIDHonoursIncoming(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		kept     bool
	}{
		{"upstream uuid", "3f2c1a9e-8d44-4b7a-9c1e-5a0f2b7d6e11", true},
		{"gateway token", "gw-01.bulk:42", true},
		{"log injection", "abc\" level=ERROR msg=forged", false},
		{"too long", strings.Repeat("a", 65), false},
	}

	router := requestIDRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, seen := serveRequestID(t, router, tt.incoming)

			if got := header == tt.incoming; got != tt.kept {
				t.Errorf("Expected kept=%v, got header %q", tt.kept, header)
			}
			if seen["ctx"] != header {
				t.Errorf("Expected request context to carry %q, got %q", header, seen["ctx"])
			}
		})
	}
}

func TestRequestIDDistinctPerRequest(t *testing.T) {
	router := requestIDRouter()
	first, _ := serveRequestID(t, router, "")
	second, _ := serveRequestID(t, router, "")
	if first == second {
		t.Errorf("Expected distinct ids, both were %q", first)
	}
}

func TestGetRequestIDEmpty(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	if requestID := GetRequestID(c); requestID != "" {
		t.Errorf("Expected empty string, got '%s'", requestID)
	}
}
