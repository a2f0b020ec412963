package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRateLimit_BurstThenRejects(t *testing.T) {
	r := gin.New()
	r.GET("/", RateLimit(1, 3), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	allowed, limited := 0, 0
	for i := 0; i < 6; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
		switch w.Code {
		case http.StatusOK:
			allowed++
		case http.StatusTooManyRequests:
			limited++
		default:
			t.Fatalf("unexpected status %d", w.Code)
		}
	}

	if allowed != 3 {
		t.Errorf("allowed %d requests, expected the burst of 3", allowed)
	}
	if limited != 3 {
		t.Errorf("limited %d requests, expected 3", limited)
	}
}

func TestRateLimit_PerIP(t *testing.T) {
	r := gin.New()
	r.GET("/", RateLimit(1, 1), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := func(ip string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = ip + ":12345"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := request("10.0.0.1"); code != http.StatusOK {
		t.Fatalf("first request from first IP: %d", code)
	}
	if code := request("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Errorf("second request from same IP should be limited, got %d", code)
	}
	// A different client has its own bucket.
	if code := request("10.0.0.2"); code != http.StatusOK {
		t.Errorf("first request from second IP should pass, got %d", code)
	}
}
