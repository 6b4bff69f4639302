package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func statusServer(t *testing.T, code int) *httptest.Server {
	t.Helper()
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}))
	t.Cleanup(s.Close)
	return s
}

func TestHTTPCheckerStatus(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		ok      []int
		healthy bool
	}{
		{"200 default", http.StatusOK, nil, true},
		{"204 default", http.StatusNoContent, nil, true},
		{"500 default", http.StatusInternalServerError, nil, false},
		{"404 default", http.StatusNotFound, nil, false},
		{"201 not listed", http.StatusCreated, []int{200}, false},
		{"201 listed", http.StatusCreated, []int{200, 201}, true},
		{"503 listed", http.StatusServiceUnavailable, []int{503}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewHTTPChecker(statusServer(t, tt.code).URL)
			if tt.ok != nil {
				c.WithOKCodes(tt.ok...)
			}
			result := c.Check(context.Background())
			assert.Equal(t, tt.healthy, result.Healthy, result.Message)
			assert.Positive(t, result.Duration)
			if !tt.healthy {
				assert.Contains(t, result.Message, "expected")
			}
		})
	}
}

func TestHTTPCheckerRedirectIsAnAnswer(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://192.0.2.1/elsewhere", http.StatusFound)
	}))
	defer s.Close()

	result := NewHTTPChecker(s.URL).Check(context.Background())
	assert.True(t, result.Healthy, result.Message)
	assert.Contains(t, result.Message, "302")
}

func TestHTTPCheckerRequestShape(t *testing.T) {
	var (
		host, method, token string
	)
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, method, token = r.Host, r.Method, r.Header.Get("X-Check")
	}))
	defer s.Close()

	result := NewHTTPChecker(s.URL).
		WithHost("www.example.com").
		WithMethod(http.MethodHead).
		WithHeader("X-Check", "dynadns").
		Check(context.Background())
	assert.True(t, result.Healthy, result.Message)
	assert.Equal(t, "www.example.com", host)
	assert.Equal(t, http.MethodHead, method)
	assert.Equal(t, "dynadns", token)
}

func TestHTTPCheckerSlowBackend(t *testing.T) {
	release := make(chan struct{})
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer s.Close()
	defer close(release)

	t.Run("client timeout", func(t *testing.T) {
		result := NewHTTPChecker(s.URL).WithTimeout(50 * time.Millisecond).Check(context.Background())
		assert.False(t, result.Healthy)
	})
	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		result := NewHTTPChecker(s.URL).Check(ctx)
		assert.False(t, result.Healthy)
	})
}

func TestHTTPCheckerBadURL(t *testing.T) {
	result := NewHTTPChecker("http://[::1").Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Equal(t, CheckTypeHTTP, NewHTTPChecker("http://192.0.2.1/").Type())
}
