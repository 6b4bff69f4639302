package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPChecker performs HTTP-based health checks
type HTTPChecker struct {
	// URL is the full HTTP URL to check (e.g., "http://192.0.2.1:80/")
	URL string

	// Method is the HTTP method to use (default: GET)
	Method string

	// Host overrides the Host header (virtual host checks)
	Host string

	// Headers are custom HTTP headers to include in the request
	Headers map[string]string

	// OKCodes lists acceptable status codes. When empty, 200-399 is accepted.
	OKCodes []int

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewHTTPChecker creates a new HTTP health checker
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:     url,
		Method:  "GET",
		Headers: make(map[string]string),
		Client: &http.Client{
			Timeout: 10 * time.Second,
			// a redirect is an answer; do not chase it to another host
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Check performs the HTTP health check
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, nil)
	if err != nil {
		return failed(start, "failed to create request: %v", err)
	}
	if h.Host != "" {
		req.Host = h.Host
	}
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return failed(start, "request failed: %v", err)
	}
	defer resp.Body.Close()
	// drain a little so keep-alive connections can be reused
	_, _ = io.CopyN(io.Discard, resp.Body, 4096)

	healthy := h.statusOK(resp.StatusCode)

	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		message = fmt.Sprintf("%s (expected %v)", message, h.expected())
	}

	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (h *HTTPChecker) statusOK(code int) bool {
	if len(h.OKCodes) == 0 {
		return code >= 200 && code <= 399
	}
	for _, c := range h.OKCodes {
		if c == code {
			return true
		}
	}
	return false
}

func (h *HTTPChecker) expected() string {
	if len(h.OKCodes) == 0 {
		return "200-399"
	}
	return fmt.Sprint(h.OKCodes)
}

// Type returns the health check type
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// WithMethod sets the HTTP method
func (h *HTTPChecker) WithMethod(method string) *HTTPChecker {
	h.Method = method
	return h
}

// WithHost sets the Host header sent with each check
func (h *HTTPChecker) WithHost(host string) *HTTPChecker {
	h.Host = host
	return h
}

// WithHeader adds a custom HTTP header
func (h *HTTPChecker) WithHeader(key, value string) *HTTPChecker {
	h.Headers[key] = value
	return h
}

// WithOKCodes sets the accepted status codes
func (h *HTTPChecker) WithOKCodes(codes ...int) *HTTPChecker {
	h.OKCodes = codes
	return h
}

// WithTimeout sets the HTTP client timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}
