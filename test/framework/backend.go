package framework

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
)

// Backend is an HTTP server whose health endpoint can be flipped
type Backend struct {
	Addr    string
	healthy atomic.Bool
	hits    atomic.Int64
	srv     *http.Server
}

// SetHealthy makes /health answer 200 (true) or 503 (false)
func (b *Backend) SetHealthy(ok bool) {
	b.healthy.Store(ok)
}

// Hits returns how many health checks the backend has served
func (b *Backend) Hits() int64 {
	return b.hits.Load()
}

// StartBackends starts one healthy backend on each loopback address, all on
// the same port so a single http_status service type checks every one. It
// returns the shared port. Hosts that cannot bind the extra loopback
// addresses skip the test.
func StartBackends(t interface {
	TestingT
	Skipf(format string, args ...any)
}, addrs ...string) ([]*Backend, int) {
	t.Helper()

	first, err := net.Listen("tcp", net.JoinHostPort(addrs[0], "0"))
	if err != nil {
		t.Fatalf("Failed to listen on %s: %v", addrs[0], err)
	}
	_, portText, _ := net.SplitHostPort(first.Addr().String())
	port, _ := strconv.Atoi(portText)

	listeners := []net.Listener{first}
	for _, a := range addrs[1:] {
		lis, err := net.Listen("tcp", net.JoinHostPort(a, portText))
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			t.Skipf("cannot bind %s:%d: %v", a, port, err)
			return nil, 0
		}
		listeners = append(listeners, lis)
	}

	backends := make([]*Backend, 0, len(addrs))
	for i, lis := range listeners {
		lis := lis
		b := &Backend{Addr: addrs[i]}
		b.healthy.Store(true)
		b.srv = &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b.hits.Add(1)
			if r.URL.Path != "/health" {
				http.NotFound(w, r)
				return
			}
			if !b.healthy.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			fmt.Fprintln(w, "ok")
		})}
		go func() { _ = b.srv.Serve(lis) }()
		t.Cleanup(func() { _ = b.srv.Close() })
		backends = append(backends, b)
	}
	return backends, port
}
