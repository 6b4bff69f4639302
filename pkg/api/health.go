package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/dynadns/pkg/events"
	"github.com/cuemby/dynadns/pkg/log"
	"github.com/cuemby/dynadns/pkg/metrics"
	"github.com/cuemby/dynadns/pkg/state"
	"github.com/cuemby/dynadns/pkg/storage"
	"github.com/cuemby/dynadns/pkg/sttl"
)

// Check reports one readiness condition.
type Check func() (detail string, ok bool)

// HealthServer provides the HTTP status and admin endpoints
type HealthServer struct {
	states  *state.Store
	admin   *storage.Admin
	version string
	mux     *http.ServeMux
	broker  *events.Broker

	mu     sync.Mutex
	checks map[string]Check
	server *http.Server
}

// NewHealthServer creates the HTTP API. admin may be nil, which makes
// /admin-state answer 503.
func NewHealthServer(states *state.Store, admin *storage.Admin, version string) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		states:  states,
		admin:   admin,
		version: version,
		mux:     mux,
		checks:  make(map[string]Check),
	}

	// Register endpoints
	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.HandleFunc("/states", hs.statesHandler)
	mux.HandleFunc("/admin-state", hs.adminStateHandler)
	mux.HandleFunc("/events", hs.eventsHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// SetBroker enables /events and publishes admin changes to b. It must be
// called before serving.
func (hs *HealthServer) SetBroker(b *events.Broker) {
	hs.broker = b
}

// AddCheck registers a readiness condition reported by /ready.
func (hs *HealthServer) AddCheck(name string, c Check) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.checks[name] = c
}

// Start serves on addr until Shutdown.
func (hs *HealthServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return hs.Serve(lis)
}

// Serve serves on lis until Shutdown.
func (hs *HealthServer) Serve(lis net.Listener) error {
	server := &http.Server{
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	hs.mu.Lock()
	hs.server = server
	hs.mu.Unlock()

	logger := log.WithComponent("api")
	logger.Info().Str("address", lis.Addr().String()).Msg("HTTP API listening")
	if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server started by Start or Serve.
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	hs.mu.Lock()
	server := hs.server
	hs.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// AdminStateRequest is the body of PUT /admin-state.
type AdminStateRequest struct {
	Desc   string `json:"desc"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// healthHandler is a liveness check: 200 while the process is alive
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   hs.version,
	})
}

// readyHandler reports whether every registered check passes
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hs.mu.Lock()
	names := make([]string, 0, len(hs.checks))
	for name := range hs.checks {
		names = append(names, name)
	}
	checks := make(map[string]Check, len(hs.checks))
	for k, v := range hs.checks {
		checks[k] = v
	}
	hs.mu.Unlock()
	sort.Strings(names)

	results := make(map[string]string, len(names))
	ready := len(names) > 0
	var message string
	for _, name := range names {
		detail, ok := checks[name]()
		results[name] = detail
		if !ok {
			ready = false
			if message == "" {
				message = fmt.Sprintf("%s: %s", name, detail)
			}
		}
	}
	if len(names) == 0 {
		message = "no readiness checks registered"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    results,
		Message:   message,
	})
}

// statesHandler dumps every monitored endpoint. ?service_type= and
// ?down=true narrow the list.
func (hs *HealthServer) statesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := r.URL.Query().Get("service_type")
	onlyDown := r.URL.Query().Get("down") == "true"
	snaps := hs.states.Snapshots()
	out := make([]state.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if st != "" && s.ServiceType != st {
			continue
		}
		if onlyDown && !s.Down {
			continue
		}
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, out)
}

func (hs *HealthServer) adminStateHandler(w http.ResponseWriter, r *http.Request) {
	if hs.admin == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("admin state store not available"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		list, err := hs.admin.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if list == nil {
			list = []*storage.AdminState{}
		}
		writeJSON(w, http.StatusOK, list)

	case http.MethodPut, http.MethodPost:
		var req AdminStateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
		if req.Desc == "" {
			writeError(w, http.StatusBadRequest, errors.New("desc is required"))
			return
		}
		if _, err := sttl.Parse(req.State); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		st, err := hs.admin.Set(req.Desc, req.State, req.Reason)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		hs.publish(events.EventAdminStateSet, st.Desc, st.State)
		writeJSON(w, http.StatusOK, st)

	case http.MethodDelete:
		desc := r.URL.Query().Get("desc")
		if desc == "" {
			writeError(w, http.StatusBadRequest, errors.New("desc is required"))
			return
		}
		if err := hs.admin.Clear(desc); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		hs.publish(events.EventAdminStateCleared, desc, "")
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// eventsHandler streams events as JSON lines until the client goes away.
func (hs *HealthServer) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.broker == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("event stream not available"))
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	sub := hs.broker.Subscribe()
	defer hs.broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (hs *HealthServer) publish(t events.EventType, desc, stateText string) {
	if hs.broker == nil {
		return
	}
	md := map[string]string{"endpoint": desc}
	if stateText != "" {
		md["state"] = stateText
	}
	hs.broker.Publish(&events.Event{Type: t, Metadata: md})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, state.ErrUnknownEndpoint), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrForcedNotAllowed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorResponse{Error: err.Error()})
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
