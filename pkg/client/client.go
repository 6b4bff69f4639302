package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/dynadns/pkg/api"
	"github.com/cuemby/dynadns/pkg/state"
	"github.com/cuemby/dynadns/pkg/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const requestTimeout = 10 * time.Second

// ErrNotFound is returned when the daemon does not know the endpoint.
var ErrNotFound = errors.New("not found")

// Client talks to a running daemon's HTTP API for CLI usage
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the API at addr ("127.0.0.1:3506" or a
// full http:// URL).
func NewClient(addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: requestTimeout},
	}
}

// NewTLSClient is NewClient over https, trusting tlsCfg's roots.
func NewTLSClient(addr string, tlsCfg *tls.Config) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{
			Timeout:   requestTimeout,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
	}
}

// States lists endpoint states. serviceType may be empty.
func (c *Client) States(ctx context.Context, serviceType string, onlyDown bool) ([]state.Snapshot, error) {
	q := url.Values{}
	if serviceType != "" {
		q.Set("service_type", serviceType)
	}
	if onlyDown {
		q.Set("down", "true")
	}
	var out []state.Snapshot
	err := c.do(ctx, http.MethodGet, "/states?"+q.Encode(), nil, &out)
	return out, err
}

// AdminStates lists stored admin overrides.
func (c *Client) AdminStates(ctx context.Context) ([]*storage.AdminState, error) {
	var out []*storage.AdminState
	err := c.do(ctx, http.MethodGet, "/admin-state", nil, &out)
	return out, err
}

// SetAdminState forces desc to stateText ("DOWN", "UP/60", ...).
func (c *Client) SetAdminState(ctx context.Context, desc, stateText, reason string) (*storage.AdminState, error) {
	var out storage.AdminState
	req := api.AdminStateRequest{Desc: desc, State: stateText, Reason: reason}
	if err := c.do(ctx, http.MethodPut, "/admin-state", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearAdminState removes the override of desc.
func (c *Client) ClearAdminState(ctx context.Context, desc string) error {
	return c.do(ctx, http.MethodDelete, "/admin-state?desc="+url.QueryEscape(desc), nil, nil)
}

// Ready fetches the readiness report. A not-ready daemon is not an error.
func (c *Client) Ready(ctx context.Context) (*api.ReadyResponse, error) {
	var out api.ReadyResponse
	err := c.do(ctx, http.MethodGet, "/ready", nil, &out)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusServiceUnavailable {
		return &out, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach dynadns API at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if out != nil && len(data) > 0 && (resp.StatusCode < 300 || resp.StatusCode == http.StatusServiceUnavailable) {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}
	return nil
}

// HealthClient queries the gRPC health service.
type HealthClient struct {
	conn   *grpc.ClientConn
	client healthpb.HealthClient
}

// NewHealthClient connects to the gRPC health service at addr. A nil
// tlsCfg connects in plaintext.
func NewHealthClient(addr string, tlsCfg *tls.Config) (*HealthClient, error) {
	creds := insecure.NewCredentials()
	if tlsCfg != nil {
		creds = credentials.NewTLS(tlsCfg)
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return &HealthClient{conn: conn, client: healthpb.NewHealthClient(conn)}, nil
}

// Check returns whether service (an endpoint description, or "" for the
// daemon) is serving.
func (h *HealthClient) Check(ctx context.Context, service string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	resp, err := h.client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return false, err
	}
	return resp.Status == healthpb.HealthCheckResponse_SERVING, nil
}

// Close closes the client connection
func (h *HealthClient) Close() error {
	if h.conn != nil {
		return h.conn.Close()
	}
	return nil
}
