package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/dynadns/pkg/config"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP   CheckType = "http_status"
	CheckTypeTCP    CheckType = "tcp_connect"
	CheckTypeExec   CheckType = "extmon"
	CheckTypeFile   CheckType = "extfile"
	CheckTypeStatic CheckType = "static"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs a single health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Names of the service types that exist without configuration. They never
// run checks: "up" and "none" hold UP forever, "down" holds DOWN.
const (
	ServiceTypeUp   = "up"
	ServiceTypeDown = "down"
	ServiceTypeNone = "none"

	// ServiceTypeDefault is used when a resource names no service types.
	ServiceTypeDefault = "default"
)

// Threshold and timing defaults
const (
	DefaultInterval   = 10 * time.Second
	DefaultTimeout    = 5 * time.Second
	DefaultUpThresh   = 20
	DefaultOKThresh   = 1
	DefaultDownThresh = 10

	// MaxThresh bounds up_thresh, ok_thresh and down_thresh
	MaxThresh = 1000
)

// GenericKeys are the service type keys every monitor plugin accepts.
var GenericKeys = []string{"plugin", "interval", "timeout", "up_thresh", "ok_thresh", "down_thresh"}

// ServiceType is a named bundle of a monitor plugin and the timing and
// anti-flap parameters shared by every endpoint checked through it.
type ServiceType struct {
	Name string

	// Plugin names the monitor plugin that performs the checks. Empty for
	// the virtual types.
	Plugin string

	// Interval is the time between checks of one endpoint
	Interval time.Duration

	// Timeout is the maximum time a single check may take
	Timeout time.Duration

	// UpThresh is the number of consecutive successes to go DOWN -> UP
	UpThresh int

	// OKThresh is the number of ok results, counted since the endpoint
	// went DOWN, also required before it may come back UP
	OKThresh int

	// DownThresh is the number of consecutive failures to go UP -> DOWN
	DownThresh int

	// Options is the raw service type block; monitor plugins read their own
	// keys from it.
	Options *config.Node
}

// Virtual reports whether the type is one of the never-checked built-ins.
func (st *ServiceType) Virtual() bool {
	return st.Plugin == ""
}

// InitiallyDown reports whether endpoints of this type start DOWN.
func (st *ServiceType) InitiallyDown() bool {
	return st.Name == ServiceTypeDown
}

// Builtin returns the virtual service types plus "default", an HTTP check
// against port 80.
func Builtin() map[string]*ServiceType {
	virtual := func(name string) *ServiceType {
		return &ServiceType{
			Name:       name,
			Interval:   DefaultInterval,
			Timeout:    DefaultTimeout,
			UpThresh:   1,
			OKThresh:   1,
			DownThresh: 1,
			Options:    config.Hash(),
		}
	}
	return map[string]*ServiceType{
		ServiceTypeUp:   virtual(ServiceTypeUp),
		ServiceTypeDown: virtual(ServiceTypeDown),
		ServiceTypeNone: virtual(ServiceTypeNone),
		ServiceTypeDefault: {
			Name:       ServiceTypeDefault,
			Plugin:     string(CheckTypeHTTP),
			Interval:   DefaultInterval,
			Timeout:    DefaultTimeout,
			UpThresh:   DefaultUpThresh,
			OKThresh:   DefaultOKThresh,
			DownThresh: DefaultDownThresh,
			Options:    config.Hash(),
		},
	}
}

// ParseServiceType builds a ServiceType from its configuration block.
// Plugin-specific keys are left for the monitor plugin to validate.
func ParseServiceType(name string, n *config.Node) (*ServiceType, error) {
	if n.Kind() != config.KindHash {
		return nil, n.Errorf("service type %q must be a hash", name)
	}
	if _, builtin := Builtin()[name]; builtin && name != ServiceTypeDefault {
		return nil, n.Errorf("service type %q is built in and cannot be redefined", name)
	}

	st := &ServiceType{Name: name, Options: n}
	var err error

	if st.Plugin, err = n.String("plugin", ""); err != nil {
		return nil, err
	}
	if st.Plugin == "" {
		return nil, n.Errorf("service type %q: plugin is required", name)
	}
	if st.Interval, err = n.Duration("interval", DefaultInterval); err != nil {
		return nil, err
	}
	if st.Timeout, err = n.Duration("timeout", DefaultTimeout); err != nil {
		return nil, err
	}
	if st.UpThresh, err = n.IntRange("up_thresh", DefaultUpThresh, 1, MaxThresh); err != nil {
		return nil, err
	}
	if st.OKThresh, err = n.IntRange("ok_thresh", DefaultOKThresh, 1, MaxThresh); err != nil {
		return nil, err
	}
	if st.DownThresh, err = n.IntRange("down_thresh", DefaultDownThresh, 1, MaxThresh); err != nil {
		return nil, err
	}

	if st.Interval < time.Second {
		return nil, n.Errorf("service type %q: interval must be at least 1s", name)
	}
	if st.Timeout <= 0 || st.Timeout >= st.Interval {
		return nil, n.Errorf("service type %q: timeout (%s) must be positive and less than interval (%s)",
			name, st.Timeout, st.Interval)
	}

	return st, nil
}

// ParseServiceTypes builds every configured service type on top of the
// built-ins.
func ParseServiceTypes(n *config.Node) (map[string]*ServiceType, error) {
	types := Builtin()
	for _, name := range n.Keys() {
		v, _ := n.Get(name)
		st, err := ParseServiceType(name, v)
		if err != nil {
			return nil, err
		}
		types[name] = st
	}
	return types, nil
}

// failed is a small helper for checkers building an unhealthy Result.
func failed(start time.Time, format string, args ...any) Result {
	return Result{
		Healthy:   false,
		Message:   fmt.Sprintf(format, args...),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
