package framework

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/cuemby/dynadns/pkg/state"
)

// Waiter provides utilities for waiting on conditions with timeouts
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a new Waiter with the given timeout and polling interval
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// DefaultWaiter returns a waiter with a 15s timeout polling every 100ms
func DefaultWaiter() *Waiter {
	return NewWaiter(15*time.Second, 100*time.Millisecond)
}

// WaitFor waits for a condition to become true
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Check immediately
	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitForState waits until the endpoint desc publishes the wanted health
func (w *Waiter) WaitForState(ctx context.Context, states *state.Store, desc string, down bool) error {
	want := "UP"
	if down {
		want = "DOWN"
	}
	return w.WaitFor(ctx, func() bool {
		ep, ok := states.Lookup(desc)
		return ok && ep.State().IsDown() == down
	}, fmt.Sprintf("endpoint %s to be %s", desc, want))
}

// WaitForAnswer waits until qname resolves to exactly want, in any order
func (w *Waiter) WaitForAnswer(ctx context.Context, d *Daemon, qname string, qtype uint16, want ...string) error {
	want = slices.Clone(want)
	slices.Sort(want)
	var last []string
	err := w.WaitFor(ctx, func() bool {
		ans, err := Query(d.DNSAddr(), qname, qtype)
		if err != nil {
			return false
		}
		last = ans.Data
		return slices.Equal(ans.Data, want)
	}, fmt.Sprintf("%s to answer %v", qname, want))
	if err != nil {
		return fmt.Errorf("%w, last answer %v", err, last)
	}
	return nil
}
