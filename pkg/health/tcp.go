package health

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// TCPChecker connects to an address and, optionally, sends a probe line and
// checks the first line the server answers.
type TCPChecker struct {
	Address string
	Timeout time.Duration

	// Send is written after connecting when not empty
	Send string

	// Expect must prefix the first line read from the server when not empty
	Expect string
}

// NewTCPChecker creates a connect-only checker for address ("host:port").
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: DefaultTimeout,
	}
}

// WithTimeout sets the connection timeout.
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}

// WithProbe sets the line to send and the expected answer prefix.
func (t *TCPChecker) WithProbe(send, expect string) *TCPChecker {
	t.Send, t.Expect = send, expect
	return t
}

// Check dials the address. The deadline is the earlier of ctx's and
// Timeout from now, and covers the probe exchange too.
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	deadline := start.Add(t.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	dialer := &net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return failed(start, "connection failed: %v", err)
	}
	defer conn.Close()

	if t.Send == "" && t.Expect == "" {
		return Result{
			Healthy:   true,
			Message:   "connected to " + t.Address,
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	_ = conn.SetDeadline(deadline)
	if t.Send != "" {
		if _, err := fmt.Fprintf(conn, "%s\r\n", t.Send); err != nil {
			return failed(start, "send failed: %v", err)
		}
	}
	if t.Expect == "" {
		return Result{Healthy: true, Message: "probe sent to " + t.Address, CheckedAt: start, Duration: time.Since(start)}
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return failed(start, "no answer: %v", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, t.Expect) {
		return failed(start, "unexpected answer %q", line)
	}
	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("%s answered %q", t.Address, line),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}
