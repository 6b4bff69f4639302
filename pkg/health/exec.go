package health

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// ItemPlaceholder is replaced in ExecChecker arguments by the monitored
// address or CNAME.
const ItemPlaceholder = "%%ITEM%%"

// ExecChecker runs an external command per check; exit status 0 is healthy.
type ExecChecker struct {
	// Command is the command to execute (e.g., ["/usr/local/bin/check_db", "%%ITEM%%"])
	Command []string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration

	// Env is appended to the inherited environment
	Env []string
}

// NewExecChecker creates a new exec health checker
func NewExecChecker(command []string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: 10 * time.Second,
	}
}

// ForItem returns a copy of the checker with ItemPlaceholder expanded.
func (e *ExecChecker) ForItem(item string) *ExecChecker {
	cmd := make([]string, len(e.Command))
	for i, arg := range e.Command {
		cmd[i] = strings.ReplaceAll(arg, ItemPlaceholder, item)
	}
	return &ExecChecker{Command: cmd, Timeout: e.Timeout, Env: e.Env}
}

// Check runs the command once. The item is up only when the command exits
// 0 before Timeout; a timed-out command is killed.
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if len(e.Command) == 0 {
		return failed(start, "no command specified")
	}

	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return failed(start, "%s: killed after %s", e.Command[0], e.Timeout)
	case errors.As(err, &exitErr):
		return failed(start, "%s: exit %d: %s", e.Command[0], exitErr.ExitCode(), truncate(out.String(), 200))
	default:
		return failed(start, "%s: %v", e.Command[0], err)
	}

	message := e.Command[0] + ": exit 0"
	if out.Len() > 0 {
		message += ": " + truncate(out.String(), 100)
	}
	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
