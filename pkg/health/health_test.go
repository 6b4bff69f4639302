package health

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServiceType(t *testing.T) {
	n := config.Hash().
		Set("plugin", config.Scalar("tcp_connect")).
		Set("port", config.Scalar("443")).
		Set("interval", config.Scalar("8")).
		Set("timeout", config.Scalar("3")).
		Set("up_thresh", config.Scalar("2")).
		Set("down_thresh", config.Scalar("2"))

	st, err := ParseServiceType("https", n)
	require.NoError(t, err)

	assert.Equal(t, "https", st.Name)
	assert.Equal(t, "tcp_connect", st.Plugin)
	assert.Equal(t, 8*time.Second, st.Interval)
	assert.Equal(t, 3*time.Second, st.Timeout)
	assert.Equal(t, 2, st.UpThresh)
	assert.Equal(t, DefaultOKThresh, st.OKThresh)
	assert.Equal(t, 2, st.DownThresh)
	assert.False(t, st.Virtual())
}

func TestParseServiceTypeErrors(t *testing.T) {
	tests := []struct {
		name string
		st   string
		node *config.Node
	}{
		{
			name: "missing plugin",
			st:   "web",
			node: config.Hash(),
		},
		{
			name: "timeout not below interval",
			st:   "web",
			node: config.Hash().
				Set("plugin", config.Scalar("http_status")).
				Set("interval", config.Scalar("5")).
				Set("timeout", config.Scalar("5")),
		},
		{
			name: "zero threshold",
			st:   "web",
			node: config.Hash().
				Set("plugin", config.Scalar("http_status")).
				Set("up_thresh", config.Scalar("0")),
		},
		{
			name: "threshold too large",
			st:   "web",
			node: config.Hash().
				Set("plugin", config.Scalar("http_status")).
				Set("ok_thresh", config.Scalar("1001")),
		},
		{
			name: "redefine builtin",
			st:   ServiceTypeUp,
			node: config.Hash().Set("plugin", config.Scalar("http_status")),
		},
		{
			name: "not a hash",
			st:   "web",
			node: config.Scalar("http_status"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseServiceType(tt.st, tt.node)
			require.Error(t, err)
			assert.True(t, errors.Is(err, config.ErrInvalid))
		})
	}
}

func TestParseServiceTypesIncludesBuiltins(t *testing.T) {
	types, err := ParseServiceTypes(config.Hash().
		Set("db", config.Hash().Set("plugin", config.Scalar("tcp_connect"))))
	require.NoError(t, err)

	for _, name := range []string{ServiceTypeUp, ServiceTypeDown, ServiceTypeNone, ServiceTypeDefault, "db"} {
		assert.Contains(t, types, name)
	}
	assert.True(t, types[ServiceTypeDown].Virtual())
	assert.True(t, types[ServiceTypeDown].InitiallyDown())
	assert.False(t, types[ServiceTypeUp].InitiallyDown())
	assert.Equal(t, string(CheckTypeHTTP), types[ServiceTypeDefault].Plugin)
}

func TestTCPChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	result := NewTCPChecker(ln.Addr().String()).Check(context.Background())
	assert.True(t, result.Healthy, result.Message)

	addr := ln.Addr().String()
	ln.Close()
	result = NewTCPChecker(addr).WithTimeout(200 * time.Millisecond).Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Equal(t, CheckTypeTCP, NewTCPChecker(addr).Type())
}

func TestTCPCheckerProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				line, _ := bufio.NewReader(c).ReadString('\n')
				if strings.TrimSpace(line) == "PING" {
					_, _ = c.Write([]byte("+PONG\r\n"))
				} else {
					_, _ = c.Write([]byte("-ERR\r\n"))
				}
			}(c)
		}
	}()
	addr := ln.Addr().String()

	result := NewTCPChecker(addr).WithProbe("PING", "+PONG").Check(context.Background())
	assert.True(t, result.Healthy, result.Message)

	result = NewTCPChecker(addr).WithProbe("HELLO", "+PONG").Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "-ERR")
}

func TestExecChecker(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	ok := NewExecChecker([]string{"sh", "-c", "test \"$0\" = 192.0.2.7", ItemPlaceholder}).ForItem("192.0.2.7")
	result := ok.Check(context.Background())
	assert.True(t, result.Healthy, result.Message)

	bad := NewExecChecker([]string{"sh", "-c", "echo broken >&2; exit 3"})
	result = bad.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "broken")
	assert.Contains(t, result.Message, "exit 3")

	slow := NewExecChecker([]string{"sleep", "5"}).WithTimeout(100 * time.Millisecond)
	start := time.Now()
	result = slow.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Contains(t, result.Message, "killed")

	empty := NewExecChecker(nil)
	assert.False(t, empty.Check(context.Background()).Healthy)
}

func TestFileChecker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "states")
	require.NoError(t, os.WriteFile(path, []byte("# managed by agent\nweb1 = UP\nweb2 = down\n"), 0o644))

	src := NewFileSource(path)

	assert.True(t, NewFileChecker(src, "web1").Check(context.Background()).Healthy)
	assert.False(t, NewFileChecker(src, "web2").Check(context.Background()).Healthy)

	missing := NewFileChecker(src, "web3")
	assert.False(t, missing.Check(context.Background()).Healthy)
	missing.MissingHealthy = true
	assert.True(t, missing.Check(context.Background()).Healthy)

	// rewrite with a different size so the change is noticed even on
	// filesystems with coarse mtimes
	require.NoError(t, os.WriteFile(path, []byte("web1 = DOWN\nweb2 = UP\nweb4 = UP\n"), 0o644))
	assert.False(t, NewFileChecker(src, "web1").Check(context.Background()).Healthy)
	assert.True(t, NewFileChecker(src, "web2").Check(context.Background()).Healthy)
}

func TestFileCheckerBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "states")
	require.NoError(t, os.WriteFile(path, []byte("web1 maybe\n"), 0o644))

	result := NewFileChecker(NewFileSource(path), "web1").Check(context.Background())
	assert.False(t, result.Healthy)

	result = NewFileChecker(NewFileSource(filepath.Join(dir, "absent")), "web1").Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestStaticChecker(t *testing.T) {
	assert.True(t, StaticChecker{Healthy: true}.Check(context.Background()).Healthy)
	assert.False(t, StaticChecker{}.Check(context.Background()).Healthy)
	assert.Equal(t, CheckTypeStatic, StaticChecker{}.Type())
}
