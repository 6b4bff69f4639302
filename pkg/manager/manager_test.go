package manager

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/metrics"
	"github.com/cuemby/dynadns/pkg/plugin"
	"github.com/cuemby/dynadns/pkg/sttl"
	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const zoneText = `$TTL 300
@	IN SOA ns1 hostmaster 1 7200 900 1209600 300
	IN NS ns1
ns1	IN A 192.0.2.53
www	DYNA multifo!www
alias	DYNC static!alias
broken	DYNA static!missing
`

const configText = `
options:
  listen: ["127.0.0.1:0"]
  dns_network: [udp]
  io_threads: 2
  api_listen: 127.0.0.1:0
  data_dir: %DIR%/data
  zones_dir: %DIR%
  log_level: warn
service_types:
  web:
    plugin: static
    state: up
    interval: 10
    timeout: 1
plugins:
  static:
    alias: www.example.net.
  multifo:
    www:
      service_types: web
      a: 192.0.2.1
      b: 192.0.2.2
zones:
  example.com: example.com.zone
`

func writeConfig(t *testing.T) *config.File {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "example.com.zone"), []byte(zoneText), 0o644))
	f, err := config.ParseFile([]byte(strings.ReplaceAll(configText, "%DIR%", dir)))
	require.NoError(t, err)
	return f
}

func TestBuildStrict(t *testing.T) {
	f := writeConfig(t)

	_, err := Build(f, true)
	assert.ErrorIs(t, err, plugin.ErrUnknownResource, "checkconf refuses unbound records")

	b, err := Build(f, false)
	require.NoError(t, err)
	require.Len(t, b.Zones, 1)
	assert.Equal(t, 2, b.States.Len())
	assert.Equal(t, 2, b.Engine.Len())
	require.NoError(t, b.Runtime.Exit())
}

func TestManagerRun(t *testing.T) {
	f := writeConfig(t)
	m, err := NewManager(f, "test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, m.Ready, 5*time.Second, 10*time.Millisecond)
	addrs := m.DNSAddrs()
	require.Len(t, addrs, 1)

	c := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
	req := new(dns.Msg)
	req.SetQuestion("www.example.com.", dns.TypeA)
	resp, _, err := c.Exchange(req, addrs[0].String())
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.Len(t, resp.Answer, 2)

	req.SetQuestion("broken.example.com.", dns.TypeA)
	resp, _, err = c.Exchange(req, addrs[0].String())
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, m.Ready())
}

func TestManagerAPIBusy(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	f := writeConfig(t)
	f.Options.APIAddr = lis.Addr().String()
	m, err := NewManager(f, "test")
	require.NoError(t, err)

	err = m.Run(context.Background())
	assert.Error(t, err, "a listener that cannot bind stops the daemon")
}

func TestMetricsCollector(t *testing.T) {
	f := writeConfig(t)
	b, err := Build(f, false)
	require.NoError(t, err)
	defer b.Runtime.Exit()

	ep, ok := b.States.Lookup("web/192.0.2.2")
	require.True(t, ok)
	_, err = b.States.Commit(ep.ID, false)
	require.NoError(t, err)

	c := NewMetricsCollector(b.States, time.Hour)
	c.Start()
	c.Stop()

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EndpointsTotal.WithLabelValues("web", "up")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EndpointsTotal.WithLabelValues("web", "down")))

	require.NoError(t, b.States.Force("web/192.0.2.1", sttl.New(true, 0)))
	require.NoError(t, b.States.Force("web/192.0.2.2", sttl.New(false, 0)))
	c = NewMetricsCollector(b.States, time.Hour)
	c.Start()
	c.Stop()

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EndpointsTotal.WithLabelValues("web", "forced_down")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EndpointsTotal.WithLabelValues("web", "forced_up")))
}
