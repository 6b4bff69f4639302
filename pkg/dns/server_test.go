package dns

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/dynadns/pkg/plugin"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a dns.ResponseWriter that keeps the written message.
type recorder struct {
	remote net.Addr
	msg    *dns.Msg
}

func (r *recorder) LocalAddr() net.Addr       { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53} }
func (r *recorder) RemoteAddr() net.Addr      { return r.remote }
func (r *recorder) WriteMsg(m *dns.Msg) error { r.msg = m; return nil }
func (r *recorder) Write([]byte) (int, error) { return 0, nil }
func (r *recorder) Close() error              { return nil }
func (r *recorder) TsigStatus() error         { return nil }
func (r *recorder) TsigTimersOnly(bool)       {}
func (r *recorder) Hijack()                   {}

func startServer(t *testing.T) (*fixture, *Server) {
	t.Helper()
	f := newFixture(t, 5, 86400)
	srv := NewServer(f.resolver, Config{
		Listen:  []string{"127.0.0.1:0"},
		Workers: 2,
	})
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return f, srv
}

func TestServerStartStop(t *testing.T) {
	f, srv := startServer(t)
	assert.True(t, srv.IsRunning())
	assert.Len(t, srv.Addrs(), 2, "udp and tcp")
	assert.Equal(t, plugin.PhaseRunning, f.env.Runtime.Phase())

	assert.Error(t, srv.Start(context.Background()), "already running")

	require.NoError(t, srv.Stop(context.Background()))
	assert.False(t, srv.IsRunning())
	assert.Empty(t, srv.Addrs())
	require.NoError(t, srv.Stop(context.Background()), "stopping twice is harmless")
}

func TestServerExchange(t *testing.T) {
	_, srv := startServer(t)

	for _, addr := range srv.Addrs() {
		c := &dns.Client{Net: addr.Network(), Timeout: 2 * time.Second}
		req := new(dns.Msg)
		req.SetQuestion("www.example.com.", dns.TypeA)

		resp, _, err := c.Exchange(req, addr.String())
		require.NoError(t, err, addr.Network())
		assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
		assert.True(t, resp.Authoritative)
		assert.Len(t, resp.Answer, 2, addr.Network())
	}
}

func TestServeDNSUsesRemoteAddress(t *testing.T) {
	_, srv := startServer(t)

	rec := &recorder{remote: &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 5353}}
	req := new(dns.Msg)
	req.SetQuestion("echo.example.com.", dns.TypeA)
	srv.ServeDNS(rec, req)

	require.NotNil(t, rec.msg)
	require.Len(t, rec.msg.Answer, 1)
	assert.Equal(t, "203.0.113.9", rec.msg.Answer[0].(*dns.A).A.String())
}

func TestServeDNSAfterStop(t *testing.T) {
	_, srv := startServer(t)
	require.NoError(t, srv.Stop(context.Background()))

	rec := &recorder{remote: &net.TCPAddr{IP: net.ParseIP("203.0.113.9"), Port: 5353}}
	req := new(dns.Msg)
	req.SetQuestion("www.example.com.", dns.TypeA)
	srv.ServeDNS(rec, req)

	require.NotNil(t, rec.msg)
	assert.Equal(t, dns.RcodeServerFailure, rec.msg.Rcode)
}

func TestUDPSize(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("www.example.com.", dns.TypeA)
	assert.Equal(t, dns.MinMsgSize, udpSize(req))

	req.SetEdns0(1232, false)
	assert.Equal(t, 1232, udpSize(req))
}
