package security

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertAuthorityIssue(t *testing.T) {
	ca := NewCertAuthority()
	assert.False(t, ca.IsInitialized())

	_, err := ca.IssueServerCertificate([]string{"localhost"})
	assert.ErrorIs(t, err, ErrNoCA)

	require.NoError(t, ca.Initialize())
	assert.True(t, ca.IsInitialized())
	assert.True(t, ca.RootCert().IsCA)

	cert, err := ca.IssueServerCertificate([]string{"127.0.0.1", "dns.example.com", ""})
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	assert.Equal(t, []string{"dns.example.com"}, cert.Leaf.DNSNames)
	require.Len(t, cert.Leaf.IPAddresses, 1)
	assert.True(t, cert.Leaf.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")))
	assert.False(t, CertNeedsRotation(cert.Leaf))
	assert.NoError(t, ca.VerifyCertificate(cert.Leaf))

	other := NewCertAuthority()
	require.NoError(t, other.Initialize())
	assert.Error(t, other.VerifyCertificate(cert.Leaf))
}

func TestLoadOrCreateCA(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tls")

	first, err := LoadOrCreateCA(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, CACertFile))

	info, err := os.Stat(filepath.Join(dir, caKeyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := LoadOrCreateCA(dir)
	require.NoError(t, err)
	assert.True(t, first.RootCert().Equal(second.RootCert()), "authority is reused")
}

func TestServerTLSConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := ServerTLSConfig(dir, []string{"127.0.0.1"})
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	serial := cfg.Certificates[0].Leaf.SerialNumber

	again, err := ServerTLSConfig(dir, []string{"127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, serial, again.Certificates[0].Leaf.SerialNumber, "valid certificate is reused")

	wider, err := ServerTLSConfig(dir, []string{"127.0.0.1", "localhost"})
	require.NoError(t, err)
	assert.NotEqual(t, serial, wider.Certificates[0].Leaf.SerialNumber, "new host forces a reissue")
}

func TestClientTrustsServer(t *testing.T) {
	dir := t.TempDir()
	serverCfg, err := ServerTLSConfig(dir, []string{"127.0.0.1"})
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	srv.TLS = serverCfg
	srv.StartTLS()
	defer srv.Close()

	clientCfg, err := ClientTLSConfig(filepath.Join(dir, CACertFile))
	require.NoError(t, err)

	c := &http.Client{Transport: &http.Transport{TLSClientConfig: clientCfg}}
	resp, err := c.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	untrusted := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12}}}
	_, err = untrusted.Get(srv.URL)
	assert.Error(t, err)
}

func TestClientTLSConfigErrors(t *testing.T) {
	_, err := ClientTLSConfig(filepath.Join(t.TempDir(), "missing.crt"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.crt")
	require.NoError(t, os.WriteFile(bad, []byte("not pem"), 0o644))
	_, err = ClientTLSConfig(bad)
	assert.Error(t, err)
}
