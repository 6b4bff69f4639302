package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testZone = `$TTL 300
@	IN SOA ns1 hostmaster 1 7200 900 1209600 300
	IN NS ns1
ns1	IN A 192.0.2.53
www	DYNA multifo!www
`

const testConfig = `
options:
  listen: ["127.0.0.1:0"]
  data_dir: %DIR%/data
  zones_dir: %DIR%
  log_level: error
service_types:
  web:
    plugin: static
    interval: 10
plugins:
  multifo:
    www:
      service_types: web
      a: 192.0.2.1
zones:
  example.com: example.com.zone
`

func writeFiles(t *testing.T, zone string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "example.com.zone"), []byte(zone), 0o644))
	path := filepath.Join(dir, "dynadns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(testConfig, "%DIR%", dir)), 0o644))
	return path
}

func TestCheckconf(t *testing.T) {
	tests := []struct {
		name    string
		zone    string
		wantErr bool
	}{
		{name: "valid", zone: testZone},
		{name: "unbound resource", zone: testZone + "bad\tDYNA multifo!nope\n", wantErr: true},
		{name: "unknown plugin", zone: testZone + "bad\tDYNA nosuch!x\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFiles(t, tt.zone)
			rootCmd.SetArgs([]string{"checkconf", "--config", path})
			err := rootCmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckconfMissingFile(t *testing.T) {
	rootCmd.SetArgs([]string{"checkconf", "--config", filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, rootCmd.Execute())
}
