package static

import (
	"testing"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/plugin"
	"github.com/cuemby/dynadns/pkg/plugins/plugintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cfg = `
static:
  www: 192.0.2.1
  pool: [192.0.2.1, 192.0.2.2, 2001:db8::1]
  alias: www.example.net.
  short: www
`

func TestResolveAddresses(t *testing.T) {
	env := plugintest.Load(t, cfg, nil)

	out, s := env.Resolve(env.Map("static!pool", ""), "")
	assert.False(t, s.IsDown())
	assert.Equal(t, []string{"192.0.2.1", "192.0.2.2", "2001:db8::1"}, plugintest.Addrs(out))

	v4, v6 := env.Runtime.MaxAddresses()
	assert.Equal(t, 2, v4)
	assert.Equal(t, 1, v6)
}

func TestResolveCNAME(t *testing.T) {
	env := plugintest.Load(t, cfg, nil)

	out, _ := env.Resolve(env.Map("static!alias", "example.com."), "example.com.")
	assert.Equal(t, "www.example.net.", out.CNAME())

	out, _ = env.Resolve(env.Map("static!short", "example.com."), "example.com.")
	assert.Equal(t, "www.example.com.", out.CNAME(), "relative targets complete with the origin")
}

func TestCNAMENeedsOrigin(t *testing.T) {
	env := plugintest.Load(t, cfg, nil)
	_, err := env.TryMap("static!alias", "")
	assert.ErrorIs(t, err, plugin.ErrCNAMEWithoutOrigin)

	_, err = env.TryMap("static!nope", "")
	assert.ErrorIs(t, err, plugin.ErrUnknownResource)
}

func TestLoadErrors(t *testing.T) {
	for name, yaml := range map[string]string{
		"not a hash":  "static: [1, 2]\n",
		"empty list":  "static:\n  www: []\n",
		"bad address": "static:\n  www: [192.0.2.300]\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := plugintest.TryLoad(t, yaml, nil)
			assert.ErrorIs(t, err, config.ErrInvalid)
		})
	}
}

func TestQualify(t *testing.T) {
	tests := []struct{ name, origin, want string }{
		{"www.example.net.", "example.com.", "www.example.net."},
		{"www", "example.com.", "www.example.com."},
		{"www", ".", "www."},
		{"www", "", "www"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Qualify(tt.name, tt.origin), "%s in %s", tt.name, tt.origin)
	}
}
