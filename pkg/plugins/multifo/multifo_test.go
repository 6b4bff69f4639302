package multifo

import (
	"testing"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/plugins/plugintest"
	"github.com/stretchr/testify/assert"

	_ "github.com/cuemby/dynadns/pkg/plugins/static"
)

const types = `
web:
  plugin: static
  interval: 10
  timeout: 1
  up_thresh: 1
  down_thresh: 1
`

const cfg = `
multifo:
  service_types: [web]
  www:
    lb01: 192.0.2.1
    lb02: 192.0.2.2
    lb03: 192.0.2.3
    lb04: "2001:db8::4"
  strict:
    up_thresh: 1
    a: 192.0.2.10
    b: 192.0.2.11
  api: [192.0.2.20, 192.0.2.21]
`

func TestUpThreshold(t *testing.T) {
	env := plugintest.Load(t, cfg, plugintest.ServiceTypes(t, types))
	id := env.Map("multifo!www", "")

	out, s := env.Resolve(id, "")
	assert.Equal(t, []string{"192.0.2.1", "192.0.2.2", "192.0.2.3", "2001:db8::4"}, plugintest.Addrs(out))
	assert.False(t, s.IsDown())

	env.Fail("web/192.0.2.1")
	out, s = env.Resolve(id, "")
	assert.Equal(t, []string{"192.0.2.2", "192.0.2.3", "2001:db8::4"}, plugintest.Addrs(out))
	assert.False(t, s.IsDown())

	env.Fail("web/192.0.2.2")
	out, s = env.Resolve(id, "")
	assert.Equal(t, []string{"192.0.2.3", "192.0.2.1", "192.0.2.2", "2001:db8::4"}, plugintest.Addrs(out),
		"below threshold the whole family is answered, up addresses first")
	assert.True(t, s.IsDown())
}

func TestResourceLevelThreshold(t *testing.T) {
	env := plugintest.Load(t, cfg, plugintest.ServiceTypes(t, types))
	id := env.Map("multifo!strict", "")

	env.Fail("web/192.0.2.10")
	out, s := env.Resolve(id, "")
	assert.Equal(t, []string{"192.0.2.11", "192.0.2.10"}, plugintest.Addrs(out))
	assert.True(t, s.IsDown())
}

func TestListResource(t *testing.T) {
	env := plugintest.Load(t, cfg, plugintest.ServiceTypes(t, types))
	out, s := env.Resolve(env.Map("multifo!api", ""), "")
	assert.Equal(t, []string{"192.0.2.20", "192.0.2.21"}, plugintest.Addrs(out))
	assert.False(t, s.IsDown())

	v4, _ := env.Runtime.MaxAddresses()
	assert.Equal(t, 3, v4)
}

func TestLoadErrors(t *testing.T) {
	tests := map[string]string{
		"no addresses": "multifo:\n  www: {}\n",
		"bad address":  "multifo:\n  www: [192.0.2.1, nope]\n",
		"bad thresh":   "multifo:\n  up_thresh: 0\n  www: [192.0.2.1]\n",
		"unknown type": "multifo:\n  service_types: [nope]\n  www: [192.0.2.1]\n",
	}
	for name, yaml := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := plugintest.TryLoad(t, yaml, plugintest.ServiceTypes(t, types))
			assert.ErrorIs(t, err, config.ErrInvalid)
		})
	}
}
