package metafo

import (
	"sync"
	"testing"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/plugin"
	"github.com/cuemby/dynadns/pkg/plugins/plugintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/cuemby/dynadns/pkg/plugins/multifo"
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
static:
  alias: www.example.net.
multifo:
  service_types: [web]
  east-www: [192.0.2.1, 192.0.2.2]
  west-www: [198.51.100.1]
metafo:
  datacenters: [east, west]
  service_types: [web]
  www:
    dcmap:
      east: multifo!east-www
      west: multifo!west-www
  inline:
    dcmap:
      east: [192.0.2.10]
      west: [192.0.2.20]
  alias:
    datacenters: [west, east]
    dcmap:
      west: www.west.example.net.
      east: www.east.example.net.
  nested:
    dcmap:
      east: metafo!www
      west: [203.0.113.1]
  via-static:
    dcmap:
      east: static!alias
      west: [203.0.113.2]
  every:
    policy: all
    dcmap:
      east: [192.0.2.30, 192.0.2.31]
      west: [192.0.2.40]
  quorum:
    policy: at_least:2
    dcmap:
      east: multifo!east-www
      west: multifo!west-www
  mixed:
    policy: at_least:1
    dcmap:
      east: static!alias
      west: [203.0.113.3]
`

func load(t *testing.T) *plugintest.Env {
	return plugintest.Load(t, cfg, plugintest.ServiceTypes(t, types))
}

func TestFailoverOrder(t *testing.T) {
	env := load(t)
	id := env.Map("metafo!www", "")

	out, s := env.Resolve(id, "")
	assert.Equal(t, []string{"192.0.2.1", "192.0.2.2"}, plugintest.Addrs(out))
	assert.False(t, s.IsDown())

	env.Fail("web/192.0.2.1")
	env.Fail("web/192.0.2.2")
	out, s = env.Resolve(id, "")
	assert.Equal(t, []string{"198.51.100.1"}, plugintest.Addrs(out))
	assert.False(t, s.IsDown())

	env.Fail("web/198.51.100.1")
	out, s = env.Resolve(id, "")
	assert.Equal(t, []string{"192.0.2.1", "192.0.2.2"}, plugintest.Addrs(out), "all down answers the first datacenter")
	assert.True(t, s.IsDown())

	env.Pass("web/198.51.100.1")
	out, _ = env.Resolve(id, "")
	assert.Equal(t, []string{"198.51.100.1"}, plugintest.Addrs(out))
}

func TestInlineDatacenters(t *testing.T) {
	env := load(t)
	id := env.Map("metafo!inline", "")

	env.Fail("web/192.0.2.10")
	out, s := env.Resolve(id, "")
	assert.Equal(t, []string{"192.0.2.20"}, plugintest.Addrs(out))
	assert.False(t, s.IsDown())
}

func TestCNAMEDatacenters(t *testing.T) {
	env := load(t)

	_, err := env.TryMap("metafo!alias", "")
	assert.ErrorIs(t, err, plugin.ErrCNAMEWithoutOrigin)

	out, s := env.Resolve(env.Map("metafo!alias", "example.com."), "example.com.")
	assert.Equal(t, "www.west.example.net.", out.CNAME(), "resource order overrides the plugin order")
	assert.False(t, s.IsDown())
}

func TestCNAMEThroughChild(t *testing.T) {
	env := load(t)

	_, err := env.TryMap("metafo!via-static", "")
	assert.ErrorIs(t, err, plugin.ErrCNAMEWithoutOrigin)

	out, _ := env.Resolve(env.Map("metafo!via-static", "example.com."), "example.com.")
	assert.Equal(t, "www.example.net.", out.CNAME())
}

func TestNestedMetafo(t *testing.T) {
	env := load(t)
	id := env.Map("metafo!nested", "")

	out, s := env.Resolve(id, "")
	assert.Equal(t, []string{"192.0.2.1", "192.0.2.2"}, plugintest.Addrs(out))
	assert.False(t, s.IsDown())

	for _, a := range []string{"192.0.2.1", "192.0.2.2", "198.51.100.1"} {
		env.Fail("web/" + a)
	}
	out, s = env.Resolve(id, "")
	assert.Equal(t, []string{"203.0.113.1"}, plugintest.Addrs(out))
	assert.False(t, s.IsDown())
}

func TestPolicyAll(t *testing.T) {
	env := load(t)
	id := env.Map("metafo!every", "")

	out, s := env.Resolve(id, "")
	assert.Equal(t, []string{"192.0.2.30", "192.0.2.31", "192.0.2.40"}, plugintest.Addrs(out))
	assert.False(t, s.IsDown())

	env.Fail("web/192.0.2.40")
	out, s = env.Resolve(id, "")
	assert.Len(t, plugintest.Addrs(out), 3, "all answers every datacenter")
	assert.True(t, s.IsDown(), "one datacenter down makes the whole answer DOWN")
}

func TestPolicyAtLeast(t *testing.T) {
	env := load(t)
	id := env.Map("metafo!quorum", "")

	out, s := env.Resolve(id, "")
	assert.Equal(t, []string{"192.0.2.1", "192.0.2.2", "198.51.100.1"}, plugintest.Addrs(out))
	assert.False(t, s.IsDown())

	env.Fail("web/198.51.100.1")
	out, s = env.Resolve(id, "")
	assert.Equal(t, []string{"192.0.2.1", "192.0.2.2"}, plugintest.Addrs(out), "down datacenters are left out")
	assert.True(t, s.IsDown(), "one of two up is below the quorum")
}

// Nothing else in this config needs more than two v4 addresses, so the
// merged answer only fits if metafo sizes results for its children.
const mergeCfg = `
multifo:
  service_types: [web]
  east-www: [192.0.2.1, 192.0.2.2]
  west-www: [198.51.100.1, 198.51.100.2]
metafo:
  service_types: [web]
  everywhere:
    policy: all
    dcmap:
      east: multifo!east-www
      west: multifo!west-www
  outer:
    policy: at_least:1
    dcmap:
      merged: metafo!everywhere
      extra: [203.0.113.1, 2001:db8::1]
`

func TestMergedChildrenFitResult(t *testing.T) {
	env := plugintest.Load(t, mergeCfg, plugintest.ServiceTypes(t, types))

	v4, v6 := env.Runtime.MaxAddresses()
	assert.Equal(t, 5, v4, "2+2 from multifo plus one inline, nested")
	assert.Equal(t, 1, v6)

	out, s := env.Resolve(env.Map("metafo!everywhere", ""), "")
	assert.Equal(t, []string{"192.0.2.1", "192.0.2.2", "198.51.100.1", "198.51.100.2"}, plugintest.Addrs(out))
	assert.Zero(t, out.Dropped())
	assert.False(t, s.IsDown())

	out, _ = env.Resolve(env.Map("metafo!outer", ""), "")
	assert.Len(t, out.V4(), 5)
	assert.Equal(t, []string{"2001:db8::1"}, plugintest.Addrs(out)[5:])
	assert.Zero(t, out.Dropped())
}

func TestMergedChildMustExist(t *testing.T) {
	_, err := plugintest.TryLoad(t, `
multifo:
  service_types: [web]
  east-www: [192.0.2.1]
metafo:
  a:
    policy: all
    dcmap: { east: multifo!west-www, west: [192.0.2.9] }
`, plugintest.ServiceTypes(t, types))
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.ErrorIs(t, err, plugin.ErrUnknownResource)
}

func TestPolicyRejectsCNAMEChild(t *testing.T) {
	env := load(t)
	_, err := env.TryMap("metafo!mixed", "example.com.")
	assert.Error(t, err)
}

func TestConcurrentResolve(t *testing.T) {
	env := load(t)
	id := env.Map("metafo!nested", "")

	var wg sync.WaitGroup
	for thread := 0; thread < plugintest.Threads; thread++ {
		wg.Add(1)
		go func(thread int) {
			defer wg.Done()
			out := env.Runtime.NewResult()
			ci := &plugin.ClientInfo{}
			for i := 0; i < 500; i++ {
				env.Runtime.Resolve(thread, id, "", ci, out)
				if len(out.V4()) != 2 {
					t.Errorf("thread %d: got %v", thread, out.V4())
					return
				}
			}
		}(thread)
	}
	wg.Wait()
}

func TestLoadErrors(t *testing.T) {
	tests := map[string]string{
		"cycle": `
metafo:
  a:
    dcmap: { east: metafo!b }
  b:
    dcmap: { east: metafo!a }
`,
		"self": `
metafo:
  a:
    dcmap: { east: metafo!a }
`,
		"unknown resource": `
metafo:
  a:
    dcmap: { east: metafo!zzz }
`,
		"order mismatch": `
metafo:
  datacenters: [east, west]
  a:
    dcmap: { east: [192.0.2.1] }
`,
		"empty dcmap": `
metafo:
  a:
    dcmap: {}
`,
		"bad delegation": `
metafo:
  a:
    dcmap: { east: "!x" }
`,
		"unknown policy": `
metafo:
  a:
    policy: majority
    dcmap: { east: [192.0.2.1] }
`,
		"quorum too large": `
metafo:
  a:
    policy: at_least:3
    dcmap: { east: [192.0.2.1], west: [192.0.2.2] }
`,
		"cname with merging policy": `
metafo:
  a:
    policy: all
    dcmap: { east: www.example.net., west: [192.0.2.2] }
`,
	}
	for name, yaml := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := plugintest.TryLoad(t, yaml, plugintest.ServiceTypes(t, types))
			assert.ErrorIs(t, err, config.ErrInvalid)
		})
	}
}

func TestUnknownDelegatedPlugin(t *testing.T) {
	_, err := plugintest.TryLoad(t, "metafo:\n  a:\n    dcmap: { east: nope!x }\n", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrUnknownPlugin)
}
