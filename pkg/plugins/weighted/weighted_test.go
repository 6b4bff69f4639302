package weighted

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/plugins/plugintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
weighted:
  service_types: [web]
  www:
    a: [192.0.2.1, 10]
    b: [192.0.2.2, 30]
  all:
    multi: true
    a: [192.0.2.1, 1]
    b: [192.0.2.2, 1]
    c: [192.0.2.3, 2]
`

func TestWeightedPick(t *testing.T) {
	env := plugintest.Load(t, cfg, plugintest.ServiceTypes(t, types))
	id := env.Map("weighted!www", "")

	counts := make(map[string]int)
	for i := 0; i < 4000; i++ {
		out, s := env.Resolve(id, "")
		require.False(t, s.IsDown())
		addrs := plugintest.Addrs(out)
		require.Len(t, addrs, 1)
		counts[addrs[0]]++
	}
	assert.Len(t, counts, 2)
	assert.InDelta(t, 3.0, float64(counts["192.0.2.2"])/float64(counts["192.0.2.1"]), 0.6)

	env.Fail("web/192.0.2.1")
	for i := 0; i < 100; i++ {
		out, s := env.Resolve(id, "")
		require.False(t, s.IsDown())
		require.Equal(t, []string{"192.0.2.2"}, plugintest.Addrs(out))
	}

	env.Fail("web/192.0.2.2")
	out, s := env.Resolve(id, "")
	assert.True(t, s.IsDown())
	assert.Len(t, out.V4(), 1, "a down resource still answers one address")
}

func TestWeightedMulti(t *testing.T) {
	env := plugintest.Load(t, cfg, plugintest.ServiceTypes(t, types))
	id := env.Map("weighted!all", "")

	env.Fail("web/192.0.2.3")
	out, s := env.Resolve(id, "")
	assert.Equal(t, []string{"192.0.2.1", "192.0.2.2"}, plugintest.Addrs(out))
	assert.False(t, s.IsDown(), "half the weight is still up")

	env.Fail("web/192.0.2.1")
	out, s = env.Resolve(id, "")
	assert.Equal(t, []string{"192.0.2.1", "192.0.2.2", "192.0.2.3"}, plugintest.Addrs(out))
	assert.True(t, s.IsDown())
}

func TestWeightedLoadErrors(t *testing.T) {
	var big strings.Builder
	big.WriteString("weighted:\n  www:\n")
	for i := 0; i <= MaxAddrs; i++ {
		fmt.Fprintf(&big, "    a%d: [10.0.%d.%d, 1]\n", i, i/256, i%256)
	}

	tests := map[string]string{
		"zero weight":  "weighted:\n  www:\n    a: [192.0.2.1, 0]\n",
		"bad weight":   "weighted:\n  www:\n    a: [192.0.2.1, heavy]\n",
		"not a pair":   "weighted:\n  www:\n    a: 192.0.2.1\n",
		"no addresses": "weighted:\n  www:\n    multi: true\n",
		"too many":     big.String(),
		"bad address":  "weighted:\n  www:\n    a: [192.0.2.999, 1]\n",
		"not a hash":   "weighted:\n  www: [192.0.2.1]\n",
	}
	for name, yaml := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := plugintest.TryLoad(t, yaml, plugintest.ServiceTypes(t, types))
			assert.ErrorIs(t, err, config.ErrInvalid)
		})
	}
}
