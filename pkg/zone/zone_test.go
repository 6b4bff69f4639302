package zone

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/plugin"
	"github.com/cuemby/dynadns/pkg/plugins/plugintest"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/cuemby/dynadns/pkg/plugins/static"
)

const exampleZone = `$TTL 1h
@	IN SOA ns1 hostmaster (
		1      ; serial
		7200   ; refresh
		900    ; retry
		1209600
		300 )
	IN NS ns1
ns1	IN A 192.0.2.53
www	300 DYNA static!pool
	IN TXT "served; dynamically"
alias	DYNC static!alias
$ORIGIN sub.example.com.
deep	60 IN DYNC static!short
a.b	IN A 192.0.2.99
`

func parseExample(t *testing.T) *Zone {
	t.Helper()
	z, err := Parse(strings.NewReader(exampleZone), "Example.COM", "example.zone")
	require.NoError(t, err)
	return z
}

func TestParse(t *testing.T) {
	z := parseExample(t)

	assert.Equal(t, "example.com.", z.Origin)
	require.NotNil(t, z.SOA)
	assert.EqualValues(t, 1, z.SOA.Serial)
	assert.EqualValues(t, 300, z.SOA.Minttl)

	require.Len(t, z.Dynamic, 3)

	www := z.Dynamic["www.example.com."]
	require.NotNil(t, www)
	assert.Equal(t, KindDYNA, www.Kind)
	assert.EqualValues(t, 300, www.TTL)
	assert.Equal(t, "static", www.Plugin)
	assert.Equal(t, "pool", www.Resource)
	assert.Equal(t, "", www.Origin, "DYNA records map without an origin")
	assert.Equal(t, 10, www.Line)

	alias := z.Dynamic["alias.example.com."]
	require.NotNil(t, alias)
	assert.Equal(t, KindDYNC, alias.Kind)
	assert.EqualValues(t, 3600, alias.TTL, "$TTL applies")
	assert.Equal(t, "example.com.", alias.Origin)

	deep := z.Dynamic["deep.sub.example.com."]
	require.NotNil(t, deep)
	assert.EqualValues(t, 60, deep.TTL)
	assert.Equal(t, "sub.example.com.", deep.Origin)

	txt := z.Static["www.example.com."]
	require.Len(t, txt, 1, "blank owner continues the DYNA owner")
	assert.Equal(t, []string{"served; dynamically"}, txt[0].(*dns.TXT).Txt)

	assert.Len(t, z.Static["example.com."], 1)
	assert.Len(t, z.Static["a.b.sub.example.com."], 1)
}

func TestLookup(t *testing.T) {
	z := parseExample(t)

	static, dyn, exists := z.Lookup("NS1.example.com.")
	assert.True(t, exists)
	assert.Nil(t, dyn)
	assert.Len(t, static, 1)

	_, dyn, exists = z.Lookup("www.example.com.")
	assert.True(t, exists)
	require.NotNil(t, dyn)

	_, _, exists = z.Lookup("b.sub.example.com.")
	assert.True(t, exists, "empty non-terminal")

	_, _, exists = z.Lookup("nope.example.com.")
	assert.False(t, exists)
}

func TestParseErrors(t *testing.T) {
	soa := "@ IN SOA ns1 hostmaster 1 7200 900 1209600 300\n"
	tests := map[string]string{
		"no soa":           "www IN A 192.0.2.1\n",
		"bad token":        soa + "www DYNA !pool\n",
		"extra args":       soa + "www DYNA static!pool extra\n",
		"duplicate":        soa + "www DYNA static!a\nwww DYNA static!b\n",
		"dync with data":   soa + "www DYNC static!a\nwww IN TXT hi\n",
		"dync at apex":     soa + "@ DYNC static!a\n",
		"outside zone":     soa + "www.example.net. DYNA static!a\n",
		"bad rr":           soa + "www IN A not-an-address\n",
		"bad ttl":          "$TTL forever\n" + soa,
		"origin needs arg": "$ORIGIN\n" + soa,
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(text), "example.com.", "test.zone")
			assert.Error(t, err)
		})
	}
}

func TestParseToken(t *testing.T) {
	p, r, err := ParseToken("MetaFO!www")
	require.NoError(t, err)
	assert.Equal(t, "metafo", p)
	assert.Equal(t, "www", r)

	p, r, err = ParseToken("reflect")
	require.NoError(t, err)
	assert.Equal(t, "reflect", p)
	assert.Equal(t, "", r)

	_, _, err = ParseToken("!www")
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestParseTTL(t *testing.T) {
	tests := map[string]uint32{
		"300":   300,
		"1h":    3600,
		"1h30m": 5400,
		"2d":    172800,
		"1w":    604800,
		"10S":   10,
	}
	for in, want := range tests {
		got, ok := parseTTL(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "h", "1x", "1h30"} {
		_, ok := parseTTL(bad)
		assert.False(t, ok, bad)
	}
}

const bindPlugins = `
static:
  pool: [192.0.2.1, 192.0.2.2]
  alias: www.example.net.
  short: www
`

func TestBindCNAMEScenario(t *testing.T) {
	env := plugintest.Load(t, bindPlugins, nil)

	dyna := "@ IN SOA ns1 hostmaster 1 7200 900 1209600 300\nbad DYNA static!alias\n"
	z, err := Parse(strings.NewReader(dyna), "example.com.", "dyna.zone")
	require.NoError(t, err)
	err = z.Bind(env.Runtime)
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrCNAMEWithoutOrigin)
	assert.False(t, z.Dynamic["bad.example.com."].Bound)

	bindings := env.Runtime.Bindings()
	require.Len(t, bindings, 1, "the failed mapping still assigned an id")

	dync := "@ IN SOA ns1 hostmaster 1 7200 900 1209600 300\ngood DYNC static!alias\n"
	z, err = Parse(strings.NewReader(dync), "example.com.", "dync.zone")
	require.NoError(t, err)
	require.NoError(t, z.Bind(env.Runtime))

	rec := z.Dynamic["good.example.com."]
	assert.True(t, rec.Bound)
	assert.Equal(t, bindings[0].ID, rec.ID, "DYNC gets the id assigned earlier")

	out, s := env.Resolve(rec.ID, rec.Origin)
	assert.False(t, s.IsDown())
	assert.Equal(t, "www.example.net.", out.CNAME())
}

func TestBindAll(t *testing.T) {
	env := plugintest.Load(t, bindPlugins, nil)
	z := parseExample(t)
	require.NoError(t, z.Bind(env.Runtime))

	for _, rec := range z.Dynamic {
		assert.True(t, rec.Bound, rec.Name)
	}
	deep := z.Dynamic["deep.sub.example.com."]
	out, _ := env.Resolve(deep.ID, deep.Origin)
	assert.Equal(t, "www.sub.example.com.", out.CNAME(), "relative targets use the record's $ORIGIN")
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "example.com.zone")
	require.NoError(t, os.WriteFile(good, []byte(exampleZone), 0o644))
	broken := filepath.Join(dir, "broken.zone")
	require.NoError(t, os.WriteFile(broken, []byte("@ IN SOA ns1 hostmaster 1 7200 900 1209600 300\nx DYNA static!nope\n"), 0o644))

	env := plugintest.Load(t, bindPlugins, nil)

	zones, err := LoadAll([]config.ZoneConfig{
		{Origin: "example.com.", File: good},
		{Origin: "example.org.", File: broken},
	}, env.Runtime, false)
	require.NoError(t, err, "bind errors are not fatal by default")
	assert.Len(t, zones, 2)

	_, err = LoadAll([]config.ZoneConfig{{Origin: "example.org.", File: broken}}, env.Runtime, true)
	assert.ErrorIs(t, err, plugin.ErrUnknownResource)

	_, err = LoadAll([]config.ZoneConfig{{Origin: "example.net.", File: filepath.Join(dir, "missing")}}, env.Runtime, false)
	assert.Error(t, err)
}

func TestSetFindsMostSpecificZone(t *testing.T) {
	parent := &Zone{Origin: "example.com."}
	child := &Zone{Origin: "sub.example.com."}
	s := NewSet()
	assert.Nil(t, s.Find("www.example.com."))

	s.Replace([]*Zone{parent, child})
	assert.Same(t, child, s.Find("www.SUB.example.com."))
	assert.Same(t, parent, s.Find("www.example.com."))
	assert.Same(t, parent, s.Find("example.com."))
	assert.Nil(t, s.Find("example.net."))
	assert.Len(t, s.Zones(), 2)
}
