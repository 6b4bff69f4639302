package null

import (
	"testing"

	"github.com/cuemby/dynadns/pkg/plugins/plugintest"
	"github.com/stretchr/testify/assert"
)

func TestNull(t *testing.T) {
	env := plugintest.Load(t, "null: {}\n", nil)

	out, s := env.Resolve(env.Map("null!anything", ""), "")
	assert.False(t, s.IsDown())
	assert.Equal(t, []string{"0.0.0.0", "::"}, plugintest.Addrs(out))

	out, s = env.Resolve(env.Map("null!other", "example.com."), "example.com.")
	assert.False(t, s.IsDown())
	assert.Equal(t, CNAMETarget, out.CNAME())
}

func TestNullTakesNoConfig(t *testing.T) {
	_, err := plugintest.TryLoad(t, "null:\n  foo: bar\n", nil)
	assert.Error(t, err)
}
