package addrset

import (
	"testing"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeed(t *testing.T) {
	tests := []struct {
		n      int
		thresh float64
		want   int
	}{
		{1, 0.5, 1},
		{2, 0.5, 1},
		{3, 0.5, 2},
		{4, 0.5, 2},
		{4, 1, 4},
		{10, 0.01, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Need(tt.n, tt.thresh), "n=%d thresh=%g", tt.n, tt.thresh)
	}
}

func TestUpThresh(t *testing.T) {
	n, err := config.Parse([]byte("up_thresh: 0.75\n"))
	require.NoError(t, err)
	v, err := UpThresh(n, DefaultUpThresh)
	require.NoError(t, err)
	assert.Equal(t, 0.75, v)

	v, err = UpThresh(config.Hash(), DefaultUpThresh)
	require.NoError(t, err)
	assert.Equal(t, DefaultUpThresh, v)

	for _, bad := range []string{"up_thresh: 0\n", "up_thresh: 1.5\n", "up_thresh: half\n"} {
		n, err := config.Parse([]byte(bad))
		require.NoError(t, err)
		_, err = UpThresh(n, DefaultUpThresh)
		assert.ErrorIs(t, err, config.ErrInvalid, bad)
	}
}

func TestServiceTypes(t *testing.T) {
	n, err := config.Parse([]byte("service_types: web\n"))
	require.NoError(t, err)
	types, err := ServiceTypes(n, DefaultServiceTypes)
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, types)

	types, err = ServiceTypes(config.Hash(), DefaultServiceTypes)
	require.NoError(t, err)
	assert.Equal(t, DefaultServiceTypes, types)
}

func TestParseAddr(t *testing.T) {
	addr, err := ParseAddr(config.Scalar("::ffff:192.0.2.1"))
	require.NoError(t, err)
	assert.True(t, addr.Is4(), "mapped addresses are unmapped")

	_, err = ParseAddr(config.Scalar("fe80::1%eth0"))
	assert.ErrorIs(t, err, config.ErrInvalid)

	assert.True(t, IsAddr(config.Scalar("2001:db8::1")))
	assert.False(t, IsAddr(config.Scalar("www.example.com.")))
	assert.False(t, IsAddr(config.Hash()))
}
