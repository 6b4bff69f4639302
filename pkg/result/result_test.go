package result

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddSplitsFamilies(t *testing.T) {
	r := New(2, 2)

	assert.True(t, r.Add(netip.MustParseAddr("192.0.2.1")))
	assert.True(t, r.Add(netip.MustParseAddr("2001:db8::1")))
	assert.True(t, r.Add(netip.MustParseAddr("::ffff:192.0.2.2")))

	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("192.0.2.1"),
		netip.MustParseAddr("192.0.2.2"),
	}, r.V4())
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("2001:db8::1")}, r.V6())
	assert.Equal(t, 3, r.Len())
}

func TestAddRespectsCapacity(t *testing.T) {
	r := New(1, 1)
	assert.True(t, r.Add(netip.MustParseAddr("192.0.2.1")))
	assert.False(t, r.Add(netip.MustParseAddr("192.0.2.2")))
	assert.Equal(t, 1, r.Dropped())
	assert.Len(t, r.V4(), 1)

	assert.False(t, r.Add(netip.Addr{}))
}

func TestAddAddressBytes(t *testing.T) {
	r := New(1, 1)
	assert.True(t, r.AddAddress(IPv4, []byte{10, 0, 0, 1}))
	assert.True(t, r.AddAddress(IPv6, netip.MustParseAddr("2001:db8::2").AsSlice()))
	assert.False(t, r.AddAddress(IPv4, []byte{1, 2, 3}))
	assert.False(t, r.AddAddress(IPv6, []byte{10, 0, 0, 1}))

	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), r.V4()[0])
	assert.Equal(t, netip.MustParseAddr("2001:db8::2"), r.V6()[0])
}

func TestClearKeepsCapacity(t *testing.T) {
	r := New(4, 2)
	r.Add(netip.MustParseAddr("192.0.2.1"))
	r.SetCNAME("www.example.com.")
	r.SetScopeMask(24)

	r.Clear()

	assert.True(t, r.Empty())
	assert.Equal(t, uint8(0), r.ScopeMask())
	v4, v6 := r.Cap()
	assert.Equal(t, 4, v4)
	assert.Equal(t, 2, v6)
}

func TestClearDoesNotAllocate(t *testing.T) {
	r := New(4, 4)
	a := netip.MustParseAddr("192.0.2.1")
	allocs := testing.AllocsPerRun(100, func() {
		r.Clear()
		r.Add(a)
		r.SetScopeMask(16)
	})
	assert.Zero(t, allocs)
}

func TestAppendAndScope(t *testing.T) {
	dst := New(4, 4)
	src := New(4, 4)
	src.Add(netip.MustParseAddr("192.0.2.9"))
	src.SetScopeMask(20)

	dst.SetScopeMask(16)
	dst.Append(src)
	assert.Len(t, dst.V4(), 1)
	assert.Equal(t, uint8(20), dst.ScopeMask())

	cn := New(1, 1)
	cn.SetCNAME("alias.example.net.")
	dst.Append(cn)
	assert.False(t, dst.HasCNAME(), "CNAME must not be mixed into an address result")

	empty := New(1, 1)
	empty.Append(cn)
	assert.Equal(t, "alias.example.net.", empty.CNAME())
}

func TestCopyFrom(t *testing.T) {
	dst := New(2, 2)
	dst.Add(netip.MustParseAddr("198.51.100.1"))
	dst.SetScopeMask(24)

	src := New(2, 2)
	src.Add(netip.MustParseAddr("2001:db8::5"))

	dst.CopyFrom(src)
	assert.Empty(t, dst.V4())
	assert.Len(t, dst.V6(), 1)
	assert.Equal(t, uint8(0), dst.ScopeMask())
}

func TestReset(t *testing.T) {
	r := New(1, 1)
	r.Add(netip.MustParseAddr("192.0.2.1"))
	r.SetCNAME("x.example.")

	r.Reset(3, 1)
	assert.True(t, r.Empty())
	v4, v6 := r.Cap()
	assert.Equal(t, 3, v4)
	assert.Equal(t, 1, v6)

	r.Reset(2, 1)
	v4, _ = r.Cap()
	assert.Equal(t, 2, v4, "capacity shrinks to the declared maximum")
	assert.True(t, r.Add(netip.MustParseAddr("192.0.2.1")))
	assert.True(t, r.Add(netip.MustParseAddr("192.0.2.2")))
	assert.False(t, r.Add(netip.MustParseAddr("192.0.2.3")))
	assert.Equal(t, 1, r.Dropped())
}
