package flowcache

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"firestige.xyz/hostguard/internal/core"
)

func flow(srcPort uint16) core.FlowKey {
	return core.FlowKey{
		Src: netip.AddrPortFrom(netip.MustParseAddr("10.0.0.2"), srcPort),
		Dst: netip.AddrPortFrom(netip.MustParseAddr("93.184.216.34"), 443),
	}
}

func TestBlockAndLookup(t *testing.T) {
	c := New(time.Minute, time.Minute)

	_, ok := c.Blocked(flow(1000))
	assert.False(t, ok)

	c.Block(flow(1000), "example.com")
	d, ok := c.Blocked(flow(1000))
	assert.True(t, ok)
	assert.Equal(t, "example.com", d)

	_, ok = c.Blocked(flow(1001))
	assert.False(t, ok, "different source port is a different flow")
	assert.Equal(t, 1, c.Len())

	c.Forget(flow(1000))
	_, ok = c.Blocked(flow(1000))
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c := New(20*time.Millisecond, time.Hour)
	c.Block(flow(2000), "example.com")
	time.Sleep(50 * time.Millisecond)

	_, ok := c.Blocked(flow(2000))
	assert.False(t, ok)
}

func TestFlushAndDefaults(t *testing.T) {
	c := New(0, 0)
	assert.Equal(t, DefaultTTL, c.TTL())

	c.Block(flow(1), "a.example")
	c.Block(flow(2), "b.example")
	c.Flush()
	assert.Equal(t, 0, c.Len())
}
