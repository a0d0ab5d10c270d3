package endpoint

import (
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	binding Binding
}

func (p *fakePeer) EndpointBinding() *Binding { return &p.binding }

func TestEndpointEq(t *testing.T) {
	v4 := Endpoint{
		Family: FamilyV4,
		Remote: netip.MustParseAddrPort("192.0.2.1:51820"),
		Source: SourceBinding{Addr: netip.MustParseAddr("203.0.113.5"), IfIndex: 7},
	}
	v4Same := v4
	v4DifferentSrc := v4
	v4DifferentSrc.Source.IfIndex = 9
	none1 := Endpoint{Family: FamilyNone}
	none2 := Endpoint{Family: FamilyNone, Remote: netip.MustParseAddrPort("198.51.100.1:1")}

	tests := []struct {
		name string
		a, b Endpoint
		want bool
	}{
		{"reflexive", v4, v4, true},
		{"equal copies", v4, v4Same, true},
		{"both none regardless of stale fields", none1, none2, true},
		{"different interface index", v4, v4DifferentSrc, false},
		{"different family", v4, Endpoint{Family: FamilyV6}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Eq(tt.b))
			assert.Equal(t, tt.want, tt.b.Eq(tt.a), "Eq must be symmetric")
		})
	}

	// transitivity
	v4Third := v4Same
	require.True(t, v4.Eq(v4Same))
	require.True(t, v4Same.Eq(v4Third))
	assert.True(t, v4.Eq(v4Third))
}

func TestSetPeerEndpoint(t *testing.T) {
	p := &fakePeer{}
	ep := Endpoint{
		Family: FamilyV4,
		Remote: netip.MustParseAddrPort("192.0.2.1:51820"),
		Source: SourceBinding{Addr: netip.MustParseAddr("203.0.113.5"), IfIndex: 7},
	}

	SetPeerEndpoint(p, ep)
	got := Snapshot(p)
	assert.True(t, got.Eq(ep))
	assert.Equal(t, uint32(1), got.UpdateGen)

	genAfterFirst := got.UpdateGen
	SetPeerEndpoint(p, ep)
	got2 := Snapshot(p)
	assert.True(t, got2.Eq(ep))
	assert.LessOrEqual(t, got2.UpdateGen, genAfterFirst+1, "repeated equal SetPeerEndpoint bumps generation at most once")
}

func TestClearPeerEndpointSrc(t *testing.T) {
	p := &fakePeer{}
	ep := Endpoint{
		Family:     FamilyV4,
		Remote:     netip.MustParseAddrPort("192.0.2.1:51820"),
		Source:     SourceBinding{Addr: netip.MustParseAddr("203.0.113.5"), IfIndex: 7},
		RoutingGen: 4,
	}
	SetPeerEndpoint(p, ep)

	ClearPeerEndpointSrc(p)
	got := Snapshot(p)
	assert.False(t, got.Source.IsValid())
	assert.Equal(t, uint32(0), got.RoutingGen)
	assert.False(t, got.Valid(4), "cleared binding must not be reusable against any routing generation")
}

func TestSetPeerEndpointConcurrentEqualWritesAreBenign(t *testing.T) {
	p := &fakePeer{}
	ep := Endpoint{
		Family: FamilyV4,
		Remote: netip.MustParseAddrPort("192.0.2.1:51820"),
		Source: SourceBinding{Addr: netip.MustParseAddr("203.0.113.5"), IfIndex: 7},
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			SetPeerEndpoint(p, ep)
		}()
	}
	wg.Wait()

	assert.True(t, Snapshot(p).Eq(ep))
}
