package resolver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveerr"
	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
)

type fakeSideChannel struct {
	rows []NeighbourRow
}

func (f *fakeSideChannel) GetNeighbours(ifIndex int) ([]NeighbourRow, error) {
	return f.rows, nil
}

// noopTransport satisfies ResolutionTransport without sending anything.
type noopTransport struct{}

func (noopTransport) SendRequest(ifIndex int, dst net.IP, req ResolutionRequest) error { return nil }
func (noopTransport) Responses() <-chan TransportResponse                              { return nil }

func mustMac(t *testing.T, s string) hyveid.MacAddress {
	t.Helper()
	m, err := hyveid.ParseMac(s)
	if err != nil {
		t.Fatalf("ParseMac(%q): %v", s, err)
	}
	return m
}

func firstPendingNonce(r *Resolver) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for nonce := range r.pending {
		return nonce
	}
	return 0
}

func TestResolutionPromotesUnresolvedToResolvedAndEmitsDiscovered(t *testing.T) {
	peer, _ := hyveid.ParsePeerId("peer-A")
	mac := mustMac(t, "aa:bb:cc:dd:ee:ff")

	side := &fakeSideChannel{rows: []NeighbourRow{{InterfaceIndex: 1, Mac: mac, LastSeen: 0}}}
	r := New(DefaultParams(), side, noopTransport{}, []int{1})

	sub := r.Subscribe()
	ev, ok, err := sub.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, EventInit, ev.Kind)
	require.Empty(t, ev.Peers)

	r.refreshOnce()

	require.NoError(t, r.HandleResponse(1, ResolutionResponse{ID: firstPendingNonce(r), Peer: peer}))

	ev, ok, err = sub.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, EventDiscovered, ev.Kind)
	require.True(t, ev.Peer.Equal(peer))
}

func TestHandleResponseRejectsUnknownNonce(t *testing.T) {
	r := New(DefaultParams(), &fakeSideChannel{}, noopTransport{}, []int{1})
	peer, _ := hyveid.ParsePeerId("peer-B")

	err := r.HandleResponse(1, ResolutionResponse{ID: 0xdeadbeef, Peer: peer})
	require.Error(t, err)
	require.Equal(t, hyveerr.Integrity, hyveerr.KindOf(err))
}

func TestHandleResponseRejectsMismatchedInterface(t *testing.T) {
	mac := mustMac(t, "aa:bb:cc:dd:ee:ff")
	side := &fakeSideChannel{rows: []NeighbourRow{{InterfaceIndex: 1, Mac: mac}}}
	r := New(DefaultParams(), side, noopTransport{}, []int{1})
	r.refreshOnce()

	peer, _ := hyveid.ParsePeerId("peer-C")
	err := r.HandleResponse(2, ResolutionResponse{ID: firstPendingNonce(r), Peer: peer})
	require.Error(t, err)
}

func TestMarkOwnMacExcludesFromResolution(t *testing.T) {
	mac := mustMac(t, "aa:bb:cc:dd:ee:ff")
	side := &fakeSideChannel{rows: []NeighbourRow{{InterfaceIndex: 1, Mac: mac}}}
	r := New(DefaultParams(), side, noopTransport{}, []int{1})
	r.MarkOwnMac(mac)

	r.refreshOnce()

	r.mu.Lock()
	defer r.mu.Unlock()
	require.Empty(t, r.unresolved)
	require.Empty(t, r.pending)
}

func TestNeighbourOrderingScenario(t *testing.T) {
	// spec §8 scenario 4: a subscriber attaching after the first
	// appearance and before the first disappearance of a single peer must
	// observe [Init({p}), Lost(p), Discovered(p), Lost(p), Discovered(p), Lost(p)].
	r := New(DefaultParams(), &fakeSideChannel{}, noopTransport{}, nil)
	peer, _ := hyveid.ParsePeerId("peer-P")

	key := interfaceKey{ifIndex: 1, mac: mustMac(t, "01:02:03:04:05:06")}
	r.resolved[key] = &ResolvedNeighbour{Peer: peer, InterfaceIndex: 1, LastSeen: time.Now()}
	r.byPeer[peer] = map[interfaceKey]struct{}{key: {}}

	sub := r.Subscribe()
	ev, ok, err := sub.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, EventInit, ev.Kind)
	require.Len(t, ev.Peers, 1)
	require.True(t, ev.Peers[0].Equal(peer))

	lose := func() {
		r.mu.Lock()
		delete(r.resolved, key)
		delete(r.byPeer, peer)
		r.mu.Unlock()
		r.broadcaster.Publish(Event{Kind: EventLost, Peer: peer})
	}
	discover := func() {
		r.mu.Lock()
		r.resolved[key] = &ResolvedNeighbour{Peer: peer, InterfaceIndex: 1, LastSeen: time.Now()}
		r.byPeer[peer] = map[interfaceKey]struct{}{key: {}}
		r.mu.Unlock()
		r.broadcaster.Publish(Event{Kind: EventDiscovered, Peer: peer})
	}

	lose()
	discover()
	lose()
	discover()
	lose()

	want := []EventKind{EventLost, EventDiscovered, EventLost, EventDiscovered, EventLost}
	for i, k := range want {
		ev, ok, err := sub.Next()
		require.NoErrorf(t, err, "event %d", i)
		require.Truef(t, ok, "event %d", i)
		require.Equalf(t, k, ev.Kind, "event %d", i)
	}
}

func TestMultiInterfacePeerSingleDiscoveredAndLost(t *testing.T) {
	// spec §4.2 edge case: a peer reachable via multiple interfaces
	// produces one Discovered on the first path and one Lost on removal
	// of the last path; intermediate changes are invisible.
	r := New(DefaultParams(), &fakeSideChannel{}, noopTransport{}, nil)
	peer, _ := hyveid.ParsePeerId("peer-multi")

	keyA := interfaceKey{ifIndex: 1, mac: mustMac(t, "01:02:03:04:05:06")}
	keyB := interfaceKey{ifIndex: 2, mac: mustMac(t, "01:02:03:04:05:07")}

	sub := r.Subscribe()
	_, _, _ = sub.Next() // Init

	addPath := func(key interfaceKey) {
		r.mu.Lock()
		firstPath := len(r.byPeer[peer]) == 0
		if r.byPeer[peer] == nil {
			r.byPeer[peer] = make(map[interfaceKey]struct{})
		}
		r.byPeer[peer][key] = struct{}{}
		r.resolved[key] = &ResolvedNeighbour{Peer: peer, InterfaceIndex: key.ifIndex, LastSeen: time.Now()}
		r.mu.Unlock()
		if firstPath {
			r.broadcaster.Publish(Event{Kind: EventDiscovered, Peer: peer})
		}
	}
	removePath := func(key interfaceKey) {
		r.mu.Lock()
		delete(r.resolved, key)
		set := r.byPeer[peer]
		delete(set, key)
		lastPath := len(set) == 0
		if lastPath {
			delete(r.byPeer, peer)
		}
		r.mu.Unlock()
		if lastPath {
			r.broadcaster.Publish(Event{Kind: EventLost, Peer: peer})
		}
	}

	addPath(keyA)
	addPath(keyB)    // second interface: must NOT emit another Discovered
	removePath(keyA) // first interface removed: must NOT emit Lost yet
	removePath(keyB) // last interface removed: must emit Lost

	ev, ok, _ := sub.Next()
	require.True(t, ok)
	require.Equal(t, EventDiscovered, ev.Kind)
	ev, ok, _ = sub.Next()
	require.True(t, ok)
	require.Equal(t, EventLost, ev.Kind)

	select {
	case <-time.After(50 * time.Millisecond):
	case extra := <-sub.ch:
		t.Fatalf("unexpected extra event: %+v", extra)
	}
}

func TestPruneStaleDropsResolvedEntryAfterTimeout(t *testing.T) {
	params := DefaultParams()
	params.NeighbourTimeout = 10 * time.Millisecond
	r := New(params, &fakeSideChannel{}, noopTransport{}, nil)
	peer, _ := hyveid.ParsePeerId("peer-stale")

	key := interfaceKey{ifIndex: 1, mac: mustMac(t, "01:02:03:04:05:06")}
	r.resolved[key] = &ResolvedNeighbour{Peer: peer, InterfaceIndex: 1, LastSeen: time.Now().Add(-time.Hour)}
	r.byPeer[peer] = map[interfaceKey]struct{}{key: {}}

	sub := r.Subscribe()
	_, _, _ = sub.Next() // Init

	r.pruneStale()

	ev, ok, err := sub.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, EventLost, ev.Kind)
	require.True(t, ev.Peer.Equal(peer))

	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.resolved[key]
	require.False(t, exists, "stale resolved entry should have been removed")
}

func TestSetInterfaceUpExcludesDownInterfaceFromRefresh(t *testing.T) {
	mac := mustMac(t, "11:22:33:44:55:66")
	side := &fakeSideChannel{rows: []NeighbourRow{{InterfaceIndex: 1, Mac: mac}}}
	r := New(DefaultParams(), side, noopTransport{}, []int{1})

	r.SetInterfaceUp(1, false)
	r.refreshOnce()

	r.mu.Lock()
	n := len(r.unresolved)
	r.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no neighbours reconciled while interface is down, got %d", n)
	}

	r.SetInterfaceUp(1, true)
	r.refreshOnce()

	r.mu.Lock()
	n = len(r.unresolved)
	r.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected one unresolved neighbour once interface is back up, got %d", n)
	}
}

func TestResolvedAddrReturnsStoredAddresses(t *testing.T) {
	r := New(DefaultParams(), &fakeSideChannel{}, noopTransport{}, nil)
	peer, _ := hyveid.ParsePeerId("peer-addr")
	key := interfaceKey{ifIndex: 1, mac: mustMac(t, "aa:aa:aa:aa:aa:aa")}

	r.mu.Lock()
	r.resolved[key] = &ResolvedNeighbour{Peer: peer, MeshAddr: "/ip6/fe80::1/tcp/4001", DirectAddr: "/ip4/10.0.0.1/tcp/4001"}
	r.byPeer[peer] = map[interfaceKey]struct{}{key: {}}
	r.mu.Unlock()

	mesh, direct, ok := r.ResolvedAddr(peer)
	if !ok || mesh != "/ip6/fe80::1/tcp/4001" || direct != "/ip4/10.0.0.1/tcp/4001" {
		t.Fatalf("unexpected ResolvedAddr result: mesh=%q direct=%q ok=%v", mesh, direct, ok)
	}

	if _, _, ok := r.ResolvedAddr(hyveid.PeerId{}); ok {
		t.Fatal("expected no address for an unresolved peer")
	}
}

func TestBroadcasterOverflowDisconnectsSubscriberWithErrLagged(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe(nil)

	_, ok, _ := sub.Next()
	require.True(t, ok, "expected the initial Init event")

	for i := 0; i < broadcastQueueDepth+1; i++ {
		b.Publish(Event{Kind: EventDiscovered})
	}

	for i := 0; i < broadcastQueueDepth; i++ {
		_, ok, err := sub.Next()
		require.NoErrorf(t, err, "event %d", i)
		require.Truef(t, ok, "event %d", i)
	}

	_, ok, err := sub.Next()
	require.False(t, ok, "expected the subscription to be disconnected after overflow")
	require.Equal(t, ErrLagged, err)
}
