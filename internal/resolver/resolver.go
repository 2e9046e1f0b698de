package resolver

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveerr"
	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
	"github.com/p2p-industries/hyveos-sub001/internal/hyvelog"
)

type interfaceKey struct {
	ifIndex int
	mac     hyveid.MacAddress
}

// Resolver is the neighbour resolver sub-actor (spec §4.2). It owns all of
// its state and must only be mutated from the actor loop goroutine; callers
// interact with it through its exported methods, which are safe to call
// from the loop (HandleCommand/HandleEvent) but not concurrently from
// elsewhere, mirroring the "mutable handle only inside handlers" contract
// of spec §4.7.
type Resolver struct {
	params  Params
	side    SideChannel
	transport ResolutionTransport
	log     hyvelog.Logger

	mu sync.Mutex // guards the tables below; broadcaster has its own lock

	unresolved map[interfaceKey]*UnresolvedNeighbour
	resolved   map[interfaceKey]*ResolvedNeighbour
	byPeer     map[hyveid.PeerId]map[interfaceKey]struct{}
	pending    map[uint32]interfaceKey

	broadcaster *Broadcaster
	ownMacs     map[hyveid.MacAddress]struct{} // excluded from address promotion
	interfaces  map[int]bool                   // ifIndex -> up, maintained by ifwatch
}

func New(params Params, side SideChannel, transport ResolutionTransport, interfaces []int) *Resolver {
	up := make(map[int]bool, len(interfaces))
	for _, idx := range interfaces {
		up[idx] = true
	}
	return &Resolver{
		params:      params,
		side:        side,
		transport:   transport,
		log:         hyvelog.New("component", "resolver"),
		unresolved:  make(map[interfaceKey]*UnresolvedNeighbour),
		resolved:    make(map[interfaceKey]*ResolvedNeighbour),
		byPeer:      make(map[hyveid.PeerId]map[interfaceKey]struct{}),
		pending:     make(map[uint32]interfaceKey),
		broadcaster: NewBroadcaster(),
		ownMacs:     make(map[hyveid.MacAddress]struct{}),
		interfaces:  up,
	}
}

// SetInterfaceUp records a link transition reported by ifwatch (spec §4.2's
// refresh loop reacting to interface up/down events): a down interface is
// skipped by the refresh loop rather than polled for a side-channel table
// it no longer has.
func (r *Resolver) SetInterfaceUp(ifIndex int, up bool) {
	r.mu.Lock()
	r.interfaces[ifIndex] = up
	r.mu.Unlock()
}

func (r *Resolver) upInterfaces() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.interfaces))
	for idx, up := range r.interfaces {
		if up {
			out = append(out, idx)
		}
	}
	return out
}

// Subscribe attaches a new subscriber, which immediately observes an Init
// event listing every currently resolved peer (spec §3 invariant).
func (r *Resolver) Subscribe() *EventSubscription {
	r.mu.Lock()
	peers := r.resolvedPeersLocked()
	r.mu.Unlock()
	return r.broadcaster.Subscribe(peers)
}

func (r *Resolver) resolvedPeersLocked() []hyveid.PeerId {
	seen := make(map[hyveid.PeerId]struct{}, len(r.byPeer))
	peers := make([]hyveid.PeerId, 0, len(r.byPeer))
	for p := range r.byPeer {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			peers = append(peers, p)
		}
	}
	return peers
}

// RunRefreshLoop polls the side channel for every configured interface on
// params.RefreshInterval until ctx is cancelled. It is intended to run on a
// dedicated goroutine whose findings are submitted back onto the actor
// loop's command channel in a real daemon; in this package it mutates state
// directly for simplicity, matching hive.go's own connect() loop running
// as its own goroutine outside the strict single-goroutine actor core.
func (r *Resolver) RunRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(r.params.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshOnce()
		}
	}
}

func (r *Resolver) refreshOnce() {
	for _, ifIndex := range r.upInterfaces() {
		rows, err := r.side.GetNeighbours(ifIndex)
		if err != nil {
			r.log.Debug("side channel query failed", "interface", ifIndex, "err", err)
			continue
		}
		r.reconcile(ifIndex, rows)
	}
	r.pruneStale()
}

func (r *Resolver) reconcile(ifIndex int, rows []NeighbourRow) {
	now := time.Now()
	for _, row := range rows {
		key := interfaceKey{ifIndex: ifIndex, mac: row.Mac}

		r.mu.Lock()
		if _, isOwn := r.ownMacs[row.Mac]; isOwn {
			r.mu.Unlock()
			continue
		}
		if res, ok := r.resolved[key]; ok {
			res.LastSeen = now
			r.mu.Unlock()
			continue
		}
		if _, ok := r.unresolved[key]; ok {
			r.mu.Unlock()
			continue
		}
		un := &UnresolvedNeighbour{InterfaceIndex: ifIndex, Mac: row.Mac, LastSeen: now}
		r.unresolved[key] = un
		r.mu.Unlock()

		r.beginResolution(key, un)
	}
}

func (r *Resolver) beginResolution(key interfaceKey, un *UnresolvedNeighbour) {
	nonce := randomNonce()
	r.mu.Lock()
	un.PendingNonce = nonce
	un.Attempts = 0
	r.pending[nonce] = key
	r.mu.Unlock()

	dst := un.Mac.LinkLocalAddr()
	if err := r.transport.SendRequest(key.ifIndex, dst, ResolutionRequest{ID: nonce}); err != nil {
		r.log.Debug("resolution request send failed", "mac", un.Mac, "err", err)
	}
}

// HandleResponse processes a resolution response arriving from the
// transport. The packet protocol MUST reject any response whose id is not
// in the pending table (spec §4.2).
func (r *Resolver) HandleResponse(ifIndex int, resp ResolutionResponse) error {
	r.mu.Lock()
	key, ok := r.pending[resp.ID]
	if !ok || key.ifIndex != ifIndex {
		r.mu.Unlock()
		return hyveerr.Newf(hyveerr.Integrity, "resolver.handle_response", "unknown or mismatched nonce %d", resp.ID)
	}
	delete(r.pending, resp.ID)
	un, ok := r.unresolved[key]
	if !ok {
		r.mu.Unlock()
		return nil // already resolved or pruned concurrently; not an error
	}
	delete(r.unresolved, key)

	firstPathToPeer := len(r.byPeer[resp.Peer]) == 0
	if r.byPeer[resp.Peer] == nil {
		r.byPeer[resp.Peer] = make(map[interfaceKey]struct{})
	}
	r.byPeer[resp.Peer][key] = struct{}{}
	r.resolved[key] = &ResolvedNeighbour{
		Peer:           resp.Peer,
		InterfaceIndex: ifIndex,
		Mac:            un.Mac,
		MeshAddr:       resp.MeshAddr,
		DirectAddr:     resp.DirectAddr,
		LastSeen:       time.Now(),
	}
	r.mu.Unlock()

	if firstPathToPeer {
		r.broadcaster.Publish(Event{Kind: EventDiscovered, Peer: resp.Peer})
	}
	return nil
}

func randomNonce() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func (r *Resolver) pruneStale() {
	now := time.Now()
	var lost []hyveid.PeerId
	var expiredPending []interfaceKey

	r.mu.Lock()
	for key, un := range r.unresolved {
		if un.Attempts >= r.params.RequestRetries {
			delete(r.unresolved, key)
			delete(r.pending, un.PendingNonce)
			expiredPending = append(expiredPending, key)
			continue
		}
	}
	for key, res := range r.resolved {
		if now.Sub(res.LastSeen) <= r.params.NeighbourTimeout {
			continue
		}
		delete(r.resolved, key)
		peerSet := r.byPeer[res.Peer]
		delete(peerSet, key)
		if len(peerSet) == 0 {
			delete(r.byPeer, res.Peer)
			lost = append(lost, res.Peer)
		}
	}
	r.mu.Unlock()

	for _, key := range expiredPending {
		r.log.Debug("resolution attempts exhausted, dropping entry", "interface", key.ifIndex, "mac", key.mac)
	}
	for _, peer := range lost {
		r.broadcaster.Publish(Event{Kind: EventLost, Peer: peer})
	}
}

// RetryPending re-sends resolution requests whose timeout has elapsed,
// bumping their attempt counter; called by a ticker at RequestTimeout
// cadence. Entries exhausting RequestRetries are cleaned up by pruneStale.
func (r *Resolver) RetryPending() {
	type retry struct {
		key interfaceKey
		un  *UnresolvedNeighbour
	}
	var retries []retry

	r.mu.Lock()
	for key, un := range r.unresolved {
		if un.Attempts >= r.params.RequestRetries {
			continue
		}
		un.Attempts++
		retries = append(retries, retry{key: key, un: un})
	}
	r.mu.Unlock()

	for _, rt := range retries {
		dst := rt.un.Mac.LinkLocalAddr()
		if err := r.transport.SendRequest(rt.key.ifIndex, dst, ResolutionRequest{ID: rt.un.PendingNonce}); err != nil {
			r.log.Debug("resolution retry send failed", "mac", rt.un.Mac, "err", err)
		}
	}
}

// MarkOwnMac excludes mac from ever being treated as a neighbour (the
// daemon's own mesh interface MAC, surfaced via the side channel if the
// watcher doesn't pre-filter it).
func (r *Resolver) MarkOwnMac(mac hyveid.MacAddress) {
	r.mu.Lock()
	r.ownMacs[mac] = struct{}{}
	r.mu.Unlock()
}

// ResolvedAddr returns the mesh and direct multiaddresses of one of peer's
// resolved paths (the first found; a peer reachable over several interfaces
// has no distinguished "primary" one), for turning a Discovered event into
// an actual overlay connection.
func (r *Resolver) ResolvedAddr(peer hyveid.PeerId) (mesh, direct string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.byPeer[peer] {
		if res, found := r.resolved[key]; found {
			return res.MeshAddr, res.DirectAddr, true
		}
	}
	return "", "", false
}

func (r *Resolver) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("resolver(resolved=%d unresolved=%d peers=%d)", len(r.resolved), len(r.unresolved), len(r.byPeer))
}
