package main

import (
	"context"
	"net"
	"time"

	"github.com/p2p-industries/hyveos-sub001/internal/debugfanout"
	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
	"github.com/p2p-industries/hyveos-sub001/internal/hyvelog"
	"github.com/p2p-industries/hyveos-sub001/internal/ifwatch"
	"github.com/p2p-industries/hyveos-sub001/internal/neighside"
	"github.com/p2p-industries/hyveos-sub001/internal/overlay"
	"github.com/p2p-industries/hyveos-sub001/internal/resolver"
)

// topologyDebugTopic is the logical debug fan-out topic neighbour
// Discovered/Lost events are mirrored onto, so `hyvectl inspect topology`
// can watch mesh membership change live.
const topologyDebugTopic debugfanout.Topic = "topology"

// neighbourRunner owns every goroutine feeding the neighbour resolver (spec
// §4.2) and reacting to its output: refreshing on a timer, retrying pending
// resolutions, dispatching side-channel responses, watching interface
// up/down transitions, and turning Discovered events into real overlay
// connections.
type neighbourRunner struct {
	resolver  *resolver.Resolver
	transport *resolver.UDP6Transport
	watcher   *ifwatch.Watcher
	ov        *overlay.Overlay
	debug     *debugfanout.Fanout
	log       hyvelog.Logger
}

// newNeighbourRunner resolves the configured interface names to kernel
// indices, wires a UDP6 resolution transport that answers requests with
// this node's own identity and listen addresses, and marks every watched
// interface's own MAC so it's never mistaken for a neighbour.
func newNeighbourRunner(ov *overlay.Overlay, debug *debugfanout.Fanout, names []string, sideChannelSocket string) (*neighbourRunner, error) {
	log := hyvelog.New("component", "neighbours")

	var indices []int
	ownMacs := make(map[hyveid.MacAddress]struct{})
	for _, name := range names {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			log.Warn("configured interface not found, skipping", "name", name, "err", err)
			continue
		}
		indices = append(indices, ifi.Index)
		if mac, err := hyveid.MacFromHardwareAddr(ifi.HardwareAddr); err == nil {
			ownMacs[mac] = struct{}{}
		}
	}

	transport, err := resolver.NewUDP6Transport()
	if err != nil {
		return nil, err
	}

	r := resolver.New(resolver.DefaultParams(), neighside.NewClient(sideChannelSocket), transport, indices)
	for mac := range ownMacs {
		r.MarkOwnMac(mac)
	}

	transport.OnRequest = func(ifIndex int, req resolver.ResolutionRequest) (resolver.ResolutionResponse, bool) {
		addrs := ov.AddrStrings()
		var mesh, direct string
		if len(addrs) > 0 {
			mesh = addrs[0]
		}
		if len(addrs) > 1 {
			direct = addrs[1]
		}
		return resolver.ResolutionResponse{
			ID:         req.ID,
			Peer:       ov.PeerId(),
			MeshAddr:   mesh,
			DirectAddr: direct,
		}, true
	}

	return &neighbourRunner{
		resolver:  r,
		transport: transport,
		watcher:   ifwatch.New(names),
		ov:        ov,
		debug:     debug,
		log:       log,
	}, nil
}

// Run drives the refresh loop, the retry ticker, the response dispatcher,
// the interface watcher, and the event-to-overlay-connect bridge until ctx
// is cancelled.
func (n *neighbourRunner) Run(ctx context.Context) {
	go n.resolver.RunRefreshLoop(ctx)
	go n.runRetryTicker(ctx)
	go n.dispatchResponses(ctx)
	go n.runWatcher(ctx)
	n.dispatchEvents(ctx)
}

func (n *neighbourRunner) Close() error {
	return n.transport.Close()
}

func (n *neighbourRunner) runRetryTicker(ctx context.Context) {
	params := resolver.DefaultParams()
	ticker := time.NewTicker(params.RequestTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.resolver.RetryPending()
		}
	}
}

func (n *neighbourRunner) dispatchResponses(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-n.transport.Responses():
			if !ok {
				return
			}
			if err := n.resolver.HandleResponse(tr.InterfaceIndex, tr.Resp); err != nil {
				n.log.Debug("resolution response rejected", "err", err)
			}
		}
	}
}

func (n *neighbourRunner) runWatcher(ctx context.Context) {
	events := make(chan ifwatch.Event, 16)
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	go func() {
		if err := n.watcher.Run(events, done); err != nil {
			n.log.Debug("interface watcher stopped", "err", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			n.resolver.SetInterfaceUp(ev.InterfaceIndex, ev.Up)
		}
	}
}

// connectDiscovered dials a newly resolved peer over whichever address the
// resolver found first, preferring the mesh address.
func (n *neighbourRunner) connectDiscovered(ctx context.Context, peer hyveid.PeerId) {
	mesh, direct, ok := n.resolver.ResolvedAddr(peer)
	if !ok {
		return
	}
	addr := mesh
	if addr == "" {
		addr = direct
	}
	if err := n.ov.Connect(ctx, peer, addr); err != nil {
		n.log.Debug("failed to connect to discovered neighbour", "peer", peer, "err", err)
		return
	}
	n.log.Info("neighbour discovered", "peer", peer)
}

// dispatchEvents subscribes to the resolver's ordered event stream and
// turns Discovered peers into real overlay connections, mirroring every
// event onto the topology debug topic for hyvectl inspect to observe.
func (n *neighbourRunner) dispatchEvents(ctx context.Context) {
	sub := n.resolver.Subscribe()
	defer sub.Unsubscribe()
	for {
		ev, ok, err := sub.Next()
		if !ok {
			if err != nil {
				n.log.Warn("resolver subscription disconnected", "err", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		n.debug.Publish(topologyDebugTopic, ev)
		if ev.Kind == resolver.EventDiscovered {
			n.connectDiscovered(ctx, ev.Peer)
		}
	}
}
