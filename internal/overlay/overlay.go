// Package overlay implements the concrete wiring of spec.md §4.7's overlay
// library contract against go-libp2p: a DHT, gossip pub/sub, a stream-based
// request/response protocol, and an identify listener (AddressBook) that
// filters EUI-64 link-local addresses out of identify results; AddressBook's
// doc comment states what it does not do.
//
// Grounded on the node-setup shape shown across the example pack's libp2p
// consumers (petervdpas/goop2, Klingon-tech/klingnet): a single Host built
// via libp2p.New, a kad-dht instance attached to it, and a gossipsub router
// layered on top.
package overlay

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
	"github.com/p2p-industries/hyveos-sub001/internal/hyvelog"
)

// Overlay bundles the live libp2p host and the sub-systems layered on it. It
// is the concrete type behind the DHT/PubSub/ReqResp/AddressBook sub-actors'
// SendCommand-style entry points.
type Overlay struct {
	Host   host.Host
	DHT    *dht.IpfsDHT
	PubSub *pubsub.PubSub
	Reqres *ReqRes
	Book   *AddressBook
	log    hyvelog.Logger

	topicsMu sync.Mutex
	topics   map[string]*pubsub.Topic
}

// Config is the subset of the daemon config relevant to constructing the
// overlay.
type Config struct {
	PrivateKey     crypto.PrivKey
	ListenAddrs    []string
	BootstrapPeers []peer.AddrInfo
	GossipsubMeshN int
}

// New constructs a libp2p host and attaches the DHT, gossipsub router,
// request/response protocol handler, and identify-driven address book.
func New(ctx context.Context, cfg Config) (*Overlay, error) {
	log := hyvelog.New("component", "overlay")

	opts := []libp2p.Option{
		libp2p.Identity(cfg.PrivateKey),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	}
	if len(cfg.ListenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("overlay: construct host: %w", err)
	}

	kad, err := dht.New(ctx, h, dht.Mode(dht.ModeServer))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("overlay: construct dht: %w", err)
	}

	psOpts := []pubsub.Option{pubsub.WithMessageSigning(true)}
	ps, err := pubsub.NewGossipSub(ctx, h, psOpts...)
	if err != nil {
		kad.Close()
		h.Close()
		return nil, fmt.Errorf("overlay: construct pubsub: %w", err)
	}

	book := newAddressBook(h, log)
	reqres := newReqRes(h, log)

	return &Overlay{
		Host: h, DHT: kad, PubSub: ps, Reqres: reqres, Book: book, log: log,
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

// Bootstrap joins the DHT's bootstrap peers and runs its self-healing
// routing-table refresh (spec §4.3 "bootstrap() → stream" operation);
// completion of each bootstrap query is surfaced on the returned channel,
// one item per query, closed when bootstrapping finishes.
func (o *Overlay) Bootstrap(ctx context.Context, peers []peer.AddrInfo) (<-chan error, error) {
	if err := o.DHT.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("overlay: bootstrap: %w", err)
	}

	out := make(chan error, len(peers))
	var wg sync.WaitGroup
	for _, pi := range peers {
		pi := pi
		wg.Add(1)
		go func() {
			defer wg.Done()
			out <- o.Host.Connect(ctx, pi)
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

// Connect dials addr (a multiaddress string, with or without a trailing
// /p2p/<id> component) for the given peer, used by the neighbour resolver
// to turn a Discovered event into an actual overlay connection once a
// mesh or direct address becomes available (spec §4.2/§4.7).
func (o *Overlay) Connect(ctx context.Context, id hyveid.PeerId, addr string) error {
	if addr == "" {
		return fmt.Errorf("overlay: empty address for peer %s", id)
	}
	p, err := peerIDFromHyveID(id)
	if err != nil {
		return err
	}
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("overlay: parse multiaddr %q: %w", addr, err)
	}
	o.Host.Peerstore().AddAddr(p, maddr, peerstore.TempAddrTTL)
	return o.Host.Connect(ctx, peer.AddrInfo{ID: p, Addrs: []ma.Multiaddr{maddr}})
}

// AddrStrings returns this node's own listen addresses as full
// "<multiaddr>/p2p/<id>" strings, the form the resolver embeds in a
// resolution response's mesh_addr/direct_addr fields.
func (o *Overlay) AddrStrings() []string {
	id := o.Host.ID()
	addrs := o.Host.Addrs()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, id))
	}
	return out
}

// PeerId returns this node's own identity.
func (o *Overlay) PeerId() hyveid.PeerId {
	id, _ := hyveid.PeerIdFromBytes([]byte(o.Host.ID()))
	return id
}

// Close shuts down every layered subsystem and the host itself.
func (o *Overlay) Close() error {
	if o.DHT != nil {
		o.DHT.Close()
	}
	return o.Host.Close()
}
