package overlay

import (
	"fmt"
	"net"

	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
	"github.com/p2p-industries/hyveos-sub001/internal/hyvelog"
)

// AddressBook listens for libp2p identify completions and runs FilterAddrs
// over each peer's listen addresses, dropping any whose interface identifier
// is the EUI-64 expansion of a MAC in the list SetOwnMacFunc supplies (such
// an address is bound to one physical link). It only logs how many addresses
// survive: it stores nothing, and the addresses identify learned stay in
// libp2p's own peerstore unfiltered. Until SetOwnMacFunc is called the MAC
// list is empty and nothing is filtered.
type AddressBook struct {
	host host.Host
	log  hyvelog.Logger

	sub     event.Subscription
	ownMacs func() []hyveid.MacAddress
}

func newAddressBook(h host.Host, log hyvelog.Logger) *AddressBook {
	b := &AddressBook{host: h, log: log, ownMacs: func() []hyveid.MacAddress { return nil }}
	sub, err := h.EventBus().Subscribe(new(event.EvtPeerIdentificationCompleted))
	if err != nil {
		log.Warn("address book: failed to subscribe to identify events", "err", err)
		return b
	}
	b.sub = sub
	go b.run()
	return b
}

// SetOwnMacFunc installs the callback that supplies the MACs whose EUI-64
// link-local addresses the book filters out of identify results.
func (b *AddressBook) SetOwnMacFunc(f func() []hyveid.MacAddress) { b.ownMacs = f }

func (b *AddressBook) run() {
	if b.sub == nil {
		return
	}
	for raw := range b.sub.Out() {
		evt, ok := raw.(event.EvtPeerIdentificationCompleted)
		if !ok {
			continue
		}
		kept := FilterAddrs(evt.ListenAddrs, knownNeighbourMacs(b))
		b.log.Debug("identify completed", "peer", evt.Peer, "addrs", len(evt.ListenAddrs), "kept", len(kept))
	}
}

func knownNeighbourMacs(b *AddressBook) []hyveid.MacAddress {
	if b.ownMacs == nil {
		return nil
	}
	return b.ownMacs()
}

// FilterAddrs drops every address in addrs that is a link-local EUI-64
// address derived from one of macs, returning the rest unchanged.
func FilterAddrs(addrs []ma.Multiaddr, macs []hyveid.MacAddress) []ma.Multiaddr {
	if len(macs) == 0 {
		return addrs
	}
	out := make([]ma.Multiaddr, 0, len(addrs))
	for _, a := range addrs {
		ip, err := manet.ToIP(a)
		if err != nil {
			out = append(out, a)
			continue
		}
		if isEUI64OfAny(ip, macs) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func isEUI64OfAny(ip net.IP, macs []hyveid.MacAddress) bool {
	for _, mac := range macs {
		if mac.IsLinkLocalEUI64(ip) {
			return true
		}
	}
	return false
}

func (b *AddressBook) Close() error {
	if b.sub != nil {
		return b.sub.Close()
	}
	return nil
}

func peerIDFromHyveID(id hyveid.PeerId) (peer.ID, error) {
	if id.IsZero() {
		return "", fmt.Errorf("overlay: zero PeerId")
	}
	b, err := id.Bytes()
	if err != nil {
		return "", fmt.Errorf("overlay: %w", err)
	}
	return peer.ID(b), nil
}
