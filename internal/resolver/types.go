// Package resolver implements the neighbour resolver sub-actor (spec §4.2):
// it reconciles link-layer (MAC) neighbours, observed through the side
// channel, with overlay peer identities via a short resolution protocol,
// and emits an ordered Init/Discovered/Lost event stream per subscriber.
//
// It is grounded on the teacher's swarm/network/hive.go Hive type: the same
// "per-tick ask the table for neighbours, promote/prune, emit events"
// connect loop, generalized from Kademlia peer suggestion to MAC-keyed
// resolution, plus the broadcaster from network/pubsubchannel adapted for
// the ordering guarantees spec §3 demands.
package resolver

import (
	"net"
	"time"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
)

// UnresolvedNeighbour is a link-layer neighbour whose overlay identity is
// not yet known.
type UnresolvedNeighbour struct {
	InterfaceIndex int
	Mac            hyveid.MacAddress
	LastSeen       time.Time
	PendingNonce   uint32
	Attempts       int
}

// ResolvedNeighbour is a MAC neighbour that completed the resolution
// protocol and is now addressable at the overlay layer.
type ResolvedNeighbour struct {
	Peer          hyveid.PeerId
	InterfaceIndex int
	Mac           hyveid.MacAddress
	MeshAddr      string // multiaddress reached via the mesh interface
	DirectAddr    string // multiaddress reached via an ordinary IP interface
	LastSeen      time.Time
}

// Event is one entry in a per-peer Init/Discovered/Lost stream (spec §3
// invariant, §8 scenario 4).
type Event struct {
	Kind EventKind
	// Init carries every currently-resolved peer; Discovered/Lost carry
	// exactly one.
	Peers []hyveid.PeerId
	Peer  hyveid.PeerId
}

type EventKind int

const (
	EventInit EventKind = iota
	EventDiscovered
	EventLost
)

// ResolutionRequest is the unicast packet sent to a neighbour's EUI-64
// derived link-local address to begin resolution (spec §4.2).
type ResolutionRequest struct {
	ID uint32
}

// ResolutionResponse is the matching reply that promotes an entry.
type ResolutionResponse struct {
	ID         uint32
	Peer       hyveid.PeerId
	MeshAddr   string
	DirectAddr string
}

// NeighbourRow is one entry of a side-channel get_neighbours response (spec
// §6).
type NeighbourRow struct {
	InterfaceIndex int
	Mac            hyveid.MacAddress
	LastSeen       time.Duration
	ThroughputKbps *uint32
}

// SideChannel is the contract the resolver needs from the neighbour
// side-channel client (internal/neighside).
type SideChannel interface {
	GetNeighbours(ifIndex int) ([]NeighbourRow, error)
}

// ResolutionTransport sends/receives the unicast resolution packets over the
// mesh interface; UDP6Transport implements it over one UDP6 socket shared by
// all interfaces.
type ResolutionTransport interface {
	SendRequest(ifIndex int, dst net.IP, req ResolutionRequest) error
	// Responses delivers parsed responses as they arrive, tagged with the
	// interface they arrived on.
	Responses() <-chan TransportResponse
}

type TransportResponse struct {
	InterfaceIndex int
	Resp           ResolutionResponse
}

// Params mirrors spec §4.2's named constants.
type Params struct {
	RefreshInterval  time.Duration
	NeighbourTimeout time.Duration
	RequestRetries   int
	RequestTimeout   time.Duration
}

func DefaultParams() Params {
	return Params{
		RefreshInterval:  time.Second,
		NeighbourTimeout: 10 * time.Second,
		RequestRetries:   3,
		RequestTimeout:   2 * time.Second,
	}
}
